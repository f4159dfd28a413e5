package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Public base URL used when building unsubscribe links.
	BaseURL string

	// Secret for HMAC unsubscribe/action tokens.
	TokenSecret string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (job scheduler + catalog cache)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Email transport: "smtp", "ses" or "log"
	EmailDriver string

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// AWS SES
	AWSRegion    string
	SESFromEmail string

	// Kafka product-update stream (optional; empty brokers disables it)
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Store name shown in notification emails.
	StoreName string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		BaseURL:     "http://localhost:8080",
		TokenSecret: "",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "restock",
		DBPassword: "",
		DBName:     "restock",
		DBSSLMode:  "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		EmailDriver: "log",

		SMTPHost: "localhost",
		SMTPPort: 587,
		SMTPFrom: "noreply@shop.local",

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@shop.local",

		KafkaTopic:   "catalog.product-updates",
		KafkaGroupID: "restock-notifier",

		StoreName: "Our Store",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if url := os.Getenv("BASE_URL"); url != "" {
		cfg.BaseURL = strings.TrimRight(url, "/")
	}

	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")
	if cfg.TokenSecret == "" && cfg.Env == "production" {
		return nil, fmt.Errorf("TOKEN_SECRET is required in production")
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Email transport
	if driver := os.Getenv("EMAIL_DRIVER"); driver != "" {
		switch driver {
		case "smtp", "ses", "log":
			cfg.EmailDriver = driver
		default:
			return nil, fmt.Errorf("invalid EMAIL_DRIVER %q: must be smtp, ses or log", driver)
		}
	}

	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTPHost = host
	}

	if port := os.Getenv("SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.SMTPPort = p
	}

	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.SMTPUsername = user
	}

	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		cfg.SMTPPassword = pass
	}

	if from := os.Getenv("SMTP_FROM"); from != "" {
		cfg.SMTPFrom = from
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// Kafka config
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.KafkaTopic = topic
	}

	if group := os.Getenv("KAFKA_GROUP_ID"); group != "" {
		cfg.KafkaGroupID = group
	}

	if name := os.Getenv("STORE_NAME"); name != "" {
		cfg.StoreName = name
	}

	return cfg, nil
}

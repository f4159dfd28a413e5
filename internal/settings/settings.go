// Package settings holds the runtime tunables of the notification pipeline.
// The pipeline reads a fresh snapshot at every invocation, so values can be
// changed without restarting in-flight work.
package settings

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Settings are the knobs consumed by the validator, listener and sender.
type Settings struct {
	// Enabled gates the whole pipeline; when false, stock events are ignored
	// and queued jobs become no-ops.
	Enabled bool

	// BatchSize is the number of subscribers handled per job invocation.
	BatchSize int

	// Throttle is the inter-message delay. When positive, a batch sends one
	// email and reschedules the rest instead of blocking.
	Throttle time.Duration

	// RateLimitPerIP caps subscription requests per IP per trailing hour.
	// 0 disables the limit.
	RateLimitPerIP int

	// CleanupDays is the retention for notified rows. 0 disables cleanup.
	CleanupDays int

	// GDPRRequired makes the consent checkbox mandatory at intake.
	GDPRRequired bool

	// TriggerStatuses are the stock states that qualify a product for
	// notification dispatch.
	TriggerStatuses []string

	// TrustForwardedFor enables client IP detection from X-Forwarded-For
	// (last hop). Only safe behind a trusted reverse proxy.
	TrustForwardedFor bool

	// ExecBudget bounds one sender invocation; the loop stops near 80% of it
	// and hands the remainder to a follow-up job.
	ExecBudget time.Duration
}

// Provider returns the current settings snapshot.
type Provider func() Settings

// Defaults mirror the shipped defaults of the notifier.
func Defaults() Settings {
	return Settings{
		Enabled:         true,
		BatchSize:       50,
		Throttle:        0,
		RateLimitPerIP:  10,
		CleanupDays:     90,
		GDPRRequired:    false,
		TriggerStatuses: []string{"instock", "onbackorder"},
		ExecBudget:      60 * time.Second,
	}
}

// Clamp forces every value into its legal range, falling back to defaults
// for nonsense input.
func Clamp(s Settings) Settings {
	d := Defaults()

	if s.BatchSize < 1 {
		s.BatchSize = 1
	} else if s.BatchSize > 500 {
		s.BatchSize = 500
	}

	if s.Throttle < 0 {
		s.Throttle = 0
	} else if s.Throttle > time.Hour {
		s.Throttle = time.Hour
	}

	if s.RateLimitPerIP < 0 {
		s.RateLimitPerIP = 0
	} else if s.RateLimitPerIP > 1000 {
		s.RateLimitPerIP = 1000
	}

	if s.CleanupDays < 0 {
		s.CleanupDays = 0
	} else if s.CleanupDays > 365 {
		s.CleanupDays = 365
	}

	if len(s.TriggerStatuses) == 0 {
		s.TriggerStatuses = d.TriggerStatuses
	}

	if s.ExecBudget <= 0 {
		s.ExecBudget = d.ExecBudget
	}

	return s
}

// IsTrigger reports whether a stock status is in the trigger set.
func (s Settings) IsTrigger(status string) bool {
	for _, t := range s.TriggerStatuses {
		if t == status {
			return true
		}
	}
	return false
}

// FromEnv builds a clamped snapshot from environment variables, using
// defaults for anything unset or unparseable.
func FromEnv() Settings {
	s := Defaults()

	if v := os.Getenv("NOTIFY_ENABLED"); v != "" {
		s.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("NOTIFY_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.BatchSize = n
		}
	}
	if v := os.Getenv("NOTIFY_THROTTLE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Throttle = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("NOTIFY_RATE_LIMIT_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.RateLimitPerIP = n
		}
	}
	if v := os.Getenv("NOTIFY_CLEANUP_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.CleanupDays = n
		}
	}
	if v := os.Getenv("NOTIFY_GDPR_REQUIRED"); v != "" {
		s.GDPRRequired = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("NOTIFY_TRIGGER_STATUSES"); v != "" {
		var statuses []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				statuses = append(statuses, t)
			}
		}
		s.TriggerStatuses = statuses
	}
	if v := os.Getenv("NOTIFY_TRUST_FORWARDED_FOR"); v != "" {
		s.TrustForwardedFor = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("NOTIFY_EXEC_BUDGET_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.ExecBudget = time.Duration(n) * time.Second
		}
	}

	return Clamp(s)
}

// Static wraps a fixed snapshot into a Provider.
func Static(s Settings) Provider {
	return func() Settings { return s }
}

// Dynamic holds a swappable snapshot behind an atomic pointer.
type Dynamic struct {
	current atomic.Pointer[Settings]
}

// NewDynamic creates a Dynamic provider seeded with s.
func NewDynamic(s Settings) *Dynamic {
	d := &Dynamic{}
	d.Store(s)
	return d
}

// Store replaces the snapshot (clamped first).
func (d *Dynamic) Store(s Settings) {
	s = Clamp(s)
	d.current.Store(&s)
}

// Provider returns a Provider reading the current snapshot.
func (d *Dynamic) Provider() Provider {
	return func() Settings { return *d.current.Load() }
}

package email

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESConfig for the AWS SES transport.
type SESConfig struct {
	Region string
	From   string
}

// SESTransport delivers via AWS SES.
type SESTransport struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// NewSESTransport creates an SES transport using the default AWS credential
// chain.
func NewSESTransport(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESTransport, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESTransport{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.From,
		logger: logger,
	}, nil
}

// Send delivers one message via SES.
func (t *SESTransport) Send(ctx context.Context, msg *Message) error {
	input := &ses.SendEmailInput{
		Source: aws.String(t.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(msg.HTMLBody),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(msg.TextBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	t.logger.Debug("email sent via ses",
		zap.String("to", msg.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

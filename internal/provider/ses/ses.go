// Package ses implements a Provider that relays messages through AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/captionmail/internal/email"
	"github.com/shineum/captionmail/internal/provider"
)

const defaultTimeout = 15 * time.Second

// Config holds the configuration for creating a SES Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
	Timeout         time.Duration
}

// Provider sends emails via the AWS SES v2 API. Every failure is soft.
// @MX:ANCHOR: [AUTO] External system integration point for AWS SES
// @MX:REASON: Relay delivery flows through this provider when SES is configured
type Provider struct {
	sender  string
	timeout time.Duration
	client  SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a SES Provider. Static credentials are used when both keys are
// set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	// One SendEmail call per attempt.
	opts = append(opts, awsconfig.WithRetryMaxAttempts(1))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, cfg.Timeout, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SES Provider with a custom client, used for testing.
func NewWithClient(sender string, timeout time.Duration, client SendEmailAPI) *Provider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Provider{
		sender:  sender,
		timeout: timeout,
		client:  client,
	}
}

// Name returns "ses".
func (p *Provider) Name() string {
	return "ses"
}

// Kind returns email.ProviderAPIRelay.
func (p *Provider) Kind() email.ProviderKind {
	return email.ProviderAPIRelay
}

// Attempt calls SendEmail once and reports the SES message id.
// Messages with attachments are sent as raw MIME; the rest use the simple format.
func (p *Provider) Attempt(ctx context.Context, msg *email.Message) provider.Result {
	var input *sesv2.SendEmailInput

	if len(msg.Attachments) > 0 {
		rendered, err := email.BuildMIME(p.sender, msg)
		if err != nil {
			return provider.Soft(fmt.Errorf("ses: failed to build raw message: %w", err))
		}
		input = &sesv2.SendEmailInput{
			Content: &types.EmailContent{
				Raw: &types.RawMessage{
					Data: rendered.Data,
				},
			},
		}
	} else {
		input = buildSimpleInput(p.sender, msg)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return provider.Soft(fmt.Errorf("ses: SendEmail failed: %w", err))
	}
	if out == nil || aws.ToString(out.MessageId) == "" {
		return provider.Soft(errors.New("ses: response carried no message id"))
	}

	return provider.Success(aws.ToString(out.MessageId))
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(sender string, msg *email.Message) *sesv2.SendEmailInput {
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(msg.HTMLBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
}

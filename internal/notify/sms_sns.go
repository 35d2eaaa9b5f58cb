package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/havenline/support-ai-platform/pkg/logging"
)

// snsAPI is the subset of the SNS client used by SNSSender.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender delivers counselor pager alerts as direct SMS via AWS SNS.
type SNSSender struct {
	client snsAPI
	logger *logging.Logger
}

// NewSNSSender creates an SNS-backed SMS sender. Returns nil when no client
// is provided so callers can leave the SMS channel unconfigured.
func NewSNSSender(client snsAPI, logger *logging.Logger) *SNSSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SNSSender{client: client, logger: logger}
}

// SendSMS publishes one message directly to a phone number. Transactional
// SMS type keeps crisis alerts out of promotional throttling.
func (s *SNSSender) SendSMS(ctx context.Context, to, body string) error {
	if to == "" {
		return fmt.Errorf("notify: sms recipient required")
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		s.logger.Error("SNS publish failed", "error", err, "to", to)
		return fmt.Errorf("notify: sns publish failed: %w", err)
	}

	s.logger.Info("sms sent via SNS", "to", to, "message_id", aws.ToString(out.MessageId))
	return nil
}

var _ SMSSender = (*SNSSender)(nil)

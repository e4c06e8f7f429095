// internal/notifications/sms/sender.go
package sms

import (
	"context"

	"booking-webhooks/internal/common/errors"
	"booking-webhooks/internal/common/logger"
	"booking-webhooks/internal/common/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSService is the slice of the SNS client the sender needs.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Sender publishes SMS nudges through SNS. Used for organizer "confirm this
// booking" prompts; disabled instances are no-ops.
type Sender struct {
	sns      SNSService
	senderID string
	enabled  bool
	logger   logger.Logger
}

func NewSender(snsClient SNSService, senderID string, enabled bool, log logger.Logger) *Sender {
	return &Sender{
		sns:      snsClient,
		senderID: senderID,
		enabled:  enabled,
		logger:   log.WithFields(map[string]interface{}{"component": "booking-sms"}),
	}
}

func (s *Sender) Send(ctx context.Context, phone, message string) error {
	if !s.enabled || phone == "" {
		return nil
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(message),
	}
	if s.senderID != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(s.senderID),
			},
		}
	}

	if _, err := s.sns.Publish(ctx, input); err != nil {
		metrics.NotificationsSent.WithLabelValues("sms", "failure").Inc()
		s.logger.Error("SMS send failed", map[string]interface{}{
			"error": err.Error(),
		})
		return errors.NewSMSSendFailedError(err)
	}

	metrics.NotificationsSent.WithLabelValues("sms", "success").Inc()
	return nil
}

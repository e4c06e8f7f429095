// internal/notifications/email/mailer.go
package email

import (
	"context"
	"fmt"
	"strings"

	"booking-webhooks/internal/common/errors"
	"booking-webhooks/internal/common/logger"
	"booking-webhooks/internal/common/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESService is the slice of the SES client the mailer needs; tests swap in
// a capture double.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Template kinds for booking lifecycle emails.
const (
	TemplateBookingConfirmed   = "booking_confirmed"
	TemplateBookingRequested   = "booking_requested"
	TemplateAwaitingPayment    = "awaiting_payment"
	TemplateBookingCancelled   = "booking_cancelled"
	TemplateBookingRejected    = "booking_rejected"
	TemplateBookingRescheduled = "booking_rescheduled"
)

type template struct {
	Subject string
	Body    string
}

var defaultTemplates = map[string]template{
	TemplateBookingConfirmed: {
		Subject: "Confirmed: {{title}}",
		Body:    "Your booking \"{{title}}\" is confirmed for {{startTime}}.",
	},
	TemplateBookingRequested: {
		Subject: "Action required: booking request for {{title}}",
		Body:    "{{attendeeName}} requested \"{{title}}\" at {{startTime}}. Confirm or reject it from your dashboard.",
	},
	TemplateAwaitingPayment: {
		Subject: "Payment required: {{title}}",
		Body:    "Your booking \"{{title}}\" at {{startTime}} is held until payment completes.",
	},
	TemplateBookingCancelled: {
		Subject: "Cancelled: {{title}}",
		Body:    "The booking \"{{title}}\" scheduled for {{startTime}} was cancelled. {{reason}}",
	},
	TemplateBookingRejected: {
		Subject: "Declined: {{title}}",
		Body:    "Your booking request \"{{title}}\" for {{startTime}} was declined by the organizer.",
	},
	TemplateBookingRescheduled: {
		Subject: "Rescheduled: {{title}}",
		Body:    "The booking \"{{title}}\" has moved to {{startTime}}.",
	},
}

// Mailer sends booking lifecycle emails through SES. When disabled it is a
// no-op, so callers never need to branch.
type Mailer struct {
	ses       SESService
	fromEmail string
	enabled   bool
	templates map[string]template
	logger    logger.Logger
}

func NewMailer(sesClient SESService, fromEmail string, enabled bool, log logger.Logger) *Mailer {
	return &Mailer{
		ses:       sesClient,
		fromEmail: fromEmail,
		enabled:   enabled,
		templates: defaultTemplates,
		logger:    log.WithFields(map[string]interface{}{"component": "booking-mailer"}),
	}
}

// Send renders the named template with data and emails it to the recipient.
func (m *Mailer) Send(ctx context.Context, templateName, to string, data map[string]interface{}) error {
	if !m.enabled {
		return nil
	}

	tmpl, exists := m.templates[templateName]
	if !exists {
		return fmt.Errorf("email template not found: %s", templateName)
	}

	subject := renderTemplate(tmpl.Subject, data)
	body := renderTemplate(tmpl.Body, data)

	_, err := m.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
				Html: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(m.fromEmail),
	})
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("email", "failure").Inc()
		m.logger.Error("email send failed", map[string]interface{}{
			"template": templateName,
			"to":       to,
			"error":    err.Error(),
		})
		return errors.NewEmailSendFailedError(to, err)
	}

	metrics.NotificationsSent.WithLabelValues("email", "success").Inc()
	m.logger.Info("email sent", map[string]interface{}{
		"template": templateName,
		"to":       to,
	})
	return nil
}

// renderTemplate substitutes {{key}} placeholders and strips any that have
// no value, so missing fields render as empty rather than literal braces.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		value := ""
		if s, ok := v.(string); ok {
			value = s
		} else if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return strings.TrimSpace(result)
}

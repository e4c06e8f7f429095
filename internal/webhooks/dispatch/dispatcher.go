// internal/webhooks/dispatch/dispatcher.go
package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"booking-webhooks/internal/common/httpclient"
	"booking-webhooks/internal/common/logger"
	"booking-webhooks/internal/models"
	"booking-webhooks/internal/webhooks/payload"
)

// Outcome is the per-(subscription, trigger occurrence) delivery result.
// Failures are values here, never errors that propagate: one subscriber's
// outage must not affect others or the caller.
type Outcome struct {
	SubscriptionID string
	Endpoint       string
	Trigger        models.TriggerKind
	StatusCode     int
	Duration       time.Duration
	Err            error
}

// Ok reports whether the delivery succeeded.
func (o Outcome) Ok() bool {
	return o.Err == nil
}

// envelope is the wire shape posted to a subscriber endpoint.
type envelope struct {
	TriggerEvent string          `json:"triggerEvent"`
	CreatedAt    string          `json:"createdAt"`
	Payload      payload.Payload `json:"payload"`
}

// Dispatcher sends one payload to one subscriber endpoint. No retries; the
// per-request timeout comes from the underlying client.
type Dispatcher struct {
	client          *httpclient.Client
	signatureHeader string
	logger          logger.Logger
}

func NewDispatcher(client *httpclient.Client, signatureHeader string, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		client:          client,
		signatureHeader: signatureHeader,
		logger:          log.WithFields(map[string]interface{}{"component": "webhook-dispatcher"}),
	}
}

// Deliver posts the payload to sub's endpoint, signing the body with the
// subscription secret when one is configured. Every failure mode (marshal,
// network, timeout, error status) comes back inside the Outcome.
func (d *Dispatcher) Deliver(ctx context.Context, sub models.Subscription, trigger models.TriggerKind, createdAt time.Time, pl payload.Payload) Outcome {
	outcome := Outcome{
		SubscriptionID: sub.ID,
		Endpoint:       sub.SubscriberURL,
		Trigger:        trigger,
	}

	body, err := json.Marshal(envelope{
		TriggerEvent: string(trigger),
		CreatedAt:    createdAt.UTC().Format(time.RFC3339),
		Payload:      pl,
	})
	if err != nil {
		outcome.Err = fmt.Errorf("marshal payload: %w", err)
		return outcome
	}

	req, err := http.NewRequest(http.MethodPost, sub.SubscriberURL, bytes.NewReader(body))
	if err != nil {
		outcome.Err = fmt.Errorf("build request: %w", err)
		return outcome
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.Secret != "" {
		req.Header.Set(d.signatureHeader, Sign(sub.Secret, body))
	}

	start := time.Now()
	resp, err := d.client.DoWithContext(ctx, req)
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.Err = fmt.Errorf("post %s: %w", sub.SubscriberURL, err)
		return outcome
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the response body itself is of
	// no interest to the dispatcher.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	outcome.StatusCode = resp.StatusCode
	if resp.StatusCode >= http.StatusBadRequest {
		outcome.Err = fmt.Errorf("endpoint %s returned status %d", sub.SubscriberURL, resp.StatusCode)
	}

	return outcome
}

// Sign computes the hex-encoded HMAC-SHA256 of body under secret. Exposed so
// subscribers' test doubles can verify request authenticity the same way.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

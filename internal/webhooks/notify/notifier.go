// internal/webhooks/notify/notifier.go
package notify

import (
	"context"
	"sync"
	"time"

	"booking-webhooks/internal/common/errors"
	"booking-webhooks/internal/common/logger"
	"booking-webhooks/internal/common/metrics"
	"booking-webhooks/internal/common/observability"
	"booking-webhooks/internal/models"
	"booking-webhooks/internal/webhooks/dispatch"
	"booking-webhooks/internal/webhooks/payload"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Resolver returns the active subscriptions matching a trigger occurrence.
type Resolver interface {
	Resolve(ctx context.Context, userID int64, eventTypeID, teamID *int64, trigger models.TriggerKind) ([]models.Subscription, error)
}

// Deliverer sends one payload to one subscriber and reports the outcome as
// a value.
type Deliverer interface {
	Deliver(ctx context.Context, sub models.Subscription, trigger models.TriggerKind, createdAt time.Time, pl payload.Payload) dispatch.Outcome
}

// AuditSink observes delivery outcomes. Optional.
type AuditSink interface {
	Record(ctx context.Context, outcome dispatch.Outcome)
}

// Request is one trigger occurrence to fan out.
type Request struct {
	Trigger       models.TriggerKind
	UserID        int64
	EventTypeID   *int64
	TeamID        *int64
	Event         models.CalendarEvent
	EventTypeInfo payload.EventTypeInfo
	TriggerFields map[string]interface{}
}

// Notifier drives resolver, payload builder and dispatcher for one trigger
// occurrence across all matching subscribers. Webhook dispatch is
// best-effort: nothing that originates from subscriber-facing I/O ever
// reaches the booking write path that called Notify.
type Notifier struct {
	resolver   Resolver
	dispatcher Deliverer
	audit      AuditSink
	obs        *observability.Observability
	logger     logger.Logger
}

func NewNotifier(resolver Resolver, dispatcher Deliverer, audit AuditSink, obs *observability.Observability, log logger.Logger) *Notifier {
	return &Notifier{
		resolver:   resolver,
		dispatcher: dispatcher,
		audit:      audit,
		obs:        obs,
		logger:     log.WithFields(map[string]interface{}{"component": "webhook-notifier"}),
	}
}

// Notify fans req out to every matching subscriber concurrently and waits
// for all attempts to finish before returning, so "Notify returned" always
// means "every subscriber has been attempted". Calling it twice for the
// same occurrence delivers twice; deduplication is the caller's problem.
//
// The only error Notify returns is a payload-construction failure, which
// signals malformed inputs from the caller. Resolution and delivery
// failures are logged and swallowed here.
func (n *Notifier) Notify(ctx context.Context, req Request) error {
	ctx, span := n.startSpan(ctx, req)
	defer span.End()

	pl, err := payload.Build(req.Event, req.EventTypeInfo, req.TriggerFields)
	if err != nil {
		return err
	}

	subs, err := n.resolver.Resolve(ctx, req.UserID, req.EventTypeID, req.TeamID, req.Trigger)
	if err != nil {
		metrics.WebhookResolutionFailures.Inc()
		fields := map[string]interface{}{
			"trigger": string(req.Trigger),
			"userId":  req.UserID,
			"error":   err.Error(),
		}
		if stdErr, ok := err.(*errors.StandardError); ok {
			fields["category"] = errors.GetErrorCategory(stdErr.Code)
		}
		n.logger.Error("subscriber resolution failed, skipping webhook dispatch", fields)
		return nil
	}

	metrics.WebhookSubscribersResolved.WithLabelValues(string(req.Trigger)).Observe(float64(len(subs)))
	if len(subs) == 0 {
		n.logger.Debug("no subscribers for trigger", map[string]interface{}{
			"trigger": string(req.Trigger),
			"userId":  req.UserID,
		})
		return nil
	}

	createdAt := time.Now().UTC()

	// All deliveries are issued before any is awaited, so a hanging endpoint
	// never serializes its siblings behind it.
	var wg sync.WaitGroup
	outcomes := make(chan dispatch.Outcome, len(subs))
	for _, sub := range subs {
		if !sub.Subscribed(req.Trigger) {
			// The resolver query already filters on active + trigger; this
			// guards the invariant against a misbehaving cache or resolver.
			continue
		}
		wg.Add(1)
		go func(sub models.Subscription) {
			defer wg.Done()
			metrics.WebhookDeliveriesInFlight.Inc()
			defer metrics.WebhookDeliveriesInFlight.Dec()
			outcomes <- n.dispatcher.Deliver(ctx, sub, req.Trigger, createdAt, pl)
		}(sub)
	}
	wg.Wait()
	close(outcomes)

	attempted, failed := 0, 0
	for outcome := range outcomes {
		attempted++
		n.record(ctx, outcome)
		if !outcome.Ok() {
			failed++
		}
	}

	n.logger.Info("webhook fan-out complete", map[string]interface{}{
		"trigger":   string(req.Trigger),
		"attempted": attempted,
		"failed":    failed,
	})
	span.SetAttributes(
		attribute.Int("webhooks.attempted", attempted),
		attribute.Int("webhooks.failed", failed),
	)

	return nil
}

func (n *Notifier) record(ctx context.Context, outcome dispatch.Outcome) {
	status := "success"
	if !outcome.Ok() {
		status = "failure"
		n.logger.Error("webhook delivery failed", map[string]interface{}{
			"trigger":        string(outcome.Trigger),
			"subscriptionId": outcome.SubscriptionID,
			"endpoint":       outcome.Endpoint,
			"statusCode":     outcome.StatusCode,
			"error":          outcome.Err.Error(),
		})
	} else {
		n.logger.Debug("webhook delivered", map[string]interface{}{
			"trigger":        string(outcome.Trigger),
			"subscriptionId": outcome.SubscriptionID,
			"statusCode":     outcome.StatusCode,
		})
	}

	metrics.WebhookDeliveries.WithLabelValues(string(outcome.Trigger), status).Inc()
	metrics.WebhookDeliveryDuration.WithLabelValues(string(outcome.Trigger)).Observe(outcome.Duration.Seconds())
	if n.obs != nil {
		n.obs.RecordDelivery(ctx, string(outcome.Trigger), status)
		n.obs.RecordDeliveryDuration(ctx, outcome.Duration, string(outcome.Trigger))
	}
	if n.audit != nil {
		n.audit.Record(ctx, outcome)
	}
}

func (n *Notifier) startSpan(ctx context.Context, req Request) (context.Context, trace.Span) {
	if n.obs == nil {
		return noopSpan(ctx)
	}
	return n.obs.Tracer().Start(ctx, "webhooks.notify",
		trace.WithAttributes(
			attribute.String("webhooks.trigger", string(req.Trigger)),
			attribute.Int64("webhooks.user_id", req.UserID),
		),
	)
}

func noopSpan(ctx context.Context) (context.Context, trace.Span) {
	return trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "webhooks.notify")
}

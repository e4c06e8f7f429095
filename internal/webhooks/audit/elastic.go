// internal/webhooks/audit/elastic.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"booking-webhooks/internal/common/logger"
	"booking-webhooks/internal/webhooks/dispatch"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
)

// ElasticSink indexes delivery outcomes for diagnostics. Best-effort: an
// indexing failure is logged and dropped, it never flows back into the
// dispatch path.
type ElasticSink struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewElasticSink(client *elasticsearch.Client, index string, log logger.Logger) *ElasticSink {
	return &ElasticSink{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "delivery-audit"}),
	}
}

type deliveryDocument struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscriptionId"`
	Endpoint       string `json:"endpoint"`
	Trigger        string `json:"trigger"`
	StatusCode     int    `json:"statusCode"`
	DurationMs     int64  `json:"durationMs"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	Timestamp      string `json:"@timestamp"`
}

func (s *ElasticSink) Record(ctx context.Context, outcome dispatch.Outcome) {
	doc := deliveryDocument{
		ID:             uuid.New().String(),
		SubscriptionID: outcome.SubscriptionID,
		Endpoint:       outcome.Endpoint,
		Trigger:        string(outcome.Trigger),
		StatusCode:     outcome.StatusCode,
		DurationMs:     outcome.Duration.Milliseconds(),
		Success:        outcome.Ok(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	if outcome.Err != nil {
		doc.Error = outcome.Err.Error()
	}

	data, err := json.Marshal(doc)
	if err != nil {
		s.logger.Error("failed to marshal delivery document", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(data),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(doc.ID),
	)
	if err != nil {
		s.logger.Warn("failed to index delivery outcome", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		s.logger.Warn("elasticsearch rejected delivery outcome", map[string]interface{}{
			"status": res.Status(),
		})
	}
}

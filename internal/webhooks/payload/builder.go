// internal/webhooks/payload/builder.go
package payload

import (
	"encoding/json"
	"fmt"
	"strings"

	"booking-webhooks/internal/common/errors"
	"booking-webhooks/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// Payload is the merged event payload delivered to a subscriber. It is
// built fresh per dispatch and treated as read-only afterwards.
type Payload map[string]interface{}

// EventTypeInfo carries the event-type metadata merged into the payload.
// Pointer fields marshal to explicit JSON nulls, so a subscriber can tell
// "not applicable" apart from "not yet fetched": when the source event type
// record is unavailable every key is still present, just null.
type EventTypeInfo struct {
	EventTypeID          *int64  `json:"eventTypeId"`
	Title                *string `json:"title"`
	Description          *string `json:"description"`
	RequiresConfirmation *bool   `json:"requiresConfirmation"`
	Price                *int    `json:"price"`
	Currency             *string `json:"currency"`
	Length               *int    `json:"length"`
}

// InfoFromEventType builds a fully-populated EventTypeInfo from a stored
// event type.
func InfoFromEventType(et *models.EventType) EventTypeInfo {
	if et == nil {
		return EventTypeInfo{}
	}
	return EventTypeInfo{
		EventTypeID:          &et.ID,
		Title:                &et.Title,
		Description:          &et.Description,
		RequiresConfirmation: &et.RequiresConfirmation,
		Price:                &et.Price,
		Currency:             &et.Currency,
		Length:               &et.Length,
	}
}

// Build merges a calendar-event snapshot, event-type metadata and
// trigger-specific fields into one payload. Precedence on key collision:
// trigger fields > event-type info > calendar-event snapshot. The result is
// validated against the payload schema; a validation failure means the
// booking path handed us malformed inputs and is returned as a
// PAYLOAD_VALIDATION_FAILED error rather than being swallowed.
func Build(event models.CalendarEvent, info EventTypeInfo, triggerFields map[string]interface{}) (Payload, error) {
	merged, err := toMap(event)
	if err != nil {
		return nil, errors.NewPayloadValidationFailedError(fmt.Sprintf("calendar event not serializable: %v", err))
	}

	infoMap, err := toMap(info)
	if err != nil {
		return nil, errors.NewPayloadValidationFailedError(fmt.Sprintf("event type info not serializable: %v", err))
	}
	for k, v := range infoMap {
		merged[k] = v
	}

	for k, v := range triggerFields {
		merged[k] = v
	}

	if err := validate(merged); err != nil {
		return nil, err
	}

	return merged, nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// payloadSchema is the construction-time contract for a delivery payload.
// The event-type keys are required but nullable; the snapshot keys must be
// well-formed.
var payloadSchema = map[string]interface{}{
	"type": "object",
	"required": []string{
		"type", "startTime", "endTime", "organizer", "attendees",
		"title", "description", "requiresConfirmation", "price", "currency", "length",
	},
	"properties": map[string]interface{}{
		"type":      map[string]interface{}{"type": "string", "minLength": 1},
		"startTime": map[string]interface{}{"type": "string", "minLength": 1},
		"endTime":   map[string]interface{}{"type": "string", "minLength": 1},
		"organizer": map[string]interface{}{
			"type":     "object",
			"required": []string{"email"},
			"properties": map[string]interface{}{
				"name":     map[string]interface{}{"type": "string"},
				"email":    map[string]interface{}{"type": "string", "minLength": 1},
				"timeZone": map[string]interface{}{"type": "string"},
			},
		},
		"attendees": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type":     "object",
				"required": []string{"email"},
			},
		},
		"title":                map[string]interface{}{"type": []string{"string", "null"}},
		"description":          map[string]interface{}{"type": []string{"string", "null"}},
		"requiresConfirmation": map[string]interface{}{"type": []string{"boolean", "null"}},
		"price":                map[string]interface{}{"type": []string{"number", "null"}},
		"currency":             map[string]interface{}{"type": []string{"string", "null"}},
		"length":               map[string]interface{}{"type": []string{"number", "null"}},
	},
}

func validate(data map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(payloadSchema)
	documentLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errors.NewPayloadValidationFailedError(err.Error())
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return errors.NewPayloadValidationFailedError(strings.Join(details, "; "))
	}

	return nil
}

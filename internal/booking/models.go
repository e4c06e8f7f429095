// internal/booking/models.go
package booking

import (
	"time"

	"booking-webhooks/internal/models"
)

// CreateRequest is the input for creating a booking. The calendar/video
// integration fills Metadata with conferencing details before calling us.
type CreateRequest struct {
	EventTypeID int64                  `json:"eventTypeId"`
	StartTime   time.Time              `json:"startTime"`
	EndTime     time.Time              `json:"endTime"`
	Attendee    models.Person          `json:"attendee"`
	Location    string                 `json:"location,omitempty"`
	Notes       string                 `json:"notes,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RescheduleRequest moves an existing booking to new times.
type RescheduleRequest struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// CancelRequest carries the optional cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// PaymentResult is the payment provider callback input.
type PaymentResult struct {
	BookingID  int64  `json:"bookingId"`
	ExternalID string `json:"externalId"`
	PaymentUID string `json:"paymentUid"`
}

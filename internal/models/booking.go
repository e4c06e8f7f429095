// internal/models/booking.go
package models

import "time"

// BookingStatus is the persisted lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusAccepted  BookingStatus = "ACCEPTED"
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusRejected  BookingStatus = "REJECTED"
)

// Person identifies an organizer or attendee on a calendar event.
type Person struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"timeZone"`
	Phone    string `json:"phone,omitempty"`
}

// CalendarEvent is the snapshot of a booking as delivered to subscribers
// and rendered into notification emails. Times are RFC 3339 strings because
// the snapshot is wire-facing, not a storage record.
type CalendarEvent struct {
	Type        string                 `json:"type"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	StartTime   string                 `json:"startTime"`
	EndTime     string                 `json:"endTime"`
	Organizer   Person                 `json:"organizer"`
	Attendees   []Person               `json:"attendees"`
	Location    string                 `json:"location,omitempty"`
	UID         string                 `json:"uid"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// EventType is the stored template a booking is created from.
type EventType struct {
	ID                   int64
	UserID               int64
	TeamID               *int64
	Title                string
	Description          string
	Length               int // minutes
	RequiresConfirmation bool
	Price                int // smallest currency unit; 0 means free
	Currency             string
}

// PaymentRequired reports whether a booking on this event type must be paid
// before it is considered complete.
func (e EventType) PaymentRequired() bool {
	return e.Price > 0
}

// Booking is the persisted booking record.
type Booking struct {
	ID                int64
	UID               string
	UserID            int64
	EventTypeID       int64
	Title             string
	Description       string
	StartTime         time.Time
	EndTime           time.Time
	Attendee          Person
	Location          string
	Status            BookingStatus
	Paid              bool
	PaymentExternalID string
	Metadata          map[string]interface{}
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

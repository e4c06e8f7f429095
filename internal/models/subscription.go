// internal/models/subscription.go
package models

// TriggerKind enumerates the booking lifecycle events a webhook can subscribe to.
type TriggerKind string

const (
	TriggerBookingCreated          TriggerKind = "BOOKING_CREATED"
	TriggerBookingRequested        TriggerKind = "BOOKING_REQUESTED"
	TriggerBookingPaymentInitiated TriggerKind = "BOOKING_PAYMENT_INITIATED"
	TriggerBookingCancelled        TriggerKind = "BOOKING_CANCELLED"
	TriggerBookingRescheduled      TriggerKind = "BOOKING_RESCHEDULED"
)

// AllTriggers lists every supported trigger kind.
var AllTriggers = []TriggerKind{
	TriggerBookingCreated,
	TriggerBookingRequested,
	TriggerBookingPaymentInitiated,
	TriggerBookingCancelled,
	TriggerBookingRescheduled,
}

// Valid reports whether t is one of the defined trigger kinds.
func (t TriggerKind) Valid() bool {
	switch t {
	case TriggerBookingCreated, TriggerBookingRequested, TriggerBookingPaymentInitiated,
		TriggerBookingCancelled, TriggerBookingRescheduled:
		return true
	}
	return false
}

// Subscription is a stored webhook registration. The dispatcher only ever
// reads subscriptions; they are created and edited by the account owner.
type Subscription struct {
	ID            string        `json:"id"`
	UserID        int64         `json:"userId"`
	TeamID        *int64        `json:"teamId,omitempty"`
	EventTypeID   *int64        `json:"eventTypeId,omitempty"`
	SubscriberURL string        `json:"subscriberUrl"`
	Secret        string        `json:"-"`
	Active        bool          `json:"active"`
	EventTriggers []TriggerKind `json:"eventTriggers"`
	AppID         *string       `json:"appId,omitempty"`
}

// Subscribed reports whether the subscription should fire for trigger:
// it must be active and have the trigger in its enabled set.
func (s Subscription) Subscribed(trigger TriggerKind) bool {
	if !s.Active {
		return false
	}
	for _, t := range s.EventTriggers {
		if t == trigger {
			return true
		}
	}
	return false
}

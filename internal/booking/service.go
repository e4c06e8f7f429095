// internal/booking/service.go
package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	stderrors "errors"

	"booking-webhooks/internal/common/errors"
	"booking-webhooks/internal/common/logger"
	"booking-webhooks/internal/common/metrics"
	"booking-webhooks/internal/models"
	"booking-webhooks/internal/notifications/email"
	"booking-webhooks/internal/webhooks/notify"
	"booking-webhooks/internal/webhooks/payload"

	"github.com/google/uuid"
)

// WebhookNotifier fans a trigger occurrence out to subscribers. The booking
// path calls it at most once per state transition.
type WebhookNotifier interface {
	Notify(ctx context.Context, req notify.Request) error
}

// Mailer sends a templated booking email.
type Mailer interface {
	Send(ctx context.Context, templateName, to string, data map[string]interface{}) error
}

// SMSSender sends a short text nudge.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

// Service owns booking state transitions. Status is decided by the event
// type's confirmation and payment requirements; every transition fires its
// webhook trigger and notification emails, none of which can fail the
// transition itself.
type Service struct {
	db       *sql.DB
	notifier WebhookNotifier
	mailer   Mailer
	sms      SMSSender
	logger   logger.Logger
}

func NewService(db *sql.DB, notifier WebhookNotifier, mailer Mailer, smsSender SMSSender, log logger.Logger) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		mailer:   mailer,
		sms:      smsSender,
		logger:   log.WithFields(map[string]interface{}{"component": "booking-service"}),
	}
}

// Create books a slot on an event type. Free, no-confirmation event types go
// straight to ACCEPTED; confirmation-required and paid ones start PENDING.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	eventType, err := s.getEventType(ctx, req.EventTypeID)
	if err != nil {
		return nil, err
	}

	status := models.BookingStatusAccepted
	if eventType.RequiresConfirmation || eventType.PaymentRequired() {
		status = models.BookingStatusPending
	}

	booking := &models.Booking{
		UID:         uuid.New().String(),
		UserID:      eventType.UserID,
		EventTypeID: eventType.ID,
		Title:       eventType.Title,
		Description: req.Notes,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		Attendee:    req.Attendee,
		Location:    req.Location,
		Status:      status,
		Metadata:    req.Metadata,
	}
	if err := s.insertBooking(ctx, booking); err != nil {
		return nil, err
	}

	trigger := models.TriggerBookingCreated
	switch {
	case eventType.PaymentRequired():
		trigger = models.TriggerBookingPaymentInitiated
	case eventType.RequiresConfirmation:
		trigger = models.TriggerBookingRequested
	}
	metrics.BookingTransitions.WithLabelValues("create", string(status)).Inc()

	organizer := s.getOrganizer(ctx, eventType.UserID)

	switch trigger {
	case models.TriggerBookingPaymentInitiated:
		s.sendEmail(ctx, email.TemplateAwaitingPayment, req.Attendee.Email, booking, "")
	case models.TriggerBookingRequested:
		s.sendEmail(ctx, email.TemplateBookingRequested, organizer.Email, booking, "")
		s.sendNudge(ctx, organizer.Phone, booking)
	default:
		s.sendEmail(ctx, email.TemplateBookingConfirmed, organizer.Email, booking, "")
		s.sendEmail(ctx, email.TemplateBookingConfirmed, req.Attendee.Email, booking, "")
	}

	s.fireWebhook(ctx, trigger, booking, eventType, organizer, nil)
	return booking, nil
}

// Confirm moves a PENDING booking to ACCEPTED and fires BOOKING_CREATED.
func (s *Service) Confirm(ctx context.Context, bookingID int64) (*models.Booking, error) {
	booking, eventType, err := s.getBookingWithEventType(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusPending {
		return nil, errors.NewInvalidBookingStateError(bookingID, string(booking.Status), "confirm")
	}

	if err := s.updateStatus(ctx, bookingID, models.BookingStatusAccepted); err != nil {
		return nil, err
	}
	booking.Status = models.BookingStatusAccepted
	metrics.BookingTransitions.WithLabelValues("confirm", string(booking.Status)).Inc()

	organizer := s.getOrganizer(ctx, booking.UserID)
	s.sendEmail(ctx, email.TemplateBookingConfirmed, booking.Attendee.Email, booking, "")
	s.fireWebhook(ctx, models.TriggerBookingCreated, booking, eventType, organizer, nil)
	return booking, nil
}

// Reject declines a PENDING booking. No webhook fires for rejections; the
// attendee learns by email.
func (s *Service) Reject(ctx context.Context, bookingID int64) (*models.Booking, error) {
	booking, _, err := s.getBookingWithEventType(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusPending {
		return nil, errors.NewInvalidBookingStateError(bookingID, string(booking.Status), "reject")
	}

	if err := s.updateStatus(ctx, bookingID, models.BookingStatusRejected); err != nil {
		return nil, err
	}
	booking.Status = models.BookingStatusRejected
	metrics.BookingTransitions.WithLabelValues("reject", string(booking.Status)).Inc()

	s.sendEmail(ctx, email.TemplateBookingRejected, booking.Attendee.Email, booking, "")
	return booking, nil
}

// Cancel cancels a booking in any non-terminal state.
func (s *Service) Cancel(ctx context.Context, bookingID int64, req CancelRequest) (*models.Booking, error) {
	booking, eventType, err := s.getBookingWithEventType(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.BookingStatusCancelled || booking.Status == models.BookingStatusRejected {
		return nil, errors.NewInvalidBookingStateError(bookingID, string(booking.Status), "cancel")
	}

	if err := s.updateStatus(ctx, bookingID, models.BookingStatusCancelled); err != nil {
		return nil, err
	}
	booking.Status = models.BookingStatusCancelled
	metrics.BookingTransitions.WithLabelValues("cancel", string(booking.Status)).Inc()

	organizer := s.getOrganizer(ctx, booking.UserID)
	s.sendEmail(ctx, email.TemplateBookingCancelled, organizer.Email, booking, req.Reason)
	s.sendEmail(ctx, email.TemplateBookingCancelled, booking.Attendee.Email, booking, req.Reason)
	s.fireWebhook(ctx, models.TriggerBookingCancelled, booking, eventType, organizer, map[string]interface{}{
		"cancellationReason": req.Reason,
	})
	return booking, nil
}

// Reschedule moves a booking to new times and fires BOOKING_RESCHEDULED.
func (s *Service) Reschedule(ctx context.Context, bookingID int64, req RescheduleRequest) (*models.Booking, error) {
	booking, eventType, err := s.getBookingWithEventType(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.BookingStatusCancelled || booking.Status == models.BookingStatusRejected {
		return nil, errors.NewInvalidBookingStateError(bookingID, string(booking.Status), "reschedule")
	}

	previousStart := booking.StartTime
	if err := s.updateTimes(ctx, bookingID, req.StartTime.UTC(), req.EndTime.UTC()); err != nil {
		return nil, err
	}
	booking.StartTime = req.StartTime.UTC()
	booking.EndTime = req.EndTime.UTC()
	metrics.BookingTransitions.WithLabelValues("reschedule", string(booking.Status)).Inc()

	organizer := s.getOrganizer(ctx, booking.UserID)
	s.sendEmail(ctx, email.TemplateBookingRescheduled, organizer.Email, booking, "")
	s.sendEmail(ctx, email.TemplateBookingRescheduled, booking.Attendee.Email, booking, "")
	s.fireWebhook(ctx, models.TriggerBookingRescheduled, booking, eventType, organizer, map[string]interface{}{
		"previousStartTime": previousStart.Format(time.RFC3339),
	})
	return booking, nil
}

// HandlePaymentSucceeded records a completed payment. If the event type also
// requires confirmation the booking stays PENDING and BOOKING_REQUESTED
// fires; otherwise it is accepted and BOOKING_CREATED fires.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, result PaymentResult) (*models.Booking, error) {
	booking, eventType, err := s.getBookingWithEventType(ctx, result.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusPending {
		return nil, errors.NewInvalidBookingStateError(result.BookingID, string(booking.Status), "payment")
	}

	if err := s.markPaid(ctx, result.BookingID, result.ExternalID); err != nil {
		return nil, err
	}
	booking.Paid = true
	booking.PaymentExternalID = result.ExternalID

	trigger := models.TriggerBookingCreated
	organizer := s.getOrganizer(ctx, booking.UserID)
	if eventType != nil && eventType.RequiresConfirmation {
		// Payment is in; the organizer still has to confirm.
		trigger = models.TriggerBookingRequested
		s.sendEmail(ctx, email.TemplateBookingRequested, organizer.Email, booking, "")
		s.sendNudge(ctx, organizer.Phone, booking)
	} else {
		if err := s.updateStatus(ctx, result.BookingID, models.BookingStatusAccepted); err != nil {
			return nil, err
		}
		booking.Status = models.BookingStatusAccepted
		s.sendEmail(ctx, email.TemplateBookingConfirmed, booking.Attendee.Email, booking, "")
	}
	metrics.BookingTransitions.WithLabelValues("payment", string(booking.Status)).Inc()

	s.fireWebhook(ctx, trigger, booking, eventType, organizer, map[string]interface{}{
		"paymentId":  result.PaymentUID,
		"externalId": result.ExternalID,
		"paid":       true,
	})
	return booking, nil
}

// fireWebhook builds the trigger occurrence and hands it to the notifier.
// A returned error means we fed the notifier malformed inputs; it is logged
// loudly but still cannot fail the booking transition that already
// committed.
func (s *Service) fireWebhook(ctx context.Context, trigger models.TriggerKind, booking *models.Booking, eventType *models.EventType, organizer models.Person, extra map[string]interface{}) {
	fields := map[string]interface{}{
		"bookingId":  booking.ID,
		"bookingUid": booking.UID,
		"status":     string(booking.Status),
	}
	for k, v := range extra {
		fields[k] = v
	}

	req := notify.Request{
		Trigger:       trigger,
		UserID:        booking.UserID,
		EventTypeID:   &booking.EventTypeID,
		Event:         s.buildCalendarEvent(booking, organizer),
		EventTypeInfo: payload.InfoFromEventType(eventType),
		TriggerFields: fields,
	}
	if eventType != nil {
		req.TeamID = eventType.TeamID
	}

	if err := s.notifier.Notify(ctx, req); err != nil {
		s.logger.Error("webhook payload rejected, subscribers not notified", map[string]interface{}{
			"trigger":   string(trigger),
			"bookingId": booking.ID,
			"error":     err.Error(),
		})
	}
}

func (s *Service) buildCalendarEvent(booking *models.Booking, organizer models.Person) models.CalendarEvent {
	return models.CalendarEvent{
		Type:        booking.Title,
		Title:       booking.Title,
		Description: booking.Description,
		StartTime:   booking.StartTime.Format(time.RFC3339),
		EndTime:     booking.EndTime.Format(time.RFC3339),
		Organizer:   organizer,
		Attendees:   []models.Person{booking.Attendee},
		Location:    booking.Location,
		UID:         booking.UID,
		Metadata:    booking.Metadata,
	}
}

func (s *Service) sendEmail(ctx context.Context, templateName, to string, booking *models.Booking, reason string) {
	if s.mailer == nil || to == "" {
		return
	}
	data := map[string]interface{}{
		"title":        booking.Title,
		"startTime":    booking.StartTime.Format(time.RFC3339),
		"attendeeName": booking.Attendee.Name,
	}
	if reason != "" {
		data["reason"] = "Reason: " + reason
	}
	if err := s.mailer.Send(ctx, templateName, to, data); err != nil {
		s.logger.Warn("booking email failed", map[string]interface{}{
			"template":  templateName,
			"bookingId": booking.ID,
			"error":     err.Error(),
		})
	}
}

func (s *Service) sendNudge(ctx context.Context, phone string, booking *models.Booking) {
	if s.sms == nil || phone == "" {
		return
	}
	msg := "New booking request: " + booking.Title + " at " + booking.StartTime.Format(time.RFC3339) + ". Confirm from your dashboard."
	if err := s.sms.Send(ctx, phone, msg); err != nil {
		s.logger.Warn("booking SMS failed", map[string]interface{}{
			"bookingId": booking.ID,
			"error":     err.Error(),
		})
	}
}

// --- storage ---

func (s *Service) getEventType(ctx context.Context, id int64) (*models.EventType, error) {
	var et models.EventType
	query := `SELECT id, user_id, team_id, title, description, length, requires_confirmation, price, currency
	          FROM event_types WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&et.ID, &et.UserID, &et.TeamID, &et.Title, &et.Description,
		&et.Length, &et.RequiresConfirmation, &et.Price, &et.Currency,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewEventTypeNotFoundError(id)
		}
		return nil, errors.NewQueryExecutionFailedError("get event type", err)
	}
	return &et, nil
}

// getOrganizer is best-effort: a missing user row degrades the snapshot, it
// does not block the booking.
func (s *Service) getOrganizer(ctx context.Context, userID int64) models.Person {
	var p models.Person
	var phone sql.NullString
	query := `SELECT name, email, time_zone, phone FROM users WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&p.Name, &p.Email, &p.TimeZone, &phone)
	if err != nil {
		s.logger.Warn("organizer lookup failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return models.Person{}
	}
	p.Phone = phone.String
	return p
}

func (s *Service) insertBooking(ctx context.Context, b *models.Booking) error {
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return errors.NewQueryExecutionFailedError("marshal booking metadata", err)
	}
	query := `INSERT INTO bookings
	          (uid, user_id, event_type_id, title, description, start_time, end_time,
	           attendee_name, attendee_email, attendee_timezone, location, status, paid, metadata)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	          RETURNING id, created_at`
	err = s.db.QueryRowContext(ctx, query,
		b.UID, b.UserID, b.EventTypeID, b.Title, b.Description, b.StartTime, b.EndTime,
		b.Attendee.Name, b.Attendee.Email, b.Attendee.TimeZone, b.Location, string(b.Status), b.Paid, metadata,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("insert booking", err)
	}
	return nil
}

func (s *Service) getBookingWithEventType(ctx context.Context, id int64) (*models.Booking, *models.EventType, error) {
	var b models.Booking
	var status string
	var metadata []byte
	query := `SELECT id, uid, user_id, event_type_id, title, description, start_time, end_time,
	                 attendee_name, attendee_email, attendee_timezone, location, status, paid, metadata
	          FROM bookings WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.UID, &b.UserID, &b.EventTypeID, &b.Title, &b.Description, &b.StartTime, &b.EndTime,
		&b.Attendee.Name, &b.Attendee.Email, &b.Attendee.TimeZone, &b.Location, &status, &b.Paid, &metadata,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil, errors.NewBookingNotFoundError(id)
		}
		return nil, nil, errors.NewQueryExecutionFailedError("get booking", err)
	}
	b.Status = models.BookingStatus(status)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &b.Metadata)
	}

	// The event type may have been deleted since booking; the webhook payload
	// then carries explicit nulls for its fields.
	eventType, err := s.getEventType(ctx, b.EventTypeID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeEventTypeNotFound) {
			return &b, nil, nil
		}
		return nil, nil, err
	}
	return &b, eventType, nil
}

func (s *Service) updateStatus(ctx context.Context, id int64, status models.BookingStatus) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id); err != nil {
		return errors.NewQueryExecutionFailedError("update booking status", err)
	}
	return nil
}

func (s *Service) updateTimes(ctx context.Context, id int64, start, end time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET start_time = $1, end_time = $2, updated_at = NOW() WHERE id = $3`, start, end, id); err != nil {
		return errors.NewQueryExecutionFailedError("update booking times", err)
	}
	return nil
}

func (s *Service) markPaid(ctx context.Context, id int64, externalID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET paid = TRUE, payment_external_id = $1, updated_at = NOW() WHERE id = $2`, externalID, id); err != nil {
		return errors.NewQueryExecutionFailedError("mark booking paid", err)
	}
	return nil
}

// Package appointment implements the appointment entity, its lifecycle
// state machine and the booking admission path.
package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents appointment status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Blocking reports whether an appointment in this status occupies its slot.
// Only non-terminal appointments block; a cancelled appointment frees its
// interval for rebooking.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusConfirmed
}

// BlockingStatuses are the statuses considered by conflict detection.
var BlockingStatuses = []Status{StatusPending, StatusConfirmed}

// Type represents how the appointment is held.
type Type string

const (
	TypeInPerson Type = "IN_PERSON"
	TypeVideo    Type = "VIDEO"
	TypePhone    Type = "PHONE"
)

// PaymentStatus represents the payment state of the appointment fee.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
	PaymentFailed   PaymentStatus = "FAILED"
)

// Duration bounds in minutes.
const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 180
)

// Common errors returned by the booking and lifecycle paths.
var (
	// ErrSlotUnavailable means the requested interval conflicts with an
	// existing non-terminal appointment or falls outside an open working
	// window. The caller must pick a different slot.
	ErrSlotUnavailable = errors.New("requested slot is not available")

	// ErrInvalidTransition means the lifecycle transition is not permitted
	// from the appointment's current status. Always a caller bug or a
	// stale-state race; never silently coerced.
	ErrInvalidTransition = errors.New("invalid appointment status transition")

	// ErrBookingConflict means the exclusivity mechanism detected a lost
	// race between concurrent bookings. The admission path retries the
	// conflict check once before surfacing ErrSlotUnavailable.
	ErrBookingConflict = errors.New("concurrent booking conflict")

	// ErrNotFound means no appointment exists with the given id.
	ErrNotFound = errors.New("appointment not found")

	// ErrInvalidAppointment means the appointment fails field validation.
	ErrInvalidAppointment = errors.New("invalid appointment")
)

// Appointment is the booking record. It is created on successful admission,
// mutated only through lifecycle transitions, and never physically deleted.
type Appointment struct {
	ID                 uuid.UUID     `json:"id"`
	DoctorID           uuid.UUID     `json:"doctor_id"`
	PatientID          uuid.UUID     `json:"patient_id"`
	Type               Type          `json:"appointment_type"`
	ScheduledAt        time.Time     `json:"scheduled_at"`
	DurationMinutes    int           `json:"duration_minutes"`
	Reason             string        `json:"reason"`
	Notes              string        `json:"notes,omitempty"`
	Fee                float64       `json:"fee"`
	Status             Status        `json:"status"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	FeedbackSubmitted  bool          `json:"feedback_submitted"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// End returns the exclusive end of the appointment interval.
func (a *Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Validate checks field-level invariants.
func (a *Appointment) Validate() error {
	if a.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor id is required", ErrInvalidAppointment)
	}
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient id is required", ErrInvalidAppointment)
	}
	if a.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", ErrInvalidAppointment)
	}
	if a.DurationMinutes < MinDurationMinutes || a.DurationMinutes > MaxDurationMinutes {
		return fmt.Errorf("%w: duration %d outside [%d, %d] minutes",
			ErrInvalidAppointment, a.DurationMinutes, MinDurationMinutes, MaxDurationMinutes)
	}
	if a.Fee < 0 {
		return fmt.Errorf("%w: fee must not be negative", ErrInvalidAppointment)
	}
	switch a.Type {
	case TypeInPerson, TypeVideo, TypePhone:
	default:
		return fmt.Errorf("%w: unknown appointment type %q", ErrInvalidAppointment, a.Type)
	}
	return nil
}

// transitions is the lifecycle state machine: PENDING -> CONFIRMED ->
// COMPLETED | NO_SHOW, with CANCELLED reachable from any non-terminal
// status. Terminal statuses permit nothing.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusNoShow, StatusCancelled},
}

// CanTransition reports whether the state machine allows moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// checkTransition returns ErrInvalidTransition when the move is not
// permitted from the appointment's current status.
func (a *Appointment) checkTransition(to Status) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	return nil
}

package appointment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

const (
	EventAppointmentBooked      EventType = "AppointmentBooked"
	EventAppointmentConfirmed   EventType = "AppointmentConfirmed"
	EventAppointmentRescheduled EventType = "AppointmentRescheduled"
	EventAppointmentCancelled   EventType = "AppointmentCancelled"
	EventAppointmentCompleted   EventType = "AppointmentCompleted"
	EventAppointmentNoShow      EventType = "AppointmentNoShow"

	// Outbound intents fulfilled by the payment collaborator.
	EventRefundRequested    EventType = "RefundRequested"
	EventFeeChargeRequested EventType = "FeeChargeRequested"
)

// Event is a domain event recorded with the state change that produced it
// and published through the transactional outbox.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	DoctorID      uuid.UUID       `json:"doctor_id"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent creates a new event for the appointment.
func NewEvent(appt *Appointment, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// BookedData records the admission details.
type BookedData struct {
	AppointmentID   string    `json:"appointment_id"`
	DoctorID        string    `json:"doctor_id"`
	PatientID       string    `json:"patient_id"`
	AppointmentType Type      `json:"appointment_type"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Fee             float64   `json:"fee"`
}

// CancelledData records the cancellation details alongside the policy
// outcome so the fee and refund decisions are independently auditable.
type CancelledData struct {
	AppointmentID string    `json:"appointment_id"`
	Reason        string    `json:"reason"`
	CancelledAt   time.Time `json:"cancelled_at"`
	ByProvider    bool      `json:"by_provider"`
	FeeApplies    bool      `json:"fee_applies"`
	RefundIssued  bool      `json:"refund_issued"`
}

// RescheduledData records a slot move.
type RescheduledData struct {
	AppointmentID  string    `json:"appointment_id"`
	OldScheduledAt time.Time `json:"old_scheduled_at"`
	NewScheduledAt time.Time `json:"new_scheduled_at"`
	OldDuration    int       `json:"old_duration_minutes"`
	NewDuration    int       `json:"new_duration_minutes"`
}

// StatusChangedData records a plain status transition.
type StatusChangedData struct {
	AppointmentID string    `json:"appointment_id"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
	ChangedAt     time.Time `json:"changed_at"`
}

// PaymentIntentData is the payload for refund and fee-charge intents. The
// amount is the full appointment fee; deduction mechanics belong to the
// payment collaborator.
type PaymentIntentData struct {
	AppointmentID string  `json:"appointment_id"`
	PatientID     string  `json:"patient_id"`
	Amount        float64 `json:"amount"`
}

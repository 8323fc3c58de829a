// Package obligation derives the deferred side effects an appointment
// produces: reminders and notifications with target fire-times. The core
// only records these obligations; an external delivery collaborator fires
// them at their scheduled time.
package obligation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes time-triggered reminders from immediate notifications.
type Kind string

const (
	KindReminder     Kind = "reminder"
	KindNotification Kind = "notification"
)

// Channel is the delivery channel requested for an obligation.
type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelSMS    Channel = "sms"
	ChannelSystem Channel = "system"
)

// DeliveryStatus tracks the obligation through delivery. The pending->sent
// transition is the idempotency guard: firing an obligation twice is a
// no-op because only a pending obligation can be claimed.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusCancelled DeliveryStatus = "cancelled"
)

// Obligation is one deferred reminder or notification owed for an
// appointment. Cancelled obligations are retained, never deleted.
type Obligation struct {
	ID            uuid.UUID      `json:"id"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	RecipientID   uuid.UUID      `json:"recipient_id"`
	Kind          Kind           `json:"kind"`
	Channel       Channel        `json:"channel"`
	FireAt        time.Time      `json:"fire_at"`
	Message       string         `json:"message"`
	Status        DeliveryStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
}

// Reminder lead times relative to the appointment start.
const (
	emailReminderLead = 24 * time.Hour
	smsReminderLead   = 2 * time.Hour
)

// RemindersFor deterministically yields the reminder pair for an
// appointment: T-24h by email and T-2h by SMS, both addressed to the
// patient, with messages parameterized by the appointment's local time.
func RemindersFor(appointmentID, patientID uuid.UUID, scheduledAt time.Time, loc *time.Location) []Obligation {
	if loc == nil {
		loc = time.UTC
	}
	local := scheduledAt.In(loc).Format("15:04")
	now := time.Now().UTC()

	return []Obligation{
		{
			ID:            uuid.New(),
			AppointmentID: appointmentID,
			RecipientID:   patientID,
			Kind:          KindReminder,
			Channel:       ChannelEmail,
			FireAt:        scheduledAt.Add(-emailReminderLead),
			Message:       fmt.Sprintf("Reminder: you have an appointment tomorrow at %s", local),
			Status:        StatusPending,
			CreatedAt:     now,
		},
		{
			ID:            uuid.New(),
			AppointmentID: appointmentID,
			RecipientID:   patientID,
			Kind:          KindReminder,
			Channel:       ChannelSMS,
			FireAt:        scheduledAt.Add(-smsReminderLead),
			Message:       fmt.Sprintf("Reminder: your appointment starts in two hours, at %s", local),
			Status:        StatusPending,
			CreatedAt:     now,
		},
	}
}

// notificationAt builds an immediate notification obligation.
func notificationAt(appointmentID, recipientID uuid.UUID, channel Channel, message string) Obligation {
	now := time.Now().UTC()
	return Obligation{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		RecipientID:   recipientID,
		Kind:          KindNotification,
		Channel:       channel,
		FireAt:        now,
		Message:       message,
		Status:        StatusPending,
		CreatedAt:     now,
	}
}

// BookingNotifications yields the notifications issued when an appointment
// is created: email to the patient, system notification to the doctor.
func BookingNotifications(appointmentID, patientID, doctorID uuid.UUID, scheduledAt time.Time) []Obligation {
	when := scheduledAt.UTC().Format("2006-01-02 15:04")
	return []Obligation{
		notificationAt(appointmentID, patientID, ChannelEmail,
			fmt.Sprintf("Your appointment for %s has been booked", when)),
		notificationAt(appointmentID, doctorID, ChannelSystem,
			fmt.Sprintf("A new appointment was booked for %s", when)),
	}
}

// CancellationNotifications yields the notifications issued on cancellation.
func CancellationNotifications(appointmentID, patientID, doctorID uuid.UUID, scheduledAt time.Time) []Obligation {
	when := scheduledAt.UTC().Format("2006-01-02 15:04")
	return []Obligation{
		notificationAt(appointmentID, patientID, ChannelEmail,
			fmt.Sprintf("Your appointment for %s has been cancelled", when)),
		notificationAt(appointmentID, doctorID, ChannelSystem,
			fmt.Sprintf("The appointment for %s has been cancelled", when)),
	}
}

// FeedbackRequest yields the feedback-request notification issued when an
// appointment completes.
func FeedbackRequest(appointmentID, patientID uuid.UUID) Obligation {
	return notificationAt(appointmentID, patientID, ChannelEmail,
		"How was your appointment? Please take a moment to share your feedback")
}

package obligation

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRemindersFor(t *testing.T) {
	appointmentID := uuid.New()
	patientID := uuid.New()
	scheduled := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	reminders := RemindersFor(appointmentID, patientID, scheduled, nil)
	if len(reminders) != 2 {
		t.Fatalf("got %d reminders, want 2", len(reminders))
	}

	email, sms := reminders[0], reminders[1]

	if email.Channel != ChannelEmail {
		t.Errorf("first reminder channel = %s, want email", email.Channel)
	}
	if !email.FireAt.Equal(scheduled.Add(-24 * time.Hour)) {
		t.Errorf("email FireAt = %v, want T-24h", email.FireAt)
	}
	if sms.Channel != ChannelSMS {
		t.Errorf("second reminder channel = %s, want sms", sms.Channel)
	}
	if !sms.FireAt.Equal(scheduled.Add(-2 * time.Hour)) {
		t.Errorf("sms FireAt = %v, want T-2h", sms.FireAt)
	}

	for _, r := range reminders {
		if r.Kind != KindReminder {
			t.Errorf("kind = %s, want reminder", r.Kind)
		}
		if r.Status != StatusPending {
			t.Errorf("status = %s, want pending", r.Status)
		}
		if r.AppointmentID != appointmentID || r.RecipientID != patientID {
			t.Errorf("reminder addressed to %s/%s", r.AppointmentID, r.RecipientID)
		}
		if !strings.Contains(r.Message, "14:00") {
			t.Errorf("message %q does not mention the appointment time", r.Message)
		}
	}
}

func TestRemindersForRendersLocalTime(t *testing.T) {
	loc := time.FixedZone("clinic", 2*60*60)
	scheduled := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	reminders := RemindersFor(uuid.New(), uuid.New(), scheduled, loc)
	for _, r := range reminders {
		if !strings.Contains(r.Message, "16:00") {
			t.Errorf("message %q not rendered in clinic time", r.Message)
		}
	}
}

func TestBookingAndCancellationNotifications(t *testing.T) {
	appointmentID := uuid.New()
	patientID := uuid.New()
	doctorID := uuid.New()
	scheduled := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	booking := BookingNotifications(appointmentID, patientID, doctorID, scheduled)
	if len(booking) != 2 {
		t.Fatalf("got %d booking notifications, want 2", len(booking))
	}
	if booking[0].RecipientID != patientID || booking[0].Channel != ChannelEmail {
		t.Errorf("patient notification = %+v", booking[0])
	}
	if booking[1].RecipientID != doctorID || booking[1].Channel != ChannelSystem {
		t.Errorf("doctor notification = %+v", booking[1])
	}

	cancellation := CancellationNotifications(appointmentID, patientID, doctorID, scheduled)
	if len(cancellation) != 2 {
		t.Fatalf("got %d cancellation notifications, want 2", len(cancellation))
	}
	for _, n := range cancellation {
		if n.Kind != KindNotification {
			t.Errorf("kind = %s, want notification", n.Kind)
		}
		if !strings.Contains(n.Message, "cancelled") {
			t.Errorf("message %q does not mention cancellation", n.Message)
		}
	}
}

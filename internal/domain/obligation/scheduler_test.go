package obligation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

type schedulerStore struct {
	inserted  [][]Obligation
	calls     []string
	cancelled []uuid.UUID
}

func (s *schedulerStore) Insert(_ context.Context, obligations []Obligation) error {
	s.calls = append(s.calls, "insert")
	s.inserted = append(s.inserted, obligations)
	return nil
}

func (s *schedulerStore) CancelPending(_ context.Context, appointmentID uuid.UUID) (int64, error) {
	s.calls = append(s.calls, "cancelPending")
	s.cancelled = append(s.cancelled, appointmentID)
	return 2, nil
}

func (s *schedulerStore) CancelPendingReminders(_ context.Context, appointmentID uuid.UUID) (int64, error) {
	s.calls = append(s.calls, "cancelPendingReminders")
	s.cancelled = append(s.cancelled, appointmentID)
	return 1, nil
}

func TestIssueRemindersCancelsStaleFirst(t *testing.T) {
	store := &schedulerStore{}
	sched := NewScheduler(store, nil, nil)

	appointmentID := uuid.New()
	scheduled := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	if err := sched.IssueReminders(context.Background(), appointmentID, uuid.New(), scheduled); err != nil {
		t.Fatalf("IssueReminders failed: %v", err)
	}

	// Stale reminders must be cancelled before the fresh pair lands, so a
	// reschedule can never leave two live reminder sets.
	want := []string{"cancelPendingReminders", "insert"}
	if len(store.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", store.calls, want)
	}
	for i, c := range want {
		if store.calls[i] != c {
			t.Fatalf("calls = %v, want %v", store.calls, want)
		}
	}

	if len(store.inserted) != 1 || len(store.inserted[0]) != 2 {
		t.Fatalf("inserted = %v, want one batch of two reminders", store.inserted)
	}
	if store.cancelled[0] != appointmentID {
		t.Errorf("cancelled reminders for %s, want %s", store.cancelled[0], appointmentID)
	}
}

func TestNotifyEmptyIsNoOp(t *testing.T) {
	store := &schedulerStore{}
	sched := NewScheduler(store, nil, nil)

	if err := sched.Notify(context.Background()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(store.calls) != 0 {
		t.Errorf("empty Notify touched the store: %v", store.calls)
	}

	n := notificationAt(uuid.New(), uuid.New(), ChannelEmail, "hello")
	if err := sched.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(store.inserted) != 1 {
		t.Errorf("inserted = %v, want one batch", store.inserted)
	}
}

func TestCancel(t *testing.T) {
	store := &schedulerStore{}
	sched := NewScheduler(store, nil, nil)

	appointmentID := uuid.New()
	if err := sched.Cancel(context.Background(), appointmentID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != appointmentID {
		t.Errorf("cancelled = %v, want [%s]", store.cancelled, appointmentID)
	}
}

// Package integration exercises the booking engine end to end in memory:
// admission, obligation issuance, dispatch and receipt settlement.
package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/D-engahmed/medixai/internal/dispatch"
	"github.com/D-engahmed/medixai/internal/domain/appointment"
	"github.com/D-engahmed/medixai/internal/domain/obligation"
	"github.com/D-engahmed/medixai/internal/domain/schedule"
	"github.com/D-engahmed/medixai/internal/infrastructure/kafka"
)

type apptStore struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*appointment.Appointment
}

func newApptStore() *apptStore {
	return &apptStore{appts: make(map[uuid.UUID]*appointment.Appointment)}
}

func (s *apptStore) Get(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *apptStore) Create(_ context.Context, appt *appointment.Appointment, _ []*appointment.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *appt
	s.appts[appt.ID] = &copied
	return nil
}

func (s *apptStore) Update(_ context.Context, appt *appointment.Appointment, _ []*appointment.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *appt
	s.appts[appt.ID] = &copied
	return nil
}

func (s *apptStore) LoadForDoctor(_ context.Context, doctorID uuid.UUID, from, to time.Time, statuses []appointment.Status) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range s.appts {
		if a.DoctorID != doctorID || a.ScheduledAt.Before(from) || !a.ScheduledAt.Before(to) {
			continue
		}
		for _, st := range statuses {
			if a.Status == st {
				out = append(out, *a)
				break
			}
		}
	}
	return out, nil
}

func (s *apptStore) WithDoctorLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type scheduleSource struct {
	entries []schedule.Entry
}

func (s *scheduleSource) EntriesForRange(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.Entry, error) {
	var out []schedule.Entry
	for _, e := range s.entries {
		if e.DoctorID == doctorID && !e.Date.Before(from) && e.Date.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *scheduleSource) History(_ context.Context, doctorID uuid.UUID) ([]schedule.Entry, error) {
	return s.EntriesForRange(context.Background(), doctorID, time.Time{}, time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC))
}

// oblStore backs both the scheduler and the dispatcher.
type oblStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*obligation.Obligation
}

func newOblStore() *oblStore {
	return &oblStore{items: make(map[uuid.UUID]*obligation.Obligation)}
}

func (s *oblStore) Insert(_ context.Context, obligations []obligation.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range obligations {
		o := obligations[i]
		s.items[o.ID] = &o
	}
	return nil
}

func (s *oblStore) CancelPending(_ context.Context, appointmentID uuid.UUID) (int64, error) {
	return s.cancel(appointmentID, false), nil
}

func (s *oblStore) CancelPendingReminders(_ context.Context, appointmentID uuid.UUID) (int64, error) {
	return s.cancel(appointmentID, true), nil
}

func (s *oblStore) cancel(appointmentID uuid.UUID, remindersOnly bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.items {
		if o.AppointmentID != appointmentID || o.Status != obligation.StatusPending {
			continue
		}
		if remindersOnly && o.Kind != obligation.KindReminder {
			continue
		}
		o.Status = obligation.StatusCancelled
		n++
	}
	return n
}

func (s *oblStore) Due(_ context.Context, now time.Time, limit int) ([]obligation.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []obligation.Obligation
	for _, o := range s.items {
		if o.Status == obligation.StatusPending && !o.FireAt.After(now) {
			out = append(out, *o)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *oblStore) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.items[id]
	if !ok || o.Status != obligation.StatusPending {
		return false, nil
	}
	o.Status = obligation.StatusSent
	return true, nil
}

func (s *oblStore) Release(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.items[id]; ok && o.Status == obligation.StatusSent {
		o.Status = obligation.StatusPending
	}
	return nil
}

func (s *oblStore) MarkDelivery(_ context.Context, id uuid.UUID, status obligation.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.items[id]; ok && o.Status == obligation.StatusSent {
		o.Status = status
	}
	return nil
}

func (s *oblStore) countByStatus(status obligation.DeliveryStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.items {
		if o.Status == status {
			n++
		}
	}
	return n
}

type capturingPublisher struct {
	mu       sync.Mutex
	commands []dispatch.Command
}

func (p *capturingPublisher) Publish(_ context.Context, _, _ string, value []byte) error {
	var cmd dispatch.Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, cmd)
	return nil
}

func (p *capturingPublisher) snapshot() []dispatch.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dispatch.Command(nil), p.commands...)
}

func TestBookingFlow(t *testing.T) {
	doctorID := uuid.New()
	patientID := uuid.New()

	// Start one hour out so every obligation, reminders included, is
	// already due when the dispatcher polls.
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	day := schedule.Day(start)

	schedules := &scheduleSource{entries: []schedule.Entry{
		{
			ID:             uuid.New(),
			DoctorID:       doctorID,
			Date:           day,
			WorkingWindows: []schedule.Window{{Start: 0, End: 24 * 60}},
			SlotDuration:   30,
			Available:      true,
		},
	}}

	store := newApptStore()
	obls := newOblStore()
	svc := appointment.NewService(store, schedules, obligation.NewScheduler(obls, nil, nil), nil)
	ctx := context.Background()

	appt, err := svc.Book(ctx, appointment.BookRequest{
		DoctorID:        doctorID,
		PatientID:       patientID,
		Type:            appointment.TypeVideo,
		ScheduledAt:     start,
		DurationMinutes: 30,
		Reason:          "follow-up",
		Fee:             80,
	})
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}

	// Two reminders plus two booking notifications.
	if got := obls.countByStatus(obligation.StatusPending); got != 4 {
		t.Fatalf("pending obligations after booking = %d, want 4", got)
	}

	// A reschedule cancels the stale reminder pair and issues a fresh one.
	// The new slot stays close enough that both fresh reminders are due.
	if _, err := svc.Reschedule(ctx, appt.ID, start.Add(30*time.Minute), 30); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if got := obls.countByStatus(obligation.StatusCancelled); got != 2 {
		t.Fatalf("cancelled obligations after reschedule = %d, want 2", got)
	}
	if got := obls.countByStatus(obligation.StatusPending); got != 4 {
		t.Fatalf("pending obligations after reschedule = %d, want 4", got)
	}

	pub := &capturingPublisher{}
	cfg := dispatch.DefaultConfig()
	cfg.PollInterval = 20 * time.Millisecond
	cfg.Workers = 4

	dispatcher, err := dispatch.New(obls, pub, cfg, nil, nil)
	if err != nil {
		t.Fatalf("create dispatcher: %v", err)
	}
	dispatcher.Start()

	deadline := time.Now().Add(5 * time.Second)
	for len(pub.snapshot()) < 4 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	dispatcher.Stop()

	commands := pub.snapshot()
	if len(commands) != 4 {
		t.Fatalf("dispatched %d commands, want 4", len(commands))
	}
	for _, cmd := range commands {
		if cmd.AppointmentID != appt.ID {
			t.Errorf("command for appointment %s, want %s", cmd.AppointmentID, appt.ID)
		}
	}

	// Delivery receipts settle every claimed obligation.
	for _, cmd := range commands {
		receipt, _ := json.Marshal(dispatch.Receipt{ObligationID: cmd.ObligationID, Delivered: true})
		if err := dispatcher.HandleReceipt(ctx, &kafka.ConsumedMessage{Value: receipt}); err != nil {
			t.Fatalf("HandleReceipt failed: %v", err)
		}
	}
	if got := obls.countByStatus(obligation.StatusDelivered); got != 4 {
		t.Errorf("delivered obligations = %d, want 4", got)
	}

	// The slot the appointment vacated is bookable again.
	if _, err := svc.Book(ctx, appointment.BookRequest{
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		Type:            appointment.TypeInPerson,
		ScheduledAt:     start,
		DurationMinutes: 30,
		Reason:          "checkup",
		Fee:             120,
	}); err != nil {
		t.Fatalf("booking the vacated slot failed: %v", err)
	}
}

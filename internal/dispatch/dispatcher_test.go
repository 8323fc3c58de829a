package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/D-engahmed/medixai/internal/domain/obligation"
	"github.com/D-engahmed/medixai/internal/infrastructure/kafka"
	"github.com/D-engahmed/medixai/pkg/workerpool"
)

func taskFor(o *obligation.Obligation) *workerpool.Task {
	return &workerpool.Task{ID: o.ID.String(), Payload: o, Context: context.Background()}
}

type fakeStore struct {
	mu       sync.Mutex
	due      []obligation.Obligation
	claimed  map[uuid.UUID]bool
	released []uuid.UUID
	settled  map[uuid.UUID]obligation.DeliveryStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		claimed: make(map[uuid.UUID]bool),
		settled: make(map[uuid.UUID]obligation.DeliveryStatus),
	}
}

func (s *fakeStore) Due(_ context.Context, _ time.Time, _ int) ([]obligation.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due, nil
}

func (s *fakeStore) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[id] {
		return false, nil
	}
	s.claimed[id] = true
	return true, nil
}

func (s *fakeStore) Release(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, id)
	delete(s.claimed, id)
	return nil
}

func (s *fakeStore) MarkDelivery(_ context.Context, id uuid.UUID, status obligation.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled[id] = status
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	keys   []string
	values [][]byte
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func dueObligation() obligation.Obligation {
	return obligation.Obligation{
		ID:            uuid.New(),
		AppointmentID: uuid.New(),
		RecipientID:   uuid.New(),
		Kind:          obligation.KindReminder,
		Channel:       obligation.ChannelSMS,
		FireAt:        time.Now().UTC().Add(-time.Minute),
		Message:       "Reminder: your appointment starts in two hours, at 14:00",
		Status:        obligation.StatusPending,
	}
}

func TestDeliverPublishesCommand(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	d, err := New(store, pub, DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	o := dueObligation()
	result := d.deliver(context.Background(), taskFor(&o))
	if !result.Success {
		t.Fatalf("deliver failed: %v", result.Error)
	}

	if len(pub.topics) != 1 || pub.topics[0] != kafka.TopicNotificationOutbound {
		t.Errorf("published to %v, want %s", pub.topics, kafka.TopicNotificationOutbound)
	}
	if pub.keys[0] != o.RecipientID.String() {
		t.Errorf("message key = %s, want recipient id", pub.keys[0])
	}

	var cmd Command
	if err := json.Unmarshal(pub.values[0], &cmd); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if cmd.ObligationID != o.ID || cmd.Channel != obligation.ChannelSMS || cmd.Message != o.Message {
		t.Errorf("command = %+v", cmd)
	}
}

func TestDeliverReleasesOnPublishFailure(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{err: context.DeadlineExceeded}
	d, err := New(store, pub, DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	o := dueObligation()
	store.claimed[o.ID] = true

	result := d.deliver(context.Background(), taskFor(&o))
	if result.Success {
		t.Fatal("deliver reported success despite publish failure")
	}
	if len(store.released) != 1 || store.released[0] != o.ID {
		t.Errorf("released = %v, want [%s]", store.released, o.ID)
	}
}

func TestDispatchDueFiresEachObligationOnce(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}

	cfg := DefaultConfig()
	cfg.Workers = 2
	d, err := New(store, pub, cfg, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d.pool.Start()
	defer d.pool.Stop()

	o := dueObligation()
	store.due = []obligation.Obligation{o}

	// The store keeps reporting the obligation as due, as it would between
	// the claim and the poller's next pass in a second dispatcher.
	d.dispatchDue()
	d.dispatchDue()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pub.mu.Lock()
		n := len(pub.topics)
		pub.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	pub.mu.Lock()
	published := len(pub.topics)
	pub.mu.Unlock()
	if published != 1 {
		t.Fatalf("published %d commands for one obligation, want 1", published)
	}
	if len(store.released) != 0 {
		t.Errorf("released = %v, want none", store.released)
	}
}

func TestHandleReceipt(t *testing.T) {
	store := newFakeStore()
	d, err := New(store, &fakePublisher{}, DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	delivered := dueObligation()
	failed := dueObligation()

	for _, tc := range []struct {
		receipt Receipt
		want    obligation.DeliveryStatus
	}{
		{Receipt{ObligationID: delivered.ID, Delivered: true}, obligation.StatusDelivered},
		{Receipt{ObligationID: failed.ID, Delivered: false, Detail: "bounced"}, obligation.StatusFailed},
	} {
		payload, _ := json.Marshal(tc.receipt)
		if err := d.HandleReceipt(ctx, &kafka.ConsumedMessage{Value: payload}); err != nil {
			t.Fatalf("HandleReceipt failed: %v", err)
		}
		if got := store.settled[tc.receipt.ObligationID]; got != tc.want {
			t.Errorf("settled status = %s, want %s", got, tc.want)
		}
	}
}

func TestHandleReceiptDropsMalformed(t *testing.T) {
	store := newFakeStore()
	d, err := New(store, &fakePublisher{}, DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// A malformed receipt must not error: redelivery cannot fix it.
	msg := &kafka.ConsumedMessage{Value: []byte("not json")}
	if err := d.HandleReceipt(context.Background(), msg); err != nil {
		t.Fatalf("HandleReceipt returned error for malformed receipt: %v", err)
	}
	if len(store.settled) != 0 {
		t.Errorf("malformed receipt settled obligations: %v", store.settled)
	}
}

// Package dispatch fires due obligations. It polls the obligation store,
// claims each due reminder or notification exactly once, and hands the
// delivery command to the notification channels over Kafka. Delivery
// receipts flow back on a separate topic and settle the obligation's final
// status.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/D-engahmed/medixai/internal/domain/obligation"
	"github.com/D-engahmed/medixai/internal/infrastructure/kafka"
	"github.com/D-engahmed/medixai/internal/observability/metrics"
	"github.com/D-engahmed/medixai/pkg/circuitbreaker"
	"github.com/D-engahmed/medixai/pkg/workerpool"
)

// Store is the slice of the obligation repository the dispatcher needs.
type Store interface {
	Due(ctx context.Context, now time.Time, limit int) ([]obligation.Obligation, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
	MarkDelivery(ctx context.Context, id uuid.UUID, status obligation.DeliveryStatus) error
}

// Publisher sends delivery commands to the notification channels.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Config holds dispatcher configuration.
type Config struct {
	// PollInterval is how often to look for due obligations
	PollInterval time.Duration
	// BatchSize is the maximum obligations fetched per poll
	BatchSize int
	// Workers is the delivery fan-out width
	Workers int
}

// DefaultConfig returns sensible defaults. Reminder fire-times have minute
// granularity, so aggressive polling buys nothing.
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		BatchSize:    200,
		Workers:      25,
	}
}

// Command is the message published to the outbound notification topic.
type Command struct {
	ObligationID  uuid.UUID          `json:"obligation_id"`
	AppointmentID uuid.UUID          `json:"appointment_id"`
	RecipientID   uuid.UUID          `json:"recipient_id"`
	Channel       obligation.Channel `json:"channel"`
	Message       string             `json:"message"`
	FireAt        time.Time          `json:"fire_at"`
}

// Receipt is the delivery result reported back by a notification channel.
type Receipt struct {
	ObligationID uuid.UUID `json:"obligation_id"`
	Delivered    bool      `json:"delivered"`
	Detail       string    `json:"detail,omitempty"`
}

// Dispatcher polls for due obligations and fans out delivery.
type Dispatcher struct {
	store     Store
	publisher Publisher
	breakers  *circuitbreaker.Manager
	pool      *workerpool.Pool
	config    Config
	metrics   *metrics.Metrics
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a dispatcher. metrics may be nil.
func New(store Store, publisher Publisher, cfg Config, m *metrics.Metrics, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:     store,
		publisher: publisher,
		breakers:  circuitbreaker.NewManager(logger),
		config:    cfg,
		metrics:   m,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers

	pool, err := workerpool.New(poolCfg, d.deliver, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	d.pool = pool

	return d, nil
}

// Start begins polling for due obligations.
func (d *Dispatcher) Start() {
	d.pool.Start()
	go d.pollLoop()
	d.logger.Info("dispatcher started",
		zap.Duration("poll_interval", d.config.PollInterval),
		zap.Int("batch_size", d.config.BatchSize))
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() {
	d.cancel()
	<-d.done
	d.pool.Stop()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) pollLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.dispatchDue()
		}
	}
}

// dispatchDue claims every due obligation and submits it for delivery. The
// claim is the idempotency guard: an obligation another dispatcher already
// claimed, or one cancelled since the query, is skipped silently.
func (d *Dispatcher) dispatchDue() {
	due, err := d.store.Due(d.ctx, time.Now().UTC(), d.config.BatchSize)
	if err != nil {
		d.logger.Error("failed to fetch due obligations", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	for i := range due {
		o := due[i]
		claimed, err := d.store.Claim(d.ctx, o.ID)
		if err != nil {
			d.logger.Error("failed to claim obligation",
				zap.String("obligation_id", o.ID.String()), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		task := &workerpool.Task{
			ID:      o.ID.String(),
			Payload: &o,
			Context: d.ctx,
		}
		if err := d.pool.Submit(task); err != nil {
			d.logger.Warn("delivery queue full, releasing obligation",
				zap.String("obligation_id", o.ID.String()), zap.Error(err))
			if relErr := d.store.Release(d.ctx, o.ID); relErr != nil {
				d.logger.Error("failed to release obligation", zap.Error(relErr))
			}
		}
	}
}

// deliver publishes one claimed obligation through its channel's breaker.
func (d *Dispatcher) deliver(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	o := task.Payload.(*obligation.Obligation)

	cmd := Command{
		ObligationID:  o.ID,
		AppointmentID: o.AppointmentID,
		RecipientID:   o.RecipientID,
		Channel:       o.Channel,
		Message:       o.Message,
		FireAt:        o.FireAt,
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}

	cb, err := d.breakers.GetOrCreate(string(o.Channel), circuitbreaker.DefaultConfig(string(o.Channel)))
	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}

	_, err = cb.Execute(ctx, func() (interface{}, error) {
		return nil, d.publisher.Publish(ctx, kafka.TopicNotificationOutbound, o.RecipientID.String(), payload)
	})
	if err != nil {
		if d.metrics != nil {
			d.metrics.RemindersFailed.Inc()
		}
		// Back to pending so a later poll retries it.
		if relErr := d.store.Release(ctx, o.ID); relErr != nil {
			d.logger.Error("failed to release obligation after publish failure",
				zap.String("obligation_id", o.ID.String()), zap.Error(relErr))
		}
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}

	if d.metrics != nil {
		d.metrics.RemindersDispatched.WithLabelValues(string(o.Channel)).Inc()
	}
	d.logger.Debug("obligation dispatched",
		zap.String("obligation_id", o.ID.String()),
		zap.String("channel", string(o.Channel)))

	return &workerpool.Result{TaskID: task.ID, Success: true}
}

// HandleReceipt consumes one delivery receipt and settles the obligation.
func (d *Dispatcher) HandleReceipt(ctx context.Context, msg *kafka.ConsumedMessage) error {
	var receipt Receipt
	if err := json.Unmarshal(msg.Value, &receipt); err != nil {
		// Malformed receipts are logged and dropped; redelivery cannot fix them.
		d.logger.Warn("malformed delivery receipt", zap.Error(err))
		return nil
	}

	status := obligation.StatusDelivered
	if !receipt.Delivered {
		status = obligation.StatusFailed
	}

	if err := d.store.MarkDelivery(ctx, receipt.ObligationID, status); err != nil {
		return fmt.Errorf("mark delivery for %s: %w", receipt.ObligationID, err)
	}

	d.logger.Debug("delivery receipt settled",
		zap.String("obligation_id", receipt.ObligationID.String()),
		zap.Bool("delivered", receipt.Delivered))
	return nil
}

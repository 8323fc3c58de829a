// Package appointment provides the appointment repository.
package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/D-engahmed/medixai/internal/infrastructure/postgres"
)

// Kafka topics the repository routes outbox entries to. The provisioning
// list in the kafka package must include both.
const (
	topicAppointmentEvents = "appointment.events"
	topicPaymentCommands   = "payment.commands"
)

// Repository persists appointments and records their domain events in the
// transactional outbox within the same transaction.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// WithDoctorLock runs fn while holding the doctor's advisory lock. The lock
// is transaction-scoped, so it releases on commit or rollback; concurrent
// admissions for the same doctor serialize here, while different doctors
// proceed in parallel. The lock transaction rides in fn's context, and every
// repository call inside fn runs on it: the critical section uses exactly
// one pool connection, so admission load can never deadlock the pool behind
// the lock holder.
func (r *Repository) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin lock tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", doctorLockKey(doctorID)); err != nil {
		return fmt.Errorf("acquire doctor lock: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}

type txKey struct{}

// querier is the query surface shared by the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// db returns the lock transaction carried by ctx, or the pool outside a
// locked section.
func (r *Repository) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

// begin opens a transaction for a write. Inside a locked section this is a
// savepoint on the lock transaction: a constraint violation rolls back to
// the savepoint and leaves the lock transaction usable for the recheck.
func (r *Repository) begin(ctx context.Context) (pgx.Tx, error) {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx.Begin(ctx)
	}
	return r.pool.Begin(ctx)
}

// doctorLockKey maps a doctor id onto the advisory lock keyspace.
func doctorLockKey(doctorID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(doctorID[:])
	return int64(h.Sum64())
}

// Create inserts a new appointment and writes its events to the outbox in
// one transaction. A violation of the overlap exclusion constraint is
// reported as ErrBookingConflict.
func (r *Repository) Create(ctx context.Context, appt *Appointment, events []*Event) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO appointments
		(id, doctor_id, patient_id, appointment_type, scheduled_at, duration_minutes,
		 reason, notes, fee, status, payment_status, feedback_submitted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		appt.ID, appt.DoctorID, appt.PatientID, appt.Type,
		appt.ScheduledAt, appt.DurationMinutes, appt.Reason, appt.Notes,
		appt.Fee, appt.Status, appt.PaymentStatus, appt.FeedbackSubmitted,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return wrapConflict(err, "insert appointment")
	}

	if err := writeEvents(ctx, tx, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Update persists a lifecycle change and its events in one transaction.
func (r *Repository) Update(ctx context.Context, appt *Appointment, events []*Event) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE appointments
		SET appointment_type = $2, scheduled_at = $3, duration_minutes = $4,
		    reason = $5, notes = $6, fee = $7, status = $8, payment_status = $9,
		    cancellation_reason = $10, cancelled_at = $11, feedback_submitted = $12,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = tx.QueryRow(ctx, query,
		appt.ID, appt.Type, appt.ScheduledAt, appt.DurationMinutes,
		appt.Reason, appt.Notes, appt.Fee, appt.Status, appt.PaymentStatus,
		appt.CancellationReason, appt.CancelledAt, appt.FeedbackSubmitted,
	).Scan(&appt.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, appt.ID)
	}
	if err != nil {
		return wrapConflict(err, "update appointment")
	}

	if err := writeEvents(ctx, tx, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// writeEvents records the events as outbox entries inside the caller's
// transaction. Lifecycle events are keyed by doctor so per-doctor ordering
// survives partitioning; payment intents are keyed by appointment.
func writeEvents(ctx context.Context, tx pgx.Tx, events []*Event) error {
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", event.EventType, err)
		}

		topic := topicAppointmentEvents
		key := event.DoctorID.String()
		if event.EventType == EventRefundRequested || event.EventType == EventFeeChargeRequested {
			topic = topicPaymentCommands
			key = event.AppointmentID.String()
		}

		entry := &postgres.OutboxEntry{
			AggregateID:   event.AppointmentID.String(),
			AggregateType: "appointment",
			EventType:     string(event.EventType),
			Payload:       payload,
			KafkaTopic:    topic,
			KafkaKey:      key,
		}
		if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}

// wrapConflict maps unique and exclusion violations to ErrBookingConflict.
func wrapConflict(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" || pgErr.Code == "23P01" {
			return fmt.Errorf("%w: %s", ErrBookingConflict, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

const selectColumns = `
	id, doctor_id, patient_id, appointment_type, scheduled_at, duration_minutes,
	reason, notes, fee, status, payment_status, cancellation_reason, cancelled_at,
	feedback_submitted, created_at, updated_at
`

// Get retrieves an appointment by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + selectColumns + ` FROM appointments WHERE id = $1`

	appt, err := scanAppointment(r.db(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// LoadForDoctor returns the doctor's appointments with a scheduled time in
// [from, to) and a status in statuses, ordered by scheduled time.
func (r *Repository) LoadForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time, statuses []Status) ([]Appointment, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM appointments
		WHERE doctor_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		  AND status = ANY($4)
		ORDER BY scheduled_at ASC
	`

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.db(ctx).Query(ctx, query, doctorID, from, to, names)
	if err != nil {
		return nil, fmt.Errorf("query doctor appointments: %w", err)
	}
	defer rows.Close()

	return scanAppointments(rows)
}

// ListForPatient returns the patient's appointments, newest first.
func (r *Repository) ListForPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Appointment, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`

	rows, err := r.db(ctx).Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query patient appointments: %w", err)
	}
	defer rows.Close()

	return scanAppointments(rows)
}

// Search returns appointments matching the filter, newest first.
func (r *Repository) Search(ctx context.Context, params SearchParams) ([]Appointment, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM appointments
		WHERE ($1::uuid IS NULL OR doctor_id = $1)
		  AND ($2::uuid IS NULL OR patient_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		  AND ($4::timestamptz IS NULL OR scheduled_at >= $4)
		  AND ($5::timestamptz IS NULL OR scheduled_at < $5)
		ORDER BY scheduled_at DESC
		LIMIT $6
	`

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db(ctx).Query(ctx, query,
		nilUUID(params.DoctorID), nilUUID(params.PatientID),
		nilStatus(params.Status), params.From, params.To, limit)
	if err != nil {
		return nil, fmt.Errorf("search appointments: %w", err)
	}
	defer rows.Close()

	return scanAppointments(rows)
}

func nilUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nilStatus(s Status) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	a := &Appointment{}
	err := row.Scan(
		&a.ID, &a.DoctorID, &a.PatientID, &a.Type, &a.ScheduledAt,
		&a.DurationMinutes, &a.Reason, &a.Notes, &a.Fee, &a.Status,
		&a.PaymentStatus, &a.CancellationReason, &a.CancelledAt,
		&a.FeedbackSubmitted, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var appts []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appts = append(appts, *a)
	}
	return appts, rows.Err()
}

// Package obligation provides the obligation repository.
package obligation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository persists obligations in PostgreSQL.
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

// Insert records a batch of obligations.
func (r *Repository) Insert(ctx context.Context, obligations []Obligation) error {
	if len(obligations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO obligations
		(id, appointment_id, recipient_id, kind, channel, fire_at, message, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, o := range obligations {
		batch.Queue(query, o.ID, o.AppointmentID, o.RecipientID, o.Kind, o.Channel, o.FireAt, o.Message, o.Status)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range obligations {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert obligation: %w", err)
		}
	}
	return nil
}

// CancelPending marks every unfired obligation for the appointment as
// cancelled. Obligations already claimed for delivery keep their status.
func (r *Repository) CancelPending(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	query := `
		UPDATE obligations
		SET status = $1, updated_at = NOW()
		WHERE appointment_id = $2 AND status = $3
	`
	tag, err := r.pool.Exec(ctx, query, StatusCancelled, appointmentID, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("cancel pending obligations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelPendingReminders cancels only the unfired reminders, leaving
// notifications alone. Used before issuing a fresh reminder set.
func (r *Repository) CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	query := `
		UPDATE obligations
		SET status = $1, updated_at = NOW()
		WHERE appointment_id = $2 AND kind = $3 AND status = $4
	`
	tag, err := r.pool.Exec(ctx, query, StatusCancelled, appointmentID, KindReminder, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("cancel pending reminders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Due returns pending obligations whose fire-time has arrived, oldest
// first.
func (r *Repository) Due(ctx context.Context, now time.Time, limit int) ([]Obligation, error) {
	query := `
		SELECT id, appointment_id, recipient_id, kind, channel, fire_at, message, status, created_at, sent_at
		FROM obligations
		WHERE status = $1 AND fire_at <= $2
		ORDER BY fire_at ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due obligations: %w", err)
	}
	defer rows.Close()

	var due []Obligation
	for rows.Next() {
		var o Obligation
		err := rows.Scan(&o.ID, &o.AppointmentID, &o.RecipientID, &o.Kind, &o.Channel,
			&o.FireAt, &o.Message, &o.Status, &o.CreatedAt, &o.SentAt)
		if err != nil {
			return nil, fmt.Errorf("scan obligation: %w", err)
		}
		due = append(due, o)
	}
	return due, rows.Err()
}

// Claim moves an obligation from pending to sent and reports whether this
// caller won the claim. A false return means the obligation was already
// fired or cancelled, so firing twice never double-notifies.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE obligations
		SET status = $1, sent_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	tag, err := r.pool.Exec(ctx, query, StatusSent, id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim obligation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release puts a claimed obligation back to pending after a failed publish
// so a later poll retries it.
func (r *Repository) Release(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE obligations
		SET status = $1, sent_at = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	if _, err := r.pool.Exec(ctx, query, StatusPending, id, StatusSent); err != nil {
		return fmt.Errorf("release obligation: %w", err)
	}
	return nil
}

// MarkDelivery records the delivery receipt reported by the notification
// collaborator. Only sent obligations are updated.
func (r *Repository) MarkDelivery(ctx context.Context, id uuid.UUID, status DeliveryStatus) error {
	if status != StatusDelivered && status != StatusFailed {
		return fmt.Errorf("invalid delivery status %q", status)
	}
	query := `
		UPDATE obligations
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	if _, err := r.pool.Exec(ctx, query, status, id, StatusSent); err != nil {
		return fmt.Errorf("mark delivery: %w", err)
	}
	return nil
}

// CountPending returns the number of unfired obligations.
func (r *Repository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM obligations WHERE status = $1", StatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending obligations: %w", err)
	}
	return count, nil
}

// ForAppointment returns every obligation recorded for the appointment,
// oldest first. Cancelled and fired obligations are included for audit.
func (r *Repository) ForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Obligation, error) {
	query := `
		SELECT id, appointment_id, recipient_id, kind, channel, fire_at, message, status, created_at, sent_at
		FROM obligations
		WHERE appointment_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("query obligations: %w", err)
	}
	defer rows.Close()

	var obligations []Obligation
	for rows.Next() {
		var o Obligation
		err := rows.Scan(&o.ID, &o.AppointmentID, &o.RecipientID, &o.Kind, &o.Channel,
			&o.FireAt, &o.Message, &o.Status, &o.CreatedAt, &o.SentAt)
		if err != nil {
			return nil, fmt.Errorf("scan obligation: %w", err)
		}
		obligations = append(obligations, o)
	}
	return obligations, rows.Err()
}

package appointment

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

// lockTx stubs the transaction surface the lock-scoping helpers touch.
// Everything else panics, which is exactly what a test wants.
type lockTx struct {
	pgx.Tx
	nested int
}

func (t *lockTx) Begin(_ context.Context) (pgx.Tx, error) {
	t.nested++
	return t, nil
}

func TestLockedSectionUsesLockTransaction(t *testing.T) {
	r := NewRepository(nil, nil)
	tx := &lockTx{}
	ctx := context.WithValue(context.Background(), txKey{}, pgx.Tx(tx))

	// Reads inside a locked section must run on the lock transaction, never
	// acquire a second pool connection.
	if got := r.db(ctx); got != pgx.Tx(tx) {
		t.Fatalf("db(ctx) = %T, want the lock transaction", got)
	}

	// Writes inside a locked section open a savepoint on the lock
	// transaction, so a constraint violation cannot poison it.
	got, err := r.begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if got != pgx.Tx(tx) || tx.nested != 1 {
		t.Fatalf("begin = %T (nested=%d), want a savepoint on the lock transaction", got, tx.nested)
	}
}

func TestUnlockedSectionUsesPool(t *testing.T) {
	r := NewRepository(nil, nil)

	// Outside a locked section the pool serves queries directly.
	if _, ok := r.db(context.Background()).(pgx.Tx); ok {
		t.Fatal("db without a lock context returned a transaction")
	}
}

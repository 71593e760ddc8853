package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/ledger"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Ledger runs ledger transactions at SERIALIZABLE isolation.
type Ledger struct {
	db TxBeginner
}

var _ ledger.TxRunner = (*Ledger)(nil)

// NewLedger creates a transaction runner over db.
func NewLedger(db TxBeginner) *Ledger {
	return &Ledger{db: db}
}

// InTx runs fn in a new SERIALIZABLE transaction.
func (l *Ledger) InTx(ctx context.Context, fn func(ctx context.Context, store ledger.Store) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", mapError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, New(tx)); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", mapError(err))
	}
	return nil
}

// Migrate creates the ledger table and its indexes if they do not exist.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	logger.Info("Ledger schema applied", zap.String("table", "matching_event_pair"))
	return nil
}

// Package postgres implements the Ledger Store on PostgreSQL with pgx.
//
// Every ledger transaction runs at SERIALIZABLE isolation. A transaction
// aborted by the database (SQLSTATE 40001 or 40P01) is reported as
// errors.ErrSerializationConflict; the caller's job queue retries it.
//
// Import Path: dpsrecon.io/reconciliation/internal/repository/postgres
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/ledger"
	apperrors "dpsrecon.io/reconciliation/internal/pkg/errors"
)

//go:embed schema.sql
var Schema string

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the ledger SQL bound to a connection or transaction.
type Queries struct {
	db DBTX
}

var _ ledger.Store = (*Queries)(nil)

// New binds the queries to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const rowColumns = `id, match_type, subject_id, domain_reason, domain_time, internal_booking_id,
	internal_reason, internal_time, prior_reason, prior_time, prior_direction, created_at, matched, comment`

func (q *Queries) FindCandidates(ctx context.Context, cq ledger.CandidateQuery) ([]domain.CorrelationRow, error) {
	missing := "internal_time IS NULL"
	if cq.MissingSide == ledger.SideDomain {
		missing = "domain_time IS NULL"
	}
	args := []any{cq.SubjectID, string(cq.Kind), cq.CreatedAfter}
	pred, args := predicateClause(cq.Predicate, args)

	sql := `SELECT ` + rowColumns + ` FROM matching_event_pair
WHERE subject_id = $1 AND match_type = $2 AND created_at > $3 AND matched = FALSE AND ` + missing + pred + `
ORDER BY id`

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find candidates for %s: %w", cq.SubjectID, mapError(err))
	}
	return collectRows(rows)
}

func (q *Queries) Insert(ctx context.Context, row *domain.CorrelationRow) error {
	if !row.MatchKind.Valid() {
		return fmt.Errorf("insert row: invalid match kind %q", row.MatchKind)
	}
	var createdAt any
	if !row.CreatedAt.IsZero() {
		createdAt = row.CreatedAt
	}
	err := q.db.QueryRow(ctx, `INSERT INTO matching_event_pair (
	match_type, subject_id, domain_reason, domain_time, internal_booking_id,
	internal_reason, internal_time, prior_reason, prior_time, prior_direction,
	created_at, matched, comment
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11::timestamptz, now()), $12, $13)
RETURNING id, created_at`,
		string(row.MatchKind), row.SubjectID, row.DomainReason, row.DomainTime, row.InternalBookingID,
		row.InternalReason, row.InternalTime, row.PriorReason, row.PriorTime, row.PriorDirection,
		createdAt, row.Matched, row.Comment,
	).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert row for %s: %w", row.SubjectID, mapError(err))
	}
	return nil
}

func (q *Queries) Update(ctx context.Context, row *domain.CorrelationRow, onlyUnmatched bool) (bool, error) {
	sql := `UPDATE matching_event_pair SET
	subject_id = $2, domain_reason = $3, domain_time = $4, internal_booking_id = $5,
	internal_reason = $6, internal_time = $7, prior_reason = $8, prior_time = $9,
	prior_direction = $10, matched = $11, comment = $12
WHERE id = $1`
	if onlyUnmatched {
		sql += ` AND matched = FALSE`
	}
	tag, err := q.db.Exec(ctx, sql,
		row.ID, row.SubjectID, row.DomainReason, row.DomainTime, row.InternalBookingID,
		row.InternalReason, row.InternalTime, row.PriorReason, row.PriorTime,
		row.PriorDirection, row.Matched, row.Comment,
	)
	if err != nil {
		return false, fmt.Errorf("update row %d: %w", row.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		if onlyUnmatched {
			return false, nil
		}
		return false, fmt.Errorf("update row %d: %w", row.ID, apperrors.ErrNotFound)
	}
	return true, nil
}

func (q *Queries) Delete(ctx context.Context, id int64, onlyUnmatched bool) (bool, error) {
	sql := `DELETE FROM matching_event_pair WHERE id = $1`
	if onlyUnmatched {
		sql += ` AND matched = FALSE`
	}
	tag, err := q.db.Exec(ctx, sql, id)
	if err != nil {
		return false, fmt.Errorf("delete row %d: %w", id, mapError(err))
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) DeleteMatchedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM matching_event_pair WHERE matched = TRUE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge matched rows: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) FindUnmatched(ctx context.Context, from, to time.Time, limit int) ([]domain.CorrelationRow, error) {
	sql := `SELECT ` + rowColumns + ` FROM matching_event_pair
WHERE matched = FALSE AND created_at >= $1 AND created_at < $2
ORDER BY id`
	args := []any{from, to}
	if limit > 0 {
		sql += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find unmatched rows: %w", mapError(err))
	}
	return collectRows(rows)
}

func (q *Queries) CountUnmatched(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM matching_event_pair
WHERE matched = FALSE AND created_at >= $1 AND created_at < $2`, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unmatched rows: %w", mapError(err))
	}
	return n, nil
}

// predicateClause renders p as an AND-prefixed condition, appending its
// parameters to args. Must agree with ledger.Predicate.Matches.
func predicateClause(p ledger.Predicate, args []any) (string, []any) {
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	postMerge := string(domain.ReceivePostMergeAdmission)

	var clause string
	switch p {
	case ledger.PredicateExcludeMergeDomain:
		clause = "domain_reason IS DISTINCT FROM " + next(postMerge)
	case ledger.PredicateOnlyMergeDomain:
		clause = "domain_reason = " + next(postMerge)
	case ledger.PredicateOnlyMergeInternal:
		clause = "internal_reason = " + next(domain.MergeMarker)
	case ledger.PredicateExcludeMergeInternal:
		clause = "internal_reason IS DISTINCT FROM " + next(domain.MergeMarker)
	case ledger.PredicateHospitalPrior:
		clause = "prior_direction = " + next(domain.DirectionOut) + " AND prior_reason = " + next(domain.HospitalReason)
	default:
		return "", args
	}
	return " AND " + clause, args
}

func collectRows(rows pgx.Rows) ([]domain.CorrelationRow, error) {
	defer rows.Close()
	var out []domain.CorrelationRow
	for rows.Next() {
		var (
			r    domain.CorrelationRow
			kind string
		)
		if err := rows.Scan(
			&r.ID, &kind, &r.SubjectID, &r.DomainReason, &r.DomainTime, &r.InternalBookingID,
			&r.InternalReason, &r.InternalTime, &r.PriorReason, &r.PriorTime, &r.PriorDirection,
			&r.CreatedAt, &r.Matched, &r.Comment,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.MatchKind = domain.MatchKind(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", mapError(err))
	}
	return out, nil
}

// SQLSTATE codes for transactions the server aborted to preserve serializability.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%w: %w", apperrors.ErrSerializationConflict, err)
		}
	}
	return err
}

// Package memory is an in-process Ledger Store. Transactions are serialized
// by a single mutex, which trivially satisfies the serializable isolation
// the engine requires. Used by tests and local dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/ledger"
	apperrors "dpsrecon.io/reconciliation/internal/pkg/errors"
)

// Ledger holds rows keyed by id.
type Ledger struct {
	mu     sync.Mutex
	rows   map[int64]domain.CorrelationRow
	nextID int64
	now    func() time.Time
}

// New creates an empty ledger. now stamps CreatedAt on rows inserted without
// one; nil means time.Now.
func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		rows:   make(map[int64]domain.CorrelationRow),
		nextID: 1,
		now:    now,
	}
}

// InTx runs fn with exclusive access. Changes are discarded when fn fails.
func (l *Ledger) InTx(ctx context.Context, fn func(ctx context.Context, store ledger.Store) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := l.snapshot()
	nextID := l.nextID
	if err := fn(ctx, &txStore{l: l}); err != nil {
		l.rows = snapshot
		l.nextID = nextID
		return err
	}
	return nil
}

// Seed inserts rows as-is, keeping caller supplied ids and creation times.
func (l *Ledger) Seed(rows ...domain.CorrelationRow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rows {
		if r.ID == 0 {
			r.ID = l.nextID
		}
		if r.ID >= l.nextID {
			l.nextID = r.ID + 1
		}
		l.rows[r.ID] = r.Clone()
	}
}

// All returns a copy of every row ordered by id.
func (l *Ledger) All() []domain.CorrelationRow {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sorted(func(domain.CorrelationRow) bool { return true })
}

// Get returns a copy of the row with id.
func (l *Ledger) Get(id int64) (domain.CorrelationRow, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[id]
	return r.Clone(), ok
}

func (l *Ledger) snapshot() map[int64]domain.CorrelationRow {
	out := make(map[int64]domain.CorrelationRow, len(l.rows))
	for id, r := range l.rows {
		out[id] = r.Clone()
	}
	return out
}

func (l *Ledger) sorted(keep func(domain.CorrelationRow) bool) []domain.CorrelationRow {
	out := make([]domain.CorrelationRow, 0, len(l.rows))
	for _, r := range l.rows {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// txStore is only valid while InTx holds the lock.
type txStore struct {
	l *Ledger
}

func (s *txStore) FindCandidates(_ context.Context, q ledger.CandidateQuery) ([]domain.CorrelationRow, error) {
	return s.l.sorted(func(r domain.CorrelationRow) bool { return q.Matches(&r) }), nil
}

func (s *txStore) Insert(_ context.Context, row *domain.CorrelationRow) error {
	if !row.MatchKind.Valid() {
		return fmt.Errorf("insert row: invalid match kind %q", row.MatchKind)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.l.now()
	}
	row.ID = s.l.nextID
	s.l.nextID++
	s.l.rows[row.ID] = row.Clone()
	return nil
}

func (s *txStore) Update(_ context.Context, row *domain.CorrelationRow, onlyUnmatched bool) (bool, error) {
	existing, ok := s.l.rows[row.ID]
	if !ok {
		return false, fmt.Errorf("update row %d: %w", row.ID, apperrors.ErrNotFound)
	}
	if onlyUnmatched && existing.Matched {
		return false, nil
	}
	updated := row.Clone()
	updated.MatchKind = existing.MatchKind
	updated.CreatedAt = existing.CreatedAt
	s.l.rows[row.ID] = updated
	return true, nil
}

func (s *txStore) Delete(_ context.Context, id int64, onlyUnmatched bool) (bool, error) {
	existing, ok := s.l.rows[id]
	if !ok || (onlyUnmatched && existing.Matched) {
		return false, nil
	}
	delete(s.l.rows, id)
	return true, nil
}

func (s *txStore) DeleteMatchedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, r := range s.l.rows {
		if r.Matched && r.CreatedAt.Before(cutoff) {
			delete(s.l.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *txStore) FindUnmatched(_ context.Context, from, to time.Time, limit int) ([]domain.CorrelationRow, error) {
	rows := s.l.sorted(func(r domain.CorrelationRow) bool { return unmatchedIn(r, from, to) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *txStore) CountUnmatched(_ context.Context, from, to time.Time) (int64, error) {
	var n int64
	for _, r := range s.l.rows {
		if unmatchedIn(r, from, to) {
			n++
		}
	}
	return n, nil
}

func unmatchedIn(r domain.CorrelationRow, from, to time.Time) bool {
	return !r.Matched && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to)
}

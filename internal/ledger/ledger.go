// Package ledger defines the Ledger Store port the correlation engine
// depends on. Implementations live under internal/repository.
//
// Every Store handed to a TxRunner callback is bound to one transaction.
// Implementations must run that transaction at SERIALIZABLE isolation (or
// an equivalent exclusive lock) so that concurrent find-or-insert sequences
// for the same subject cannot both succeed.
//
// Import Path: dpsrecon.io/reconciliation/internal/ledger
package ledger

import (
	"context"
	"time"

	"dpsrecon.io/reconciliation/internal/domain"
)

// Side is one of the two event streams a row can be populated from.
type Side int

const (
	SideDomain Side = iota
	SideInternal
)

func (s Side) String() string {
	if s == SideInternal {
		return "internal"
	}
	return "domain"
}

// Predicate is a handler-specific candidate filter.
type Predicate int

const (
	// PredicateNone accepts every candidate.
	PredicateNone Predicate = iota
	// PredicateExcludeMergeDomain rejects rows opened by a post-merge admission.
	PredicateExcludeMergeDomain
	// PredicateOnlyMergeDomain accepts only rows opened by a post-merge admission.
	PredicateOnlyMergeDomain
	// PredicateOnlyMergeInternal accepts only rows opened by a merge event.
	PredicateOnlyMergeInternal
	// PredicateExcludeMergeInternal rejects rows opened by a merge event.
	PredicateExcludeMergeInternal
	// PredicateHospitalPrior accepts only release rows whose prior movement
	// was a release to secure hospital.
	PredicateHospitalPrior
)

var predicateNames = map[Predicate]string{
	PredicateNone:                 "none",
	PredicateExcludeMergeDomain:   "exclude-merge-domain",
	PredicateOnlyMergeDomain:      "only-merge-domain",
	PredicateOnlyMergeInternal:    "only-merge-internal",
	PredicateExcludeMergeInternal: "exclude-merge-internal",
	PredicateHospitalPrior:        "hospital-prior",
}

func (p Predicate) String() string {
	if n, ok := predicateNames[p]; ok {
		return n
	}
	return "unknown"
}

// Matches evaluates the predicate against a row. SQL implementations must
// express the same condition; the memory store uses this directly.
func (p Predicate) Matches(row *domain.CorrelationRow) bool {
	postMerge := string(domain.ReceivePostMergeAdmission)
	switch p {
	case PredicateNone:
		return true
	case PredicateExcludeMergeDomain:
		return domain.Deref(row.DomainReason) != postMerge
	case PredicateOnlyMergeDomain:
		return domain.Deref(row.DomainReason) == postMerge
	case PredicateOnlyMergeInternal:
		return domain.Deref(row.InternalReason) == domain.MergeMarker
	case PredicateExcludeMergeInternal:
		return domain.Deref(row.InternalReason) != domain.MergeMarker
	case PredicateHospitalPrior:
		return domain.Deref(row.PriorDirection) == domain.DirectionOut &&
			domain.Deref(row.PriorReason) == domain.HospitalReason
	}
	return false
}

// CandidateQuery selects unmatched rows a newly arrived event may complete.
type CandidateQuery struct {
	Kind      domain.MatchKind
	SubjectID string
	// CreatedAfter is exclusive.
	CreatedAfter time.Time
	// MissingSide is the side the arriving event fills; candidates must not
	// have it yet.
	MissingSide Side
	Predicate   Predicate
}

// Matches reports whether row satisfies every condition of the query.
func (q CandidateQuery) Matches(row *domain.CorrelationRow) bool {
	if row.Matched || row.MatchKind != q.Kind || row.SubjectID != q.SubjectID {
		return false
	}
	if !row.CreatedAt.After(q.CreatedAfter) {
		return false
	}
	switch q.MissingSide {
	case SideDomain:
		if row.HasDomainSide() {
			return false
		}
	case SideInternal:
		if row.HasInternalSide() {
			return false
		}
	}
	return q.Predicate.Matches(row)
}

// Store is the Ledger Store. Methods act within the transaction the Store
// is bound to.
type Store interface {
	// FindCandidates returns unmatched rows for q ordered by id ascending.
	FindCandidates(ctx context.Context, q CandidateQuery) ([]domain.CorrelationRow, error)
	// Insert persists a new row and sets its ID.
	Insert(ctx context.Context, row *domain.CorrelationRow) error
	// Update overwrites a row by ID. When onlyUnmatched is set the write is
	// skipped (and false returned) if the stored row is already matched.
	Update(ctx context.Context, row *domain.CorrelationRow, onlyUnmatched bool) (bool, error)
	// Delete removes a row by ID, reporting whether a row was removed. When
	// onlyUnmatched is set a matched row is left in place.
	Delete(ctx context.Context, id int64, onlyUnmatched bool) (bool, error)
	// DeleteMatchedBefore removes matched rows with createdAt strictly before cutoff.
	DeleteMatchedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// FindUnmatched returns unmatched rows with createdAt in [from, to), ordered by id.
	// A positive limit caps the number of rows returned.
	FindUnmatched(ctx context.Context, from, to time.Time, limit int) ([]domain.CorrelationRow, error)
	// CountUnmatched counts unmatched rows with createdAt in [from, to).
	CountUnmatched(ctx context.Context, from, to time.Time) (int64, error)
}

// TxRunner runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise. A serialization failure surfaces as
// an error wrapping errors.ErrSerializationConflict.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// Package service holds the reconciliation business logic: the correlation
// engine handlers, the batch reconciliation rules, retention purge and
// reporting.
//
// Service code does NOT manage transactions. Every method receives the
// ledger.Store bound to the caller's transaction (see internal/usecase).
//
// Import Path: dpsrecon.io/reconciliation/internal/service
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/ledger"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
	"dpsrecon.io/reconciliation/internal/prisonapi"
	"dpsrecon.io/reconciliation/internal/telemetry"
)

// DefaultMatchWindow bounds how far back a counterpart row is looked up.
const DefaultMatchWindow = 2 * time.Hour

// EngineConfig configures the correlation engine.
type EngineConfig struct {
	MatchWindow time.Duration
	// Location is the canonical zone occurrence times are converted to.
	Location *time.Location
	Now      func() time.Time
}

// Engine is the correlation engine: one handler per inbound event family,
// all built on the same find-or-complete template.
type Engine struct {
	history   prisonapi.MovementHistoryClient
	telemetry telemetry.Client
	window    time.Duration
	loc       *time.Location
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(history prisonapi.MovementHistoryClient, tel telemetry.Client, cfg EngineConfig) *Engine {
	if cfg.MatchWindow <= 0 {
		cfg.MatchWindow = DefaultMatchWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		history:   history,
		telemetry: tel,
		window:    cfg.MatchWindow,
		loc:       cfg.Location,
		now:       cfg.Now,
	}
}

// matchRequest parameterizes the matching template.
type matchRequest struct {
	kind      domain.MatchKind
	subjectID string
	// side is the side this event fills.
	side      ledger.Side
	predicate ledger.Predicate
	fill      func(row *domain.CorrelationRow)
}

// match runs the template: look up unmatched rows still missing this side
// within the window; insert when there are none, otherwise complete the
// oldest and record any ambiguity on it. Returns the outcome string.
func (e *Engine) match(ctx context.Context, store ledger.Store, req matchRequest) (string, error) {
	candidates, err := store.FindCandidates(ctx, ledger.CandidateQuery{
		Kind:         req.kind,
		SubjectID:    req.subjectID,
		CreatedAfter: e.now().Add(-e.window),
		MissingSide:  req.side,
		Predicate:    req.predicate,
	})
	if err != nil {
		return "", err
	}

	if len(candidates) == 0 {
		row := &domain.CorrelationRow{
			MatchKind: req.kind,
			SubjectID: req.subjectID,
		}
		req.fill(row)
		if err := store.Insert(ctx, row); err != nil {
			return "", err
		}
		logger.Debug("Correlation row saved",
			zap.Int64("id", row.ID),
			zap.String("match_kind", string(req.kind)),
			zap.String("subject_id", req.subjectID),
			zap.Stringer("side", req.side),
		)
		return domain.OutcomeSaved, nil
	}

	row := candidates[0]
	outcome := domain.OutcomeMatched
	if len(candidates) > 1 {
		outcome = domain.MultipleOutcome(len(candidates))
	}
	req.fill(&row)
	row.Matched = true
	row.Comment = domain.StringPtr(domain.OutcomeComment(outcome))

	ok, err := store.Update(ctx, &row, true)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("complete row %d: already matched", row.ID)
	}

	if len(candidates) > 1 {
		ids := make([]int64, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		logger.Warn("Unexpected multiple matches",
			zap.String("match_kind", string(req.kind)),
			zap.String("subject_id", req.subjectID),
			zap.Int64("chosen_id", row.ID),
			zap.Int64s("candidate_ids", ids),
		)
		telemetry.Track(ctx, e.telemetry, telemetry.EventMultipleMatch, map[string]string{
			"matchKind":    string(req.kind),
			"subjectId":    req.subjectID,
			"chosenId":     fmt.Sprint(row.ID),
			"candidates":   fmt.Sprint(len(candidates)),
			"side":         req.side.String(),
			"matchOutcome": outcome,
		})
	}
	return outcome, nil
}

// track emits a handler event carrying the raw input and its outcome.
func (e *Engine) track(ctx context.Context, name string, ev domain.InboundEvent, outcome string) {
	props := ev.Properties()
	props[telemetry.OutcomeProperty] = outcome
	telemetry.Track(ctx, e.telemetry, name, props)
}

// canonical converts t into the canonical zone.
func (e *Engine) canonical(t time.Time) time.Time {
	return t.In(e.loc)
}

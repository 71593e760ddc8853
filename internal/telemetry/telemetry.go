// Package telemetry is the fire-and-forget sink for reconciliation events.
//
// Every handler invocation, batch decision, purge and report emits a named
// event with a flat property map. The Recorder writes each event to the
// structured log and counts it in Prometheus; nothing here can fail the
// caller.
//
// Import Path: dpsrecon.io/reconciliation/internal/telemetry
package telemetry

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/pkg/logger"
)

// Event names.
const (
	EventOffender          = "offender-event"
	EventOffenderUpdated   = "offender-event-updated"
	EventOffenderDeleted   = "offender-event-deleted"
	EventMerge             = "merge-event"
	EventDomain            = "domain-event"
	EventDomainIgnored     = "domain-event-ignored"
	EventRestrictedPatient = "restricted-patient-event"
	EventMultipleMatch     = "multiple-match-event"
	EventBatchHospital     = "batch-hospital-merge"
	EventBatchOrphan       = "batch-hospital-orphan"
	EventBatchMergeOrphan  = "batch-merge-orphan"
	EventDatabasePurge     = "database-purge"
	EventNonMatch          = "non-match-event"
)

// OutcomeProperty is the property carrying the resolved match outcome.
const OutcomeProperty = "matchOutcome"

// Client receives telemetry events.
type Client interface {
	TrackEvent(name string, properties map[string]string)
}

// Recorder logs events through zap and counts them in EventsTotal.
type Recorder struct{}

// NewRecorder creates a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// TrackEvent implements Client.
func (r *Recorder) TrackEvent(name string, properties map[string]string) {
	outcome := OutcomeLabel(properties[OutcomeProperty])
	EventsTotal.WithLabelValues(name, outcome).Inc()

	fields := make([]zap.Field, 0, len(properties)+1)
	fields = append(fields, zap.String("event", name))
	for _, k := range sortedKeys(properties) {
		fields = append(fields, zap.String(k, properties[k]))
	}
	logger.Info("Telemetry event", fields...)
}

// OutcomeLabel folds an outcome into a bounded metric label: "multiple: N"
// becomes "multiple" and an absent outcome becomes "none".
func OutcomeLabel(outcome string) string {
	switch {
	case outcome == "":
		return "none"
	case strings.HasPrefix(outcome, "multiple"):
		return "multiple"
	default:
		return outcome
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Event is one captured telemetry event.
type Event struct {
	Name       string
	Properties map[string]string
}

// Capture records events in memory. Safe for concurrent use.
type Capture struct {
	mu     sync.Mutex
	events []Event
}

// TrackEvent implements Client.
func (c *Capture) TrackEvent(name string, properties map[string]string) {
	props := make(map[string]string, len(properties))
	for k, v := range properties {
		props[k] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, Event{Name: name, Properties: props})
}

// Events returns a copy of everything captured so far.
func (c *Capture) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Named returns the captured events called name.
func (c *Capture) Named(name string) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets all captured events.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/jobs"
)

type fakeInserter struct {
	mu   sync.Mutex
	args []river.JobArgs
	err  error
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.args = append(f.args, args)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(f.args)), Kind: args.Kind()}}, nil
}

func (f *fakeInserter) inserted() []river.JobArgs {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]river.JobArgs(nil), f.args...)
}

func releasedEnvelope(t *testing.T, subject string) []byte {
	return envelope(t, domain.EventTypePrisonerReleased, map[string]any{
		"occurredAt":            "2026-07-01T10:00:00Z",
		"additionalInformation": map[string]any{"nomsNumber": subject, "reason": "RELEASED"},
	})
}

func acked(msg *message.Message) bool {
	select {
	case <-msg.Acked():
		return true
	default:
		return false
	}
}

func nacked(msg *message.Message) bool {
	select {
	case <-msg.Nacked():
		return true
	default:
		return false
	}
}

func TestListener_Process(t *testing.T) {
	tests := []struct {
		name       string
		payload    func(t *testing.T) []byte
		insertErr  error
		wantResult string
		wantAck    bool
		wantJobs   int
	}{
		{
			name:       "known event is enqueued then acked",
			payload:    func(t *testing.T) []byte { return releasedEnvelope(t, "A1") },
			wantResult: ResultEnqueued,
			wantAck:    true,
			wantJobs:   1,
		},
		{
			name: "unknown event type is acked and dropped",
			payload: func(t *testing.T) []byte {
				return envelope(t, "some.other.event", map[string]any{})
			},
			wantResult: ResultDropped,
			wantAck:    true,
		},
		{
			name:       "malformed payload is nacked",
			payload:    func(*testing.T) []byte { return []byte(`{"Type":`) },
			wantResult: ResultRejected,
		},
		{
			name:       "insert failure is nacked",
			payload:    func(t *testing.T) []byte { return releasedEnvelope(t, "A1") },
			insertErr:  errors.New("database unavailable"),
			wantResult: ResultFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inserter := &fakeInserter{err: tt.insertErr}
			l := New(nil, "reconciliation.events", NewDecoder(time.UTC), inserter)
			msg := message.NewMessage(watermill.NewUUID(), tt.payload(t))

			got := l.process(context.Background(), msg)

			assert.Equal(t, tt.wantResult, got)
			assert.Equal(t, tt.wantAck, acked(msg))
			assert.Equal(t, !tt.wantAck, nacked(msg))
			assert.Len(t, inserter.inserted(), tt.wantJobs)
		})
	}
}

func TestListener_ProcessBuildsJobArgs(t *testing.T) {
	inserter := &fakeInserter{}
	l := New(nil, "reconciliation.events", NewDecoder(time.UTC), inserter)

	l.process(context.Background(), message.NewMessage(watermill.NewUUID(), releasedEnvelope(t, "A7")))

	args := inserter.inserted()
	require.Len(t, args, 1)
	released, ok := args[0].(jobs.PrisonerReleasedArgs)
	require.True(t, ok, "got %T", args[0])
	assert.Equal(t, "A7", released.Event.SubjectID)
	assert.Equal(t, domain.ReleaseReleased, released.Event.Reason)
}

func TestListener_Run(t *testing.T) {
	wlog := NewZapLoggerAdapter(zap.NewNop())
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, wlog)
	defer pubSub.Close()

	const topic = "reconciliation.events"
	for _, subject := range []string{"A1", "A2"} {
		require.NoError(t, pubSub.Publish(topic, message.NewMessage(watermill.NewUUID(), releasedEnvelope(t, subject))))
	}

	inserter := &fakeInserter{}
	l := New(pubSub, topic, NewDecoder(time.UTC), inserter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return len(inserter.inserted()) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		// The subscription may close before Run observes the cancellation.
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"rolodex/pkg/requestcontext"
)

func TestPublisherStampsEvents(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	ctx := requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), now), "req-1")

	require.NoError(t, publisher.Emit(ctx, Event{Action: EventContactCreated, ContactID: "c-1"}))

	events, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, now, events[0].Timestamp)
	assert.Equal(t, "req-1", events[0].RequestID)
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Append(ctx, Event{Action: EventContactCreated}))
	assert.ErrorIs(t, q.Append(ctx, Event{Action: EventContactDeleted}), ErrQueueFull)
}

type failingStore struct{}

func (failingStore) Append(context.Context, Event) error { return errors.New("sink down") }

func TestWorkerForwardsAndDrains(t *testing.T) {
	q := NewQueue(10)
	sink := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewWorker(sink, q.Events(), nil).Run(ctx) }()

	require.NoError(t, q.Append(ctx, Event{Action: EventContactCreated, ContactID: "a"}))
	require.Eventually(t, func() bool {
		events, _ := sink.List(ctx)
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// Queued after shutdown began; a fresh worker drains it on exit.
	require.NoError(t, q.Append(context.Background(), Event{Action: EventContactDeleted, ContactID: "a"}))
	stopped, stop := context.WithCancel(context.Background())
	stop()
	require.ErrorIs(t, NewWorker(sink, q.Events(), nil).Run(stopped), context.Canceled)

	events, err := sink.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestWorkerSurvivesSinkFailure(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Append(context.Background(), Event{Action: EventContactCreated}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWorker(failingStore{}, q.Events(), nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingProducer struct {
	records []*kgo.Record
	err     error
}

func (p *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func TestKafkaSink(t *testing.T) {
	t.Run("publishes json keyed by contact", func(t *testing.T) {
		producer := &recordingProducer{}
		sink := NewKafkaSink(producer, "contacts.audit")

		err := sink.Append(context.Background(), Event{Action: EventContactUpdated, ContactID: "c-9"})
		require.NoError(t, err)

		require.Len(t, producer.records, 1)
		rec := producer.records[0]
		assert.Equal(t, "contacts.audit", rec.Topic)
		assert.Equal(t, []byte("c-9"), rec.Key)
		var decoded Event
		require.NoError(t, json.Unmarshal(rec.Value, &decoded))
		assert.Equal(t, EventContactUpdated, decoded.Action)
	})

	t.Run("surfaces produce errors", func(t *testing.T) {
		sink := NewKafkaSink(&recordingProducer{err: errors.New("not leader")}, "contacts.audit")
		err := sink.Append(context.Background(), Event{Action: EventContactDeleted})
		assert.ErrorContains(t, err, "not leader")
	})
}

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"form-relay/internal/messaging"
	"form-relay/internal/metrics"
	"form-relay/internal/model"
)

type datagram struct {
	payload []byte
	err     error
}

// scriptedReceiver replays a fixed sequence of datagrams, then blocks like
// an idle socket until the context ends.
type scriptedReceiver struct {
	queue chan datagram
}

func newScriptedReceiver(items ...datagram) *scriptedReceiver {
	r := &scriptedReceiver{queue: make(chan datagram, len(items)+8)}
	for _, it := range items {
		r.queue <- it
	}
	return r
}

func payload(s string) datagram { return datagram{payload: []byte(s)} }

func (r *scriptedReceiver) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-r.queue:
		return d.payload, d.err
	}
}

func (r *scriptedReceiver) Close() error { return nil }

type memoryStore struct {
	mu      sync.Mutex
	records []model.Record
	failOn  map[string]error
	panicOn string
}

func (s *memoryStore) InsertMessage(_ context.Context, record *model.Record) error {
	if record.Username == s.panicOn {
		panic("store exploded")
	}
	if err := s.failOn[record.Username]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

func (s *memoryStore) Close(context.Context) error { return nil }

func (s *memoryStore) snapshot() []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Record(nil), s.records...)
}

var fixedTime = time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.Local)

func runUntilDrained(t *testing.T, c *Consumer, r *scriptedReceiver) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(r.queue) == 0 }, 2*time.Second, 5*time.Millisecond)
	// give the last datagram time to be handled before stopping
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumer_PersistsValidSubmission(t *testing.T) {
	store := &memoryStore{}
	receiver := newScriptedReceiver(payload("username=alice&message=hello"))
	consumer := NewConsumer(receiver, store, WithClock(func() time.Time { return fixedTime }))

	runUntilDrained(t, consumer, receiver)

	require.Equal(t, []model.Record{{
		Date:     "2024-03-01 12:30:45.123456",
		Username: "alice",
		Message:  "hello",
	}}, store.snapshot())
}

func TestConsumer_DropsBadMessagesAndKeepsGoing(t *testing.T) {
	store := &memoryStore{}
	receiver := newScriptedReceiver(
		payload("username=al%zzice&message=hi"),
		datagram{payload: []byte{'u', '=', 0xff}},
		payload("message=no+author"),
		payload("username=nobody"),
		payload("username=&message=blank"),
		datagram{payload: []byte("username=big&mes"), err: messaging.ErrTruncated},
		datagram{err: errors.New("transient read failure")},
		payload("username=bob&message=still+here"),
	)
	consumer := NewConsumer(receiver, store)

	runUntilDrained(t, consumer, receiver)

	records := store.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "bob", records[0].Username)
	assert.Equal(t, "still here", records[0].Message)
}

func TestConsumer_StoreFailureDoesNotStopLoop(t *testing.T) {
	store := &memoryStore{failOn: map[string]error{"carol": errors.New("server selection timeout")}}
	receiver := newScriptedReceiver(
		payload("username=carol&message=lost"),
		payload("username=dave&message=kept"),
	)
	consumer := NewConsumer(receiver, store)

	runUntilDrained(t, consumer, receiver)

	records := store.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "dave", records[0].Username)
}

func TestConsumer_FirstValueWins(t *testing.T) {
	store := &memoryStore{}
	receiver := newScriptedReceiver(payload("username=first&username=second&message=one&message=two"))
	consumer := NewConsumer(receiver, store)

	runUntilDrained(t, consumer, receiver)

	records := store.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "first", records[0].Username)
	assert.Equal(t, "one", records[0].Message)
}

func TestConsumer_DateIsConsumptionTime(t *testing.T) {
	store := &memoryStore{}
	receiver := newScriptedReceiver(payload("username=alice&message=hello"))
	consumer := NewConsumer(receiver, store)

	before := time.Now()
	runUntilDrained(t, consumer, receiver)

	records := store.snapshot()
	require.Len(t, records, 1)
	at, err := time.ParseInLocation(model.DateLayout, records[0].Date, time.Local)
	require.NoError(t, err)
	assert.False(t, at.Before(before.Truncate(time.Microsecond)))
}

func TestHandle_Outcomes(t *testing.T) {
	store := &memoryStore{
		failOn:  map[string]error{"fail": errors.New("rejected")},
		panicOn: "boom",
	}
	consumer := NewConsumer(newScriptedReceiver(), store)

	tests := []struct {
		payload string
		outcome string
	}{
		{"username=a&message=b", metrics.OutcomePersisted},
		{"username=%zz&message=b", metrics.OutcomeDecodeError},
		{"message=b", metrics.OutcomeMissingField},
		{"username=fail&message=b", metrics.OutcomeStoreError},
		{"username=boom&message=b", metrics.OutcomePanic},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.outcome, consumer.Handle(context.Background(), []byte(tt.payload)), tt.payload)
	}
}

func TestConsumer_CountsOutcomes(t *testing.T) {
	persisted := testutil.ToFloat64(metrics.RelayMessages.WithLabelValues(metrics.OutcomePersisted))
	decodeErrors := testutil.ToFloat64(metrics.RelayMessages.WithLabelValues(metrics.OutcomeDecodeError))

	store := &memoryStore{}
	receiver := newScriptedReceiver(
		payload("username=%zz"),
		payload("username=erin&message=ok"),
	)
	runUntilDrained(t, NewConsumer(receiver, store), receiver)

	assert.Equal(t, persisted+1, testutil.ToFloat64(metrics.RelayMessages.WithLabelValues(metrics.OutcomePersisted)))
	assert.Equal(t, decodeErrors+1, testutil.ToFloat64(metrics.RelayMessages.WithLabelValues(metrics.OutcomeDecodeError)))
}

func TestConsumer_StartStop(t *testing.T) {
	store := &memoryStore{}
	receiver := newScriptedReceiver()
	consumer := NewConsumer(receiver, store)

	consumer.Start()
	receiver.queue <- payload("username=frank&message=async")
	require.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		consumer.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// a second Stop is a no-op
	consumer.Stop()
}

func TestConsumer_ReturnsWhenChannelCloses(t *testing.T) {
	receiver := newScriptedReceiver(datagram{err: messaging.ErrClosed})
	err := NewConsumer(receiver, &memoryStore{}).Run(context.Background())
	require.NoError(t, err)
}

// internal/relay/consumer.go
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/samber/lo"

	"form-relay/internal/codec"
	"form-relay/internal/messaging"
	"form-relay/internal/metrics"
	"form-relay/internal/model"
	"form-relay/internal/storage"
)

var ErrMissingField = errors.New("required field missing")

// receiveBackoff spaces out retries after unexpected receive errors.
const receiveBackoff = 100 * time.Millisecond

// Consumer drains the datagram channel one payload at a time and persists
// each valid submission. A bad payload or a failed insert only loses that
// one message.
type Consumer struct {
	receiver      messaging.Receiver
	store         storage.DocumentStore
	driver        string
	insertTimeout time.Duration
	now           func() time.Time

	mu       sync.Mutex
	StopChan chan struct{}
	DoneChan chan struct{}
}

type Option func(*Consumer)

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Consumer) { c.now = now }
}

// WithInsertTimeout bounds each insert; zero keeps the default.
func WithInsertTimeout(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.insertTimeout = d
		}
	}
}

// WithDriverLabel names the store in insert latency metrics.
func WithDriverLabel(driver string) Option {
	return func(c *Consumer) { c.driver = driver }
}

func NewConsumer(receiver messaging.Receiver, store storage.DocumentStore, opts ...Option) *Consumer {
	c := &Consumer{
		receiver:      receiver,
		store:         store,
		driver:        "unknown",
		insertTimeout: 5 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run blocks until ctx is cancelled or the channel is closed.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("[Relay] Consumer running")
	for {
		payload, err := c.receiver.Receive(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, messaging.ErrClosed):
			log.Printf("[Relay] Datagram channel closed")
			return nil
		case errors.Is(err, messaging.ErrTruncated):
			metrics.RelayMessages.WithLabelValues(metrics.OutcomeTruncated).Inc()
			log.Printf("[Relay] Dropped datagram larger than %d bytes", len(payload))
			continue
		default:
			log.Printf("[Relay] Receive failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveBackoff):
			}
			continue
		}

		outcome := c.Handle(ctx, payload)
		metrics.RelayMessages.WithLabelValues(outcome).Inc()
	}
}

// Handle processes a single payload and reports its outcome. It never
// panics; a panic while handling is recovered and counted.
func (c *Consumer) Handle(ctx context.Context, payload []byte) (outcome string) {
	defer func() {
		if fatalError := recover(); fatalError != nil {
			log.Printf("[Relay] Panic while handling datagram: %v\n%s", fatalError, debug.Stack())
			outcome = metrics.OutcomePanic
		}
	}()

	fields, err := codec.Decode(payload)
	if err != nil {
		log.Printf("[Relay] Dropped datagram: %v", err)
		return metrics.OutcomeDecodeError
	}

	record, err := c.buildRecord(fields)
	if err != nil {
		log.Printf("[Relay] Dropped datagram: %v", err)
		return metrics.OutcomeMissingField
	}

	// An insert already under way is allowed to finish during shutdown.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.insertTimeout)
	defer cancel()

	start := time.Now()
	err = c.store.InsertMessage(insertCtx, record)
	metrics.InsertDuration.WithLabelValues(c.driver).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("[Relay] Failed to persist message from %q: %v", record.Username, err)
		return metrics.OutcomeStoreError
	}
	return metrics.OutcomePersisted
}

// buildRecord keeps only the first value of each field. Repeated fields are
// truncated rather than rejected.
func (c *Consumer) buildRecord(fields map[string][]string) (*model.Record, error) {
	username, ok := lo.First(fields["username"])
	if !ok || username == "" {
		return nil, fmt.Errorf("%w: username", ErrMissingField)
	}
	message, ok := lo.First(fields["message"])
	if !ok || message == "" {
		return nil, fmt.Errorf("%w: message", ErrMissingField)
	}
	return model.NewRecord(c.now(), username, message), nil
}

// Start runs the consumer in its own goroutine until Stop is called.
func (c *Consumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.StopChan = make(chan struct{})
	c.DoneChan = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c.StopChan
		cancel()
	}()
	go func() {
		defer close(c.DoneChan)
		defer cancel()
		_ = c.Run(ctx)
	}()
}

// Stop signals the consumer to stop and waits for the current message.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.StopChan == nil {
		return
	}
	close(c.StopChan)
	<-c.DoneChan
	c.StopChan = nil
	log.Printf("[Relay] Consumer stopped")
}

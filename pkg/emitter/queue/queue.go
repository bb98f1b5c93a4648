// Package queue buffers stamped events and hands them to a Sender in
// batches, either when the batch size is reached or when the flush
// interval elapses. Failed batches go back to the head of the queue so
// delivery order is kept across retries.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/newrelic/newrelic-labs-emitter/internal/clock"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/log"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/metrics"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/model"
)

const (
	DEFAULT_BATCH_SIZE     = 10
	DEFAULT_FLUSH_INTERVAL = 5 * time.Second
)

// Sender is the delivery side of the queue. transport.Transport implements
// it.
type Sender interface {
	Send(ctx context.Context, events []model.Event) error
	SendBestEffort(events []model.Event) bool
}

type QueueOpt func(q *EventQueue)

type EventQueue struct {
	sender        Sender
	batchSize     int
	flushInterval time.Duration
	maxPending    int
	clock         clock.Clock
	metrics       *metrics.Metrics

	mu       sync.Mutex
	idle     *sync.Cond
	pending  []model.Event
	flushing bool
	closed   bool

	trigger  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates the queue and starts its background loop. A batchSize below
// one or a non-positive interval falls back to the defaults.
func New(
	sender Sender,
	batchSize int,
	flushInterval time.Duration,
	opts ...QueueOpt,
) *EventQueue {
	if batchSize < 1 {
		batchSize = DEFAULT_BATCH_SIZE
	}

	if flushInterval <= 0 {
		flushInterval = DEFAULT_FLUSH_INTERVAL
	}

	q := &EventQueue{
		sender:        sender,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		clock:         clock.Real(),
		metrics:       metrics.Nop(),
		trigger:       make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	q.idle = sync.NewCond(&q.mu)
	q.ctx, q.cancel = context.WithCancel(context.Background())

	// The ticker is registered before the loop starts so a caller driving a
	// fake clock can advance it right after New returns.
	ticker := q.clock.NewTicker(q.flushInterval)

	log.Debugf(
		"starting event queue with batch size %d and flush interval %s",
		q.batchSize,
		q.flushInterval,
	)

	go q.run(ticker)

	return q
}

func WithClock(c clock.Clock) QueueOpt {
	return func(q *EventQueue) {
		q.clock = c
	}
}

func WithMetrics(m *metrics.Metrics) QueueOpt {
	return func(q *EventQueue) {
		q.metrics = m
	}
}

// WithMaxPending caps the number of buffered events. When the cap is
// exceeded the oldest events are dropped. Zero means unbounded.
func WithMaxPending(maxPending int) QueueOpt {
	return func(q *EventQueue) {
		q.maxPending = maxPending
	}
}

// Enqueue appends event to the pending buffer. It never does I/O: reaching
// the batch size only wakes the background loop.
func (q *EventQueue) Enqueue(event model.Event) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		log.Debugf("queue closed; dropping %s event", event.Type)
		q.metrics.EventsDropped.WithLabelValues("closed").Inc()
		return
	}

	q.pending = append(q.pending, event)
	q.metrics.EventsEnqueued.Inc()
	q.trimLocked()

	depth := len(q.pending)
	q.metrics.QueueDepth.Set(float64(depth))

	q.mu.Unlock()

	if depth >= q.batchSize {
		log.Debugf("batch size reached with %d pending events", depth)
		q.signal()
	}
}

// Flush sends everything pending as one batch. It returns nil without
// sending when the queue is empty or another flush is in progress. On
// failure the batch is put back ahead of anything enqueued meanwhile and
// the send error is returned.
func (q *EventQueue) Flush(ctx context.Context) error {
	q.mu.Lock()

	if q.flushing || len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}

	batch := q.pending
	q.pending = nil
	q.flushing = true
	q.metrics.QueueDepth.Set(0)

	q.mu.Unlock()

	log.Debugf("flushing %d events", len(batch))

	start := q.clock.Now()
	err := q.sender.Send(ctx, batch)
	q.metrics.FlushDuration.Observe(q.clock.Now().Sub(start).Seconds())

	q.mu.Lock()
	defer q.mu.Unlock()

	q.flushing = false
	q.idle.Broadcast()

	if err == nil {
		// pick up a threshold crossed while this flush held the guard
		if !q.closed && len(q.pending) >= q.batchSize {
			q.signal()
		}
		return nil
	}

	if q.closed {
		log.Debugf("queue closed; dropping %d events from failed batch", len(batch))
		q.metrics.EventsDropped.WithLabelValues("closed").Add(float64(len(batch)))
		return err
	}

	log.Debugf("flush failed; requeueing %d events: %v", len(batch), err)

	q.pending = append(batch, q.pending...)
	q.metrics.EventsRequeued.Add(float64(len(batch)))
	q.trimLocked()
	q.metrics.QueueDepth.Set(float64(len(q.pending)))

	return err
}

// Teardown is the last call a queue receives before the host goes away.
// It stops the loop without waiting for an in-flight send, closes the
// queue and makes one best-effort attempt with whatever is pending. The
// queue is empty afterwards whatever the outcome.
func (q *EventQueue) Teardown() bool {
	q.halt()

	q.mu.Lock()
	q.closed = true
	batch := q.pending
	q.pending = nil
	q.metrics.QueueDepth.Set(0)
	q.mu.Unlock()

	if len(batch) == 0 {
		return true
	}

	log.Debugf("teardown; best-effort send of %d events", len(batch))

	ok := q.sender.SendBestEffort(batch)
	if !ok {
		q.metrics.EventsDropped.WithLabelValues("teardown").Add(float64(len(batch)))
	}

	return ok
}

// Drain stops the background loop without cancelling a send it may be
// running, waits for that send to finish and then flushes until nothing is
// pending. It returns the first send error, or ctx's error when the loop
// does not exit in time. Later enqueues are only sent by an explicit Flush.
func (q *EventQueue) Drain(ctx context.Context) error {
	q.halt()

	select {
	case <-q.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		q.mu.Lock()
		for q.flushing {
			q.idle.Wait()
		}
		depth := len(q.pending)
		q.mu.Unlock()

		if depth == 0 {
			return nil
		}

		log.Debugf("draining %d pending events", depth)

		err := q.Flush(ctx)
		if err != nil {
			return err
		}
	}
}

// Stop ends the background loop, cancelling a send it may be running, and
// waits for it to exit. Pending events are kept.
func (q *EventQueue) Stop() {
	q.halt()
	q.cancel()
	<-q.done
}

// Clear drops pending events without sending them.
func (q *EventQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) > 0 {
		log.Debugf("clearing %d pending events", len(q.pending))
		q.metrics.EventsDropped.WithLabelValues("cleared").Add(float64(len(q.pending)))
	}

	q.pending = nil
	q.metrics.QueueDepth.Set(0)
}

// Close stops the loop and discards the buffer. Later enqueues are dropped.
func (q *EventQueue) Close() {
	q.Stop()

	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.Clear()
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Closed reports whether Teardown or Close has run.
func (q *EventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *EventQueue) run(ticker *clock.Ticker) {
	defer close(q.done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Debugf("flush interval elapsed")
			q.flushInBackground()

		case <-q.trigger:
			q.flushInBackground()

		case <-q.stop:
			log.Debugf("event queue loop stopped")
			return
		}
	}
}

func (q *EventQueue) flushInBackground() {
	err := q.Flush(q.ctx)
	if err != nil {
		log.Debugf("background flush failed: %v", err)
	}
}

func (q *EventQueue) signal() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

func (q *EventQueue) halt() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
}

func (q *EventQueue) trimLocked() {
	if q.maxPending <= 0 || len(q.pending) <= q.maxPending {
		return
	}

	over := len(q.pending) - q.maxPending

	log.Debugf("pending limit %d exceeded; dropping %d oldest events", q.maxPending, over)
	q.metrics.EventsDropped.WithLabelValues("overflow").Add(float64(over))

	q.pending = append([]model.Event(nil), q.pending[over:]...)
}

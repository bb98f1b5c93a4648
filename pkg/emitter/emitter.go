// Package emitter records product analytics events and delivers them in
// batches to a collection endpoint.
//
// Recording is fire and forget: Track, Pageview and Identify never block on
// the network and never report delivery errors. Delivery outcomes are only
// visible through Flush, and through debug logging when enabled.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/newrelic/newrelic-labs-emitter/internal/clock"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/envctx"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/identity"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/log"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/metrics"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/model"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/queue"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/transport"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DEFAULT_BATCH_SIZE      = queue.DEFAULT_BATCH_SIZE
	DEFAULT_FLUSH_INTERVAL  = queue.DEFAULT_FLUSH_INTERVAL
	DEFAULT_MAX_RETRIES     = transport.DEFAULT_MAX_RETRIES
	DEFAULT_REQUEST_TIMEOUT = transport.DEFAULT_REQUEST_TIMEOUT
	DEFAULT_BEACON_TIMEOUT  = transport.DEFAULT_BEACON_TIMEOUT
	DEFAULT_BACKOFF_UNIT    = transport.DEFAULT_BACKOFF_UNIT
)

var (
	ErrMissingEndpoint = errors.New("endpoint is required")
	ErrInvalidEndpoint = errors.New("endpoint must be an absolute http or https URL")
)

// Config is the resolved configuration of an emitter. It is fixed once New
// returns.
type Config struct {
	Endpoint            string
	BatchSize           int
	FlushInterval       time.Duration
	MaxRetries          int
	Debug               bool
	DisableAutoPageview bool
	RequestTimeout      time.Duration
	BeaconTimeout       time.Duration
	BackoffUnit         time.Duration
	MaxPending          int
	Compress            bool
	Headers             map[string]string
}

type Emitter struct {
	config          Config
	clock           clock.Clock
	store           identity.Store
	contextProvider envctx.Provider
	registerer      prometheus.Registerer
	app             *newrelic.Application
	processors      ProcessorList
	transportOpts   []transport.TransportOpt

	metrics   *metrics.Metrics
	transport *transport.Transport
	queue     *queue.EventQueue

	mu          sync.RWMutex
	userID      string
	traits      model.Traits
	anonymousID string

	shutdownOnce sync.Once
}

// New validates the configuration, resolves the anonymous id, starts the
// background flush loop and, unless disabled, records one page view.
func New(endpoint string, opts ...Option) (*Emitter, error) {
	if endpoint == "" {
		return nil, ErrMissingEndpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	e := &Emitter{
		config: Config{
			Endpoint:       endpoint,
			BatchSize:      DEFAULT_BATCH_SIZE,
			FlushInterval:  DEFAULT_FLUSH_INTERVAL,
			MaxRetries:     DEFAULT_MAX_RETRIES,
			RequestTimeout: DEFAULT_REQUEST_TIMEOUT,
			BeaconTimeout:  DEFAULT_BEACON_TIMEOUT,
			BackoffUnit:    DEFAULT_BACKOFF_UNIT,
			Headers:        map[string]string{},
		},
		clock:           clock.Real(),
		contextProvider: envctx.Host(),
	}

	for _, opt := range opts {
		err := opt(e)
		if err != nil {
			return nil, err
		}
	}

	if e.config.Debug {
		log.EnableDebug()
	}

	e.metrics = metrics.New(e.registerer)
	e.anonymousID = e.resolveAnonymousID()

	e.transport = transport.New(
		e.config.Endpoint,
		append([]transport.TransportOpt{
			transport.WithMaxRetries(e.config.MaxRetries),
			transport.WithBackoffUnit(e.config.BackoffUnit),
			transport.WithRequestTimeout(e.config.RequestTimeout),
			transport.WithBeacon(transport.NewHttpBeacon(e.config.BeaconTimeout)),
			transport.WithHeaders(e.config.Headers),
			transport.WithCompression(e.config.Compress),
			transport.WithDebug(e.config.Debug),
			transport.WithApplication(e.app),
			transport.WithMetrics(e.metrics),
		}, e.transportOpts...)...,
	)

	e.queue = queue.New(
		e.transport,
		e.config.BatchSize,
		e.config.FlushInterval,
		queue.WithClock(e.clock),
		queue.WithMetrics(e.metrics),
		queue.WithMaxPending(e.config.MaxPending),
	)

	if log.IsDebugEnabled() {
		log.Debugf("emitter initialized with config follows")
		log.PrettyPrintJson(e.Config())
	}

	if !e.config.DisableAutoPageview {
		e.Pageview(nil)
	}

	return e, nil
}

func (e *Emitter) resolveAnonymousID() string {
	if e.store == nil {
		e.store = identity.NewMemoryStore()
	}

	id, err := e.store.GetOrCreate(identity.ANONYMOUS_ID_KEY)
	if err == nil && id != "" {
		return id
	}

	log.Warnf("could not resolve anonymous id, using a temporary one: %v", err)

	return identity.NewAnonymousID(e.clock.Now())
}

// Track records a custom event.
func (e *Emitter) Track(name string, properties model.Properties) {
	e.record(model.NewTrackEvent(name, properties, e.clock.Now()))
}

// Pageview records a page view.
func (e *Emitter) Pageview(properties model.Properties) {
	e.record(model.NewPageEvent(properties, e.clock.Now()))
}

// Identify associates this emitter with userID. Every event recorded after
// it, the identify event included, carries userID. There is no way to
// undo it.
func (e *Emitter) Identify(userID string, traits model.Traits) {
	evt := model.NewIdentifyEvent(userID, traits, e.clock.Now())

	e.mu.Lock()
	e.userID = userID
	e.traits = evt.Traits
	e.mu.Unlock()

	e.record(evt)
}

// Flush runs one flush cycle and returns its outcome. A cycle that found
// nothing to send, or found another flush in progress, returns nil.
func (e *Emitter) Flush(ctx context.Context) error {
	return e.queue.Flush(ctx)
}

// Drain stops background flushing, lets a send already in progress finish
// and then flushes everything still pending. It returns the first delivery
// error, leaving the undelivered events pending.
func (e *Emitter) Drain(ctx context.Context) error {
	return e.queue.Drain(ctx)
}

// Shutdown stops the flush loop and discards pending events without
// sending them. Call Drain first when delivery matters.
func (e *Emitter) Shutdown() {
	e.shutdownOnce.Do(func() {
		log.Debugf("shutting down emitter; discarding %d pending events", e.queue.Len())
		e.queue.Close()
	})
}

// Teardown is for hosts that are about to exit. It makes one bounded,
// best-effort attempt to send whatever is pending and reports whether the
// attempt was accepted. The emitter records nothing afterwards.
func (e *Emitter) Teardown() bool {
	return e.queue.Teardown()
}

func (e *Emitter) UserID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.userID
}

func (e *Emitter) Traits() model.Traits {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.traits == nil {
		return nil
	}

	traits := make(model.Traits, len(e.traits))
	for k, v := range e.traits {
		traits[k] = v
	}

	return traits
}

func (e *Emitter) AnonymousID() string {
	return e.anonymousID
}

func (e *Emitter) Config() Config {
	c := e.config

	c.Headers = make(map[string]string, len(e.config.Headers))
	for k, v := range e.config.Headers {
		c.Headers[k] = v
	}

	return c
}

// Pending is the number of events waiting to be sent.
func (e *Emitter) Pending() int {
	return e.queue.Len()
}

func (e *Emitter) record(evt model.Event) {
	evt.AnonymousID = e.anonymousID

	if evt.Type != model.Identify {
		e.mu.RLock()
		evt.UserID = e.userID
		e.mu.RUnlock()
	}

	evt.Context = e.contextProvider().Clone()
	evt.MessageID = uuid.NewString()

	processed, err := e.processors.Process(evt)
	if err != nil {
		if errors.Is(err, ErrDropEvent) {
			log.Debugf("%s event dropped by processor", evt.Type)
		} else {
			log.Warnf("processor failed, dropping %s event: %v", evt.Type, err)
		}

		e.metrics.EventsDropped.WithLabelValues("processor").Inc()
		return
	}

	evt = processed
	e.queue.Enqueue(evt)

	switch evt.Type {
	case model.Track:
		log.Debugf("event tracked: %s", evt.Event)
	case model.Identify:
		log.Debugf("user identified: %s", evt.UserID)
	default:
		log.Debugf("pageview tracked")
	}
}

package emitter

import (
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/newrelic/newrelic-labs-emitter/internal/clock"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/envctx"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/identity"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/transport"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	Option func(e *Emitter) error
)

func WithBatchSize(batchSize int) Option {
	return func(e *Emitter) error {
		if batchSize < 1 {
			return fmt.Errorf("batch size must be at least 1, got %d", batchSize)
		}

		e.config.BatchSize = batchSize
		return nil
	}
}

func WithFlushInterval(interval time.Duration) Option {
	return func(e *Emitter) error {
		if interval <= 0 {
			return fmt.Errorf("flush interval must be positive, got %s", interval)
		}

		e.config.FlushInterval = interval
		return nil
	}
}

// WithMaxRetries sets how many attempts follow the first one. Zero means
// a single attempt.
func WithMaxRetries(maxRetries int) Option {
	return func(e *Emitter) error {
		if maxRetries < 0 {
			return fmt.Errorf("max retries must not be negative, got %d", maxRetries)
		}

		e.config.MaxRetries = maxRetries
		return nil
	}
}

// WithDebug turns on debug logging. The level is raised on the shared
// RootLogger, so it applies to the whole process and is not lowered again
// by a later emitter created with debug off.
func WithDebug(debug bool) Option {
	return func(e *Emitter) error {
		e.config.Debug = debug
		return nil
	}
}

func WithDisableAutoPageview(disable bool) Option {
	return func(e *Emitter) error {
		e.config.DisableAutoPageview = disable
		return nil
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(e *Emitter) error {
		if timeout <= 0 {
			return fmt.Errorf("request timeout must be positive, got %s", timeout)
		}

		e.config.RequestTimeout = timeout
		return nil
	}
}

func WithBeaconTimeout(timeout time.Duration) Option {
	return func(e *Emitter) error {
		if timeout <= 0 {
			return fmt.Errorf("beacon timeout must be positive, got %s", timeout)
		}

		e.config.BeaconTimeout = timeout
		return nil
	}
}

func WithBackoffUnit(unit time.Duration) Option {
	return func(e *Emitter) error {
		if unit <= 0 {
			return fmt.Errorf("backoff unit must be positive, got %s", unit)
		}

		e.config.BackoffUnit = unit
		return nil
	}
}

// WithMaxPending bounds the in-memory buffer. Once full, the oldest events
// are dropped. Zero keeps the buffer unbounded.
func WithMaxPending(maxPending int) Option {
	return func(e *Emitter) error {
		if maxPending < 0 {
			return fmt.Errorf("max pending must not be negative, got %d", maxPending)
		}

		e.config.MaxPending = maxPending
		return nil
	}
}

func WithCompression(compress bool) Option {
	return func(e *Emitter) error {
		e.config.Compress = compress
		return nil
	}
}

// WithHeaders adds request headers, e.g. a write key, to every send.
func WithHeaders(headers map[string]string) Option {
	return func(e *Emitter) error {
		for k, v := range headers {
			e.config.Headers[k] = v
		}

		return nil
	}
}

func WithIdentityStore(store identity.Store) Option {
	return func(e *Emitter) error {
		e.store = store
		return nil
	}
}

func WithContextProvider(provider envctx.Provider) Option {
	return func(e *Emitter) error {
		e.contextProvider = provider
		return nil
	}
}

func WithClock(c clock.Clock) Option {
	return func(e *Emitter) error {
		e.clock = c
		return nil
	}
}

// WithRegisterer registers the emitter's collectors with reg. Two emitters
// cannot share one registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Emitter) error {
		e.registerer = reg
		return nil
	}
}

func WithApplication(app *newrelic.Application) Option {
	return func(e *Emitter) error {
		e.app = app
		return nil
	}
}

func WithBeacon(beacon transport.Beacon) Option {
	return func(e *Emitter) error {
		e.transportOpts = append(e.transportOpts, transport.WithBeacon(beacon))
		return nil
	}
}

func WithoutBeacon() Option {
	return func(e *Emitter) error {
		e.transportOpts = append(e.transportOpts, transport.WithoutBeacon())
		return nil
	}
}

func WithProcessor(processor ProcessorFunc) Option {
	return func(e *Emitter) error {
		e.processors.AddProcessor(processor)
		return nil
	}
}

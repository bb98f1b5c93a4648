package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowCollector struct {
	mu      sync.Mutex
	events  []string
	arrived chan struct{}
	server  *httptest.Server
}

func newSlowCollector(t *testing.T, delay time.Duration, status int) *slowCollector {
	c := &slowCollector{arrived: make(chan struct{}, 16)}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch model.Batch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		c.arrived <- struct{}{}
		time.Sleep(delay)

		if status < 300 {
			c.mu.Lock()
			for _, e := range batch.Events {
				c.events = append(c.events, e.Event)
			}
			c.mu.Unlock()
		}

		w.WriteHeader(status)
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *slowCollector) delivered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func endOfInput() <-chan error {
	errs := make(chan error)
	close(errs)
	return errs
}

func TestFinishWaitsForInFlightBatch(t *testing.T) {
	c := newSlowCollector(t, 300*time.Millisecond, http.StatusOK)

	e, err := emitter.New(
		c.server.URL,
		emitter.WithBatchSize(3),
		emitter.WithDisableAutoPageview(true),
		emitter.WithoutBeacon(),
	)
	require.NoError(t, err)

	e.Track("a", nil)
	e.Track("b", nil)
	e.Track("c", nil)
	e.Track("d", nil)

	// the background send of a, b, c is on the wire when input ends
	select {
	case <-c.arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("batch never reached the collector")
	}

	assert.Equal(t, 0, finish(e, endOfInput()))
	assert.Equal(t, []string{"a", "b", "c", "d"}, c.delivered())
	assert.Equal(t, 0, e.Pending())
}

func TestFinishReportsUndeliveredEvents(t *testing.T) {
	c := newSlowCollector(t, 0, http.StatusServiceUnavailable)

	e, err := emitter.New(
		c.server.URL,
		emitter.WithMaxRetries(0),
		emitter.WithDisableAutoPageview(true),
		emitter.WithoutBeacon(),
	)
	require.NoError(t, err)

	e.Track("a", nil)

	assert.Equal(t, 1, finish(e, endOfInput()))
	assert.Empty(t, c.delivered())
}

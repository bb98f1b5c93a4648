package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/metrics"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector is an httptest endpoint that records every batch it receives
// and answers with the next status in its script (200 once exhausted).
type collector struct {
	mu       sync.Mutex
	statuses []int
	calls    int
	batches  []model.Batch
	headers  []http.Header
	server   *httptest.Server
}

func newCollector(t *testing.T, statuses ...int) *collector {
	c := &collector{statuses: statuses}
	c.server = httptest.NewServer(http.HandlerFunc(c.handle))
	t.Cleanup(c.server.Close)
	return c
}

func (c *collector) handle(w http.ResponseWriter, r *http.Request) {
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer gz.Close()
		reader = gz
	}

	var batch model.Batch
	if err := json.NewDecoder(reader).Decode(&batch); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	status := http.StatusOK
	if c.calls < len(c.statuses) {
		status = c.statuses[c.calls]
	}
	c.calls++
	c.batches = append(c.batches, batch)
	c.headers = append(c.headers, r.Header.Clone())
	c.mu.Unlock()

	w.WriteHeader(status)
}

func (c *collector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func events(names ...string) []model.Event {
	out := make([]model.Event, 0, len(names))
	for _, name := range names {
		evt := model.NewTrackEvent(name, nil, time.UnixMilli(1))
		evt.AnonymousID = "anon_test"
		out = append(out, evt)
	}
	return out
}

// recordingBackoff wraps ExponentialBackoff and remembers every delay it
// hands to the retry loop.
type recordingBackoff struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingBackoff) backoff(unit time.Duration) TransportOpt {
	next := ExponentialBackoff(unit)
	return WithBackoff(func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		d := next(min, max, attempt, resp)
		r.mu.Lock()
		r.delays = append(r.delays, d)
		r.mu.Unlock()
		return d
	})
}

func TestSendEmptyBatchSkipsNetwork(t *testing.T) {
	c := newCollector(t)
	tr := New(c.server.URL)

	require.NoError(t, tr.Send(context.Background(), nil))
	assert.Equal(t, 0, c.callCount())
}

func TestSendDeliversBatchInOrder(t *testing.T) {
	c := newCollector(t)
	m := metrics.Nop()
	tr := New(c.server.URL, WithMetrics(m), WithHeaders(map[string]string{"X-Write-Key": "k1"}))

	require.NoError(t, tr.Send(context.Background(), events("a", "b", "c")))

	require.Equal(t, 1, c.callCount())
	got := c.batches[0].Events
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Event)
	assert.Equal(t, "b", got[1].Event)
	assert.Equal(t, "c", got[2].Event)

	h := c.headers[0]
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "k1", h.Get("X-Write-Key"))
	assert.Contains(t, h.Get("User-Agent"), "newrelic-labs-emitter/")

	assert.Equal(t, float64(3), testutil.ToFloat64(m.EventsDelivered))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SendAttempts))
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	c := newCollector(t, http.StatusInternalServerError, http.StatusTooManyRequests)
	rec := &recordingBackoff{}
	tr := New(c.server.URL, rec.backoff(time.Millisecond))

	require.NoError(t, tr.Send(context.Background(), events("a")))

	assert.Equal(t, 3, c.callCount())
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, rec.delays)
}

func TestSendBackoffScheduleOnPersistentFailure(t *testing.T) {
	c := newCollector(t, 503, 503, 503, 503, 503, 503)
	rec := &recordingBackoff{}
	m := metrics.Nop()
	tr := New(c.server.URL, WithMaxRetries(3), WithMetrics(m), rec.backoff(time.Millisecond))

	err := tr.Send(context.Background(), events("a", "b"))
	require.Error(t, err)

	// first attempt plus three retries, no wait after the last one
	assert.Equal(t, 4, c.callCount())
	assert.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
	}, rec.delays)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	assert.Equal(t, 4, deliveryErr.Attempts)
	assert.Contains(t, deliveryErr.Err.Error(), "HTTP 503")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.BatchesFailed))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.SendAttempts))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.EventsDelivered))
}

func TestSendZeroRetriesMakesOneAttempt(t *testing.T) {
	c := newCollector(t, 500)
	tr := New(c.server.URL, WithMaxRetries(0))

	require.Error(t, tr.Send(context.Background(), events("a")))
	assert.Equal(t, 1, c.callCount())
}

func TestSendTransportErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := New(url, WithMaxRetries(1), WithBackoffUnit(time.Millisecond))

	err := tr.Send(context.Background(), events("a"))
	require.Error(t, err)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	assert.Equal(t, 2, deliveryErr.Attempts)
}

func TestSendPerAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tr := New(
		srv.URL,
		WithMaxRetries(1),
		WithBackoffUnit(time.Millisecond),
		WithRequestTimeout(50*time.Millisecond),
	)

	require.Error(t, tr.Send(context.Background(), events("a")))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendStopsOnCancelledContext(t *testing.T) {
	c := newCollector(t, 500, 500, 500, 500)
	tr := New(c.server.URL, WithMaxRetries(3), WithBackoffUnit(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for c.callCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	err := tr.Send(ctx, events("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.callCount())
}

func TestSendCompressed(t *testing.T) {
	c := newCollector(t)
	tr := New(c.server.URL, WithCompression(true))

	require.NoError(t, tr.Send(context.Background(), events("zipped")))

	require.Equal(t, 1, c.callCount())
	assert.Equal(t, "gzip", c.headers[0].Get("Content-Encoding"))
	assert.Equal(t, "zipped", c.batches[0].Events[0].Event)
}

func TestExponentialBackoffDoubles(t *testing.T) {
	b := ExponentialBackoff(time.Second)

	assert.Equal(t, time.Second, b(0, 0, 0, nil))
	assert.Equal(t, 2*time.Second, b(0, 0, 1, nil))
	assert.Equal(t, 4*time.Second, b(0, 0, 2, nil))
	assert.Equal(t, b(0, 0, maxBackoffShift, nil), b(0, 0, 500, nil))
}

type fakeBeacon struct {
	accept bool
	calls  int
	body   []byte
}

func (f *fakeBeacon) SendBeacon(url string, body []byte, headers map[string]string) bool {
	f.calls++
	f.body = body
	return f.accept
}

func TestSendBestEffortUsesBeaconOnce(t *testing.T) {
	beacon := &fakeBeacon{accept: true}
	m := metrics.Nop()
	tr := New("http://collector.invalid/e", WithBeacon(beacon), WithMetrics(m))

	assert.True(t, tr.SendBestEffort(events("a", "b")))
	assert.Equal(t, 1, beacon.calls)

	var batch model.Batch
	require.NoError(t, json.Unmarshal(beacon.body, &batch))
	require.Len(t, batch.Events, 2)
	assert.Equal(t, "a", batch.Events[0].Event)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BeaconSends.WithLabelValues("accepted")))
}

func TestSendBestEffortRejectedIsNotRetried(t *testing.T) {
	beacon := &fakeBeacon{accept: false}
	tr := New("http://collector.invalid/e", WithBeacon(beacon), WithMaxRetries(5))

	assert.False(t, tr.SendBestEffort(events("a")))
	assert.Equal(t, 1, beacon.calls)
}

func TestSendBestEffortWithoutBeacon(t *testing.T) {
	tr := New("http://collector.invalid/e", WithoutBeacon())
	assert.False(t, tr.SendBestEffort(events("a")))
}

func TestSendBestEffortEmptyBatch(t *testing.T) {
	beacon := &fakeBeacon{accept: true}
	tr := New("http://collector.invalid/e", WithBeacon(beacon))

	assert.False(t, tr.SendBestEffort(nil))
	assert.Equal(t, 0, beacon.calls)
}

func TestHttpBeaconAcceptsAnyResponse(t *testing.T) {
	c := newCollector(t, http.StatusServiceUnavailable)
	tr := New(c.server.URL)

	assert.True(t, tr.SendBestEffort(events("a")))
	assert.Equal(t, 1, c.callCount())
}

func TestHttpBeaconFailsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := New(url)
	assert.False(t, tr.SendBestEffort(events("a")))
}

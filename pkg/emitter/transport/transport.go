package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/connectors"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/log"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/metrics"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/model"
)

const (
	DEFAULT_MAX_RETRIES     = 3
	DEFAULT_BACKOFF_UNIT    = time.Second
	DEFAULT_REQUEST_TIMEOUT = 10 * time.Second
	DEFAULT_BEACON_TIMEOUT  = 2 * time.Second

	// keeps unit << attempt from overflowing for absurd retry counts
	maxBackoffShift = 20
)

type (
	TransportOpt func(t *Transport)
)

// DeliveryError is returned by Send once every attempt for a batch failed.
// Err is the last error observed.
type DeliveryError struct {
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Transport delivers batches of events to the collection endpoint.
type Transport struct {
	endpoint       string
	maxRetries     int
	backoff        retryablehttp.Backoff
	requestTimeout time.Duration
	headers        map[string]string
	compress       bool
	debug          bool
	httpClient     *http.Client
	beacon         Beacon
	app            *newrelic.Application
	metrics        *metrics.Metrics
}

func New(endpoint string, opts ...TransportOpt) *Transport {
	t := &Transport{
		endpoint:       endpoint,
		maxRetries:     DEFAULT_MAX_RETRIES,
		backoff:        ExponentialBackoff(DEFAULT_BACKOFF_UNIT),
		requestTimeout: DEFAULT_REQUEST_TIMEOUT,
		headers:        map[string]string{},
		beacon:         NewHttpBeacon(DEFAULT_BEACON_TIMEOUT),
		metrics:        metrics.Nop(),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.httpClient = cleanhttp.DefaultPooledClient()
	t.httpClient.Timeout = t.requestTimeout

	return t
}

func WithMaxRetries(maxRetries int) TransportOpt {
	return func(t *Transport) {
		t.maxRetries = maxRetries
	}
}

func WithBackoffUnit(unit time.Duration) TransportOpt {
	return func(t *Transport) {
		t.backoff = ExponentialBackoff(unit)
	}
}

func WithBackoff(backoff retryablehttp.Backoff) TransportOpt {
	return func(t *Transport) {
		t.backoff = backoff
	}
}

// WithRequestTimeout bounds each individual attempt, not the whole send.
func WithRequestTimeout(timeout time.Duration) TransportOpt {
	return func(t *Transport) {
		t.requestTimeout = timeout
	}
}

func WithHeaders(headers map[string]string) TransportOpt {
	return func(t *Transport) {
		for k, v := range headers {
			t.headers[k] = v
		}
	}
}

func WithCompression(compress bool) TransportOpt {
	return func(t *Transport) {
		t.compress = compress
	}
}

func WithBeacon(beacon Beacon) TransportOpt {
	return func(t *Transport) {
		t.beacon = beacon
	}
}

// WithoutBeacon models a host with no best-effort send facility.
// SendBestEffort then always reports false.
func WithoutBeacon() TransportOpt {
	return func(t *Transport) {
		t.beacon = nil
	}
}

func WithDebug(debug bool) TransportOpt {
	return func(t *Transport) {
		t.debug = debug
	}
}

func WithApplication(app *newrelic.Application) TransportOpt {
	return func(t *Transport) {
		t.app = app
	}
}

func WithMetrics(m *metrics.Metrics) TransportOpt {
	return func(t *Transport) {
		t.metrics = m
	}
}

// ExponentialBackoff waits unit, 2*unit, 4*unit, ... before retry attempts
// 1, 2, 3, ...
func ExponentialBackoff(unit time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		if attemptNum > maxBackoffShift {
			attemptNum = maxBackoffShift
		}

		return unit << attemptNum
	}
}

// Send posts the batch, retrying up to maxRetries times. It never panics
// on delivery problems; exhaustion is reported as a *DeliveryError.
func (t *Transport) Send(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	txn := t.app.StartTransaction("EmitterTransport/Send")
	defer txn.End()

	txn.AddAttribute("batch.size", len(events))

	body, err := t.encode(events)
	if err != nil {
		txn.NoticeError(err)
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(
		ctx,
		http.MethodPost,
		t.endpoint,
		body,
	)
	if err != nil {
		txn.NoticeError(err)
		return fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range t.requestHeaders() {
		req.Header.Set(k, v)
	}

	req.Header.Set("User-Agent", connectors.GetUserAgent())

	attempts := 0
	client := t.newClient(len(events), &attempts)

	resp, err := client.Do(req)
	if err != nil {
		var deliveryErr *DeliveryError
		if !errors.As(err, &deliveryErr) {
			err = &DeliveryError{Attempts: attempts, Err: err}
		}

		log.Debugf("send of %d events failed: %v", len(events), err)

		t.metrics.BatchesFailed.Inc()
		txn.NoticeError(err)

		return err
	}

	drain(resp)

	log.Debugf("%d events sent successfully", len(events))

	t.metrics.EventsDelivered.Add(float64(len(events)))
	t.app.RecordCustomMetric("Custom/Emitter/EventsDelivered", float64(len(events)))

	return nil
}

// SendBestEffort makes one attempt through the beacon with no retry and no
// backoff. It reports whether the batch was accepted for transmission. A
// false result means the batch is lost.
func (t *Transport) SendBestEffort(events []model.Event) bool {
	if len(events) == 0 {
		return false
	}

	if t.beacon == nil {
		log.Debugf("no beacon available; dropping %d events", len(events))
		t.metrics.BeaconSends.WithLabelValues("unavailable").Inc()
		return false
	}

	body, err := t.encode(events)
	if err != nil {
		log.Debugf("beacon encode failed: %v", err)
		t.metrics.BeaconSends.WithLabelValues("failed").Inc()
		return false
	}

	ok := t.beacon.SendBeacon(t.endpoint, body, t.requestHeaders())
	if !ok {
		log.Debugf("beacon failed; dropping %d events", len(events))
		t.metrics.BeaconSends.WithLabelValues("failed").Inc()
		return false
	}

	t.metrics.BeaconSends.WithLabelValues("accepted").Inc()

	return true
}

func (t *Transport) newClient(batchSize int, attempts *int) *retryablehttp.Client {
	client := &retryablehttp.Client{
		HTTPClient: t.httpClient,
		RetryMax:   t.maxRetries,
		CheckRetry: retryPolicy,
		Backoff:    t.backoff,
		RequestLogHook: func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
			*attempts = attempt + 1
			t.metrics.SendAttempts.Inc()
			log.Debugf("sending %d events (attempt %d)", batchSize, attempt+1)
		},
		ErrorHandler: func(resp *http.Response, err error, numTries int) (*http.Response, error) {
			if err == nil && resp != nil {
				err = fmt.Errorf(
					"HTTP %d: %s",
					resp.StatusCode,
					http.StatusText(resp.StatusCode),
				)
			}

			if resp != nil {
				drain(resp)
			}

			return nil, &DeliveryError{Attempts: numTries, Err: err}
		},
	}

	if t.debug {
		client.Logger = log.NewLeveledLogger(log.RootLogger)
	}

	return client
}

// Any transport error or non-2xx status is retryable. Only cancellation of
// the caller's context stops the loop early.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		return true, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return true, nil
	}

	return false, nil
}

func (t *Transport) encode(events []model.Event) ([]byte, error) {
	batch := model.Batch{Events: events}

	if log.IsDebugEnabled() {
		log.Debugf("batch payload JSON follows")
		log.PrettyPrintJson(batch)
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}

	if !t.compress {
		return data, nil
	}

	var buf bytes.Buffer

	w, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (t *Transport) requestHeaders() map[string]string {
	headers := make(map[string]string, len(t.headers)+2)

	for k, v := range t.headers {
		headers[k] = v
	}

	headers["Content-Type"] = "application/json"
	if t.compress {
		headers["Content-Encoding"] = "gzip"
	}

	return headers
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

package transport

import (
	"context"
	"time"

	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/connectors"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/log"
)

// Beacon is a non-retrying, fire-and-forget send facility for teardown.
// SendBeacon reports whether the payload was accepted for transmission.
type Beacon interface {
	SendBeacon(url string, body []byte, headers map[string]string) bool
}

// HttpBeacon approximates a send-on-exit facility with one synchronous POST
// bounded by a short timeout. A process exit may be delayed by up to that
// timeout.
type HttpBeacon struct {
	timeout time.Duration
}

func NewHttpBeacon(timeout time.Duration) *HttpBeacon {
	return &HttpBeacon{timeout}
}

// SendBeacon returns true once the request was written and any response
// came back. The status code is not inspected.
func (b *HttpBeacon) SendBeacon(
	url string,
	body []byte,
	headers map[string]string,
) bool {
	connector := connectors.NewHttpPostConnector(url, body)
	connector.SetHeaders(headers)
	connector.SetTimeout(b.timeout)

	resp, err := connector.Do(context.Background())
	if err != nil {
		log.Debugf("beacon send failed: %v", err)
		return false
	}

	drain(resp)

	return true
}

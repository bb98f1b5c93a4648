package connectors

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/build"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/log"
)

const (
	defaultTimeout = 5 * time.Second
)

// HttpConnector performs a single POST with no retries.
type HttpConnector struct {
	Url     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
	client  *http.Client
}

// Build a Connector for HTTP POST requests.
func NewHttpPostConnector(url string, body []byte) *HttpConnector {
	return &HttpConnector{
		Url:     url,
		Body:    body,
		Timeout: defaultTimeout,
		client:  cleanhttp.DefaultClient(),
	}
}

// Do performs exactly one request and returns the response whatever its
// status. The caller owns the response body.
func (c *HttpConnector) Do(ctx context.Context) (*http.Response, error) {
	req, err := c.newRequest(ctx)
	if err != nil {
		return nil, err
	}

	c.client.Timeout = c.Timeout

	log.Debugf("performing request for %s", c.Url)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf(
			"error connecting to %s: %w",
			c.Url,
			err,
		)
	}

	return resp, nil
}

func (c *HttpConnector) SetHeaders(headers map[string]string) {
	c.Headers = headers
}

func (c *HttpConnector) SetTimeout(timeout time.Duration) {
	c.Timeout = timeout
}

func (c *HttpConnector) newRequest(ctx context.Context) (*http.Request, error) {
	log.Debugf("creating HTTP POST request for %s", c.Url)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.Url,
		bytes.NewReader(c.Body),
	)
	if err != nil {
		return nil, err
	}

	for key, val := range c.Headers {
		req.Header.Add(key, val)
	}

	req.Header.Add("User-Agent", GetUserAgent())

	return req, nil
}

func GetUserAgent() string {
	buildInfo := build.GetBuildInfo()

	return fmt.Sprintf(
		"%s/%s (%s; %s)",
		buildInfo.Name,
		buildInfo.Version,
		runtime.GOOS,
		runtime.GOARCH,
	)
}

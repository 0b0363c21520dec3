// Package ubidots publishes payloads to a device on the Ubidots industrial API.
package ubidots

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/aqmonitor/airquality"
)

const DefaultBaseURL = "https://industrial.api.ubidots.com"

var ErrPublishFailed = errors.New("ubidots: publish failed")

type Client struct {
	BaseURL     string
	DeviceLabel string
	Token       string

	// Attempts is the total number of requests made before giving up.
	Attempts int

	// Delay is the fixed pause between two attempts.
	Delay time.Duration

	HTTPClient *http.Client
}

func New(baseURL, deviceLabel, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		DeviceLabel: deviceLabel,
		Token:       token,
		Attempts:    5,
		Delay:       time.Second,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) URL() string {
	return fmt.Sprintf("%s/api/v1.6/devices/%s", strings.TrimSuffix(c.BaseURL, "/"), c.DeviceLabel)
}

// statusError is a response status at or above 400.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected response code %d: %s", e.code, e.body)
}

// retryable reports whether a status may succeed when sent again. Client errors other
// than timeouts and rate limiting will not.
func retryable(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// Publish posts the payload, retrying server errors and transport failures up to
// Attempts times with a constant Delay. It returns nil once a response below 400 came
// back, and an error wrapping ErrPublishFailed otherwise. Attempts are logged to logger,
// or to the standard logger when it is nil.
func (c *Client) Publish(ctx context.Context, logger *log.Entry, payload airquality.Payload) error {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}

	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	op := func() error {
		attempt++
		err := c.post(ctx, logger, body)
		var se *statusError
		if errors.As(err, &se) && !retryable(se.code) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warnf("publish attempt %d/%d failed, retrying in %s: %s", attempt, attempts, wait, err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.Delay), uint64(attempts-1)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return errors.Wrapf(ErrPublishFailed, "after %d attempts: %s", attempt, err)
	}

	logger.Debugf("published to %s after %d attempts", c.DeviceLabel, attempt)
	return nil
}

func (c *Client) post(ctx context.Context, logger *log.Entry, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("X-Auth-Token", c.Token)

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= http.StatusBadRequest {
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	logger.Debugf("response %d: %s", resp.StatusCode, respBody)
	return nil
}

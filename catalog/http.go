package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// HTTPSinkConfig configures an HTTPSink.
type HTTPSinkConfig struct {
	URL         string
	Headers     map[string]string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// HTTPSink POSTs mutations as JSON to a catalog endpoint. Failed deliveries
// are retried with exponential backoff; 4xx responses other than 429 are not.
type HTTPSink struct {
	cfg    HTTPSinkConfig
	client *http.Client
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog endpoint returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewHTTPSink creates an HTTPSink.
func NewHTTPSink(cfg HTTPSinkConfig) (*HTTPSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http sink: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &HTTPSink{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// ApplyMutation implements Sink.
func (s *HTTPSink) ApplyMutation(ctx context.Context, m *Mutation) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("http sink: marshal mutation: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = s.send(ctx, payload)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.retryable() {
			return lastErr
		}
	}
	return fmt.Errorf("http sink: giving up after %d attempts: %w", s.cfg.MaxAttempts, lastErr)
}

func (s *HTTPSink) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req) //nolint:gosec // G704: URL from configured catalog endpoint
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}

func (s *HTTPSink) backoff(attempt int) time.Duration {
	return time.Duration(float64(s.cfg.Backoff) * math.Pow(2, float64(attempt-1)))
}

// internal/clients/transport.go
package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"

	"libracirc/internal/circulation"
	"libracirc/internal/httpjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultMaxTries      = 4
	defaultRetryInterval = 100 * time.Millisecond
	defaultTimeout       = 10 * time.Second
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Option configures a Transport.
type Option func(*Transport)

func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.http = c }
}

// WithMaxTries bounds the attempts per call, the first one included.
func WithMaxTries(n uint) Option {
	return func(t *Transport) { t.maxTries = n }
}

func WithRetryInterval(d time.Duration) Option {
	return func(t *Transport) { t.retryInterval = d }
}

// WithBreaker replaces the circuit breaker settings.
func WithBreaker(settings gobreaker.Settings) Option {
	return func(t *Transport) { t.breakerSettings = settings }
}

// Transport sends JSON requests to the API with retries behind a
// circuit breaker. It is shared by the typed clients.
type Transport struct {
	baseURL         string
	http            *http.Client
	maxTries        uint
	retryInterval   time.Duration
	breakerSettings gobreaker.Settings
	breaker         *gobreaker.CircuitBreaker
}

// NewTransport targets baseURL, e.g. "http://localhost:8082/api/v1".
func NewTransport(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		http:          &http.Client{Timeout: defaultTimeout},
		maxTries:      defaultMaxTries,
		retryInterval: defaultRetryInterval,
		breakerSettings: gobreaker.Settings{
			Name:    "libracirc-api",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.breakerSettings.IsSuccessful = countsAsSuccess
	t.breaker = gobreaker.NewCircuitBreaker(t.breakerSettings)
	return t
}

// BreakerState reports the circuit breaker state.
func (t *Transport) BreakerState() gobreaker.State {
	return t.breaker.State()
}

// countsAsSuccess keeps rejected requests (4xx) from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError
}

func (t *Transport) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = raw
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.retryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := t.breaker.Execute(func() (any, error) {
			return nil, t.roundTrip(ctx, method, path, payload, out)
		})
		if err == nil {
			return struct{}{}, nil
		}
		if retryable(method, err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(t.maxTries))
	return err
}

// retryable decides whether a failed attempt may be repeated. The API only
// answers 429 and 503 after rolling the request back, so those are retried
// for every method. A gateway error or a transport error may hide a
// committed write, so reads are the only requests repeated on those.
func retryable(method string, err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return true
		case http.StatusBadGateway, http.StatusGatewayTimeout:
			return method == http.MethodGet
		}
		return false
	}
	return method == http.MethodGet
}

func (t *Transport) roundTrip(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error response into an *APIError. Circulation
// reason codes are additionally wrapped with the matching sentinel so
// callers can use errors.Is as they would against the engine.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body httpjson.ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}

	if sentinel := circulation.ErrorForReason(apiErr.Code); sentinel != nil {
		return fmt.Errorf("%w: %w", sentinel, apiErr)
	}
	return apiErr
}

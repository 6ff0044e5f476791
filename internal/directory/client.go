package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"fundchat/backend/internal/models"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	PathGetProject        = "/projects/get-project"
	PathUpdateProjectFund = "/projects/update-project-fund"
	PathMarkFrozen        = "/projects/mark-frozen"

	HeaderPublicKey = "publickey"
	HeaderSignature = "signature"
)

// Client talks to a remote directory over HTTP behind a circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	creds   Credentials
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithStaticCredentials sets the headers used when ctx carries none.
func WithStaticCredentials(creds Credentials) ClientOption {
	return func(c *Client) { c.creds = creds }
}

// WithBreakerSettings replaces the default breaker settings. Name and
// IsSuccessful are always set by the client.
func WithBreakerSettings(st gobreaker.Settings) ClientOption {
	return func(c *Client) { c.breaker = newBreaker(st, c.log) }
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "directory_client").Logger(),
	}
	c.breaker = newBreaker(gobreaker.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}, c.log)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(st gobreaker.Settings, log zerolog.Logger) *gobreaker.CircuitBreaker {
	st.Name = "directory"
	// Only an unavailable directory counts against the breaker.
	st.IsSuccessful = func(err error) bool {
		return err == nil || !errors.Is(err, ErrDirectoryUnavailable)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	}
	return gobreaker.NewCircuitBreaker(st)
}

func (c *Client) GetProject(ctx context.Context, projectUID string) (*models.Project, error) {
	q := url.Values{"projectuid": {projectUID}}
	var resp ProjectResponse
	if err := c.do(ctx, http.MethodGet, PathGetProject+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Project == nil {
		return nil, ErrProjectNotFound
	}
	return resp.Project, nil
}

func (c *Client) UpdateProjectFund(ctx context.Context, update FundUpdate) error {
	return c.do(ctx, http.MethodPost, PathUpdateProjectFund, update, nil)
}

func (c *Client) MarkFrozen(ctx context.Context, projectUID string) error {
	return c.do(ctx, http.MethodPost, PathMarkFrozen, map[string]string{"projectuid": projectUID}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	creds, ok := credentialsFrom(ctx)
	if !ok {
		creds = c.creds
	}
	req.Header.Set(HeaderPublicKey, creds.PublicKey)
	req.Header.Set(HeaderSignature, creds.Signature)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("directory request failed")
		return fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrProjectNotFound
	case resp.StatusCode >= http.StatusInternalServerError:
		c.log.Error().Int("status", resp.StatusCode).Str("path", path).Msg("directory server error")
		return fmt.Errorf("%w: status %d", ErrDirectoryUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory rejected %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrDirectoryUnavailable, err)
	}
	return nil
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/dlord213/onestay-web/internal/errs"
)

// TokenSource supplies the bearer token for authenticated requests.
type TokenSource interface {
	Token() string
}

type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// Client is the REST collaborator used for list/detail loads and as the
// fallback transport when the realtime channel is down. Transient failures
// are retried with exponential backoff behind a circuit breaker.
type Client struct {
	conf    ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	tokens  TokenSource
	log     *zap.SugaredLogger
}

func NewClient(conf ClientConfig, tokens TokenSource, log *zap.SugaredLogger) *Client {
	if conf.Timeout == 0 {
		conf.Timeout = 15 * time.Second
	}
	if conf.RetryMaxElapsed == 0 {
		conf.RetryMaxElapsed = 30 * time.Second
	}
	if conf.MaxIdleConns == 0 {
		conf.MaxIdleConns = 10
	}
	if conf.IdleConnTimeout == 0 {
		conf.IdleConnTimeout = 90 * time.Second
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    conf.MaxIdleConns,
		IdleConnTimeout: conf.IdleConnTimeout,
	}
	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "onestay-api",
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		conf:    conf,
		http:    &http.Client{Transport: tr, Timeout: conf.Timeout},
		breaker: br,
		tokens:  tokens,
		log:     log,
	}
}

// apiError is the backend's error body shape.
type apiError struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		payload = b
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.conf.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}

		res, err := c.breaker.Execute(func() (any, error) {
			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= 500 {
				// drain and close so the connection can be reused
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				return nil, fmt.Errorf("%w: HTTP %d", errs.ErrServiceUnavailable, resp.StatusCode)
			}
			return resp, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %v", errs.ErrServiceUnavailable, err))
			}
			return err
		}
		resp := res.(*http.Response)
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			var apiErr apiError
			_ = json.NewDecoder(resp.Body).Decode(&apiErr)
			if apiErr.Message == "" {
				apiErr.Message = resp.Status
			}
			return backoff.Permanent(statusError(resp.StatusCode, apiErr.Message))
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		c.log.Warnw("api request failed", "method", method, "path", path, "err", err)
		return err
	}
	return nil
}

func statusError(code int, msg string) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", errs.ErrUnauthorized, msg)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", errs.ErrNotFound, msg)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", errs.ErrRateLimited, msg)
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: %s", errs.ErrBadRequest, msg)
	default:
		return fmt.Errorf("%w: %s", errs.ErrInternal, msg)
	}
}

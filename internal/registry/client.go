// Package registry implements DroneDB's HTTP client for a remote dataset
// registry (spec.md §4.6, component C10): authentication with silent token
// refresh, dataset/stamp/meta retrieval, and the pull/push orchestration
// that reconciles a local dataset against its remote counterpart.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dronedb/ddb-core/internal/ddberr"
)

// maxRetries and retryUnit implement spec.md §4.6.5: "max 10, sleep
// 1000·attempt ms" — a linearly growing backoff, not exponential.
const (
	maxRetries = 10
	retryUnit  = time.Second
)

// CredentialSource supplies the username/password a Client uses for silent
// re-login, typically backed by the user profile's stored credentials
// (component C11).
type CredentialSource interface {
	Credentials(registryURL string) (username, password string, err error)
}

// Client is an HTTP client for one registry base URL, scoped to a single
// org/dataset pair per call (the endpoints all take org/dataset explicitly,
// per spec.md §4.6.1).
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialSource
	logger     *slog.Logger

	token     string
	expiresAt time.Time
}

// NewClient constructs a Client against baseURL (a registry's root, e.g.
// "https://hub.dronedb.app").
func NewClient(baseURL string, httpClient *http.Client, creds CredentialSource, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{baseURL: baseURL, httpClient: httpClient, creds: creds, logger: logger}
}

// linearBackoff implements spec.md §4.6.5's retry policy as a go-retry
// Backoff: retry N sleeps N seconds (1000·attempt ms), for up to maxRetries
// retries after the first attempt.
func linearBackoff() retry.Backoff {
	attempt := 0

	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		if attempt > maxRetries {
			return 0, false
		}

		return time.Duration(attempt) * retryUnit, true
	})
}

// doJSON executes an authenticated JSON request against path, retrying
// transient failures per spec.md §4.6.5 and silently re-logging in once on
// a 401, per spec.md §4.6.2. reqBody may be nil; respBody, if non-nil, is
// populated by decoding the JSON response.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var raw []byte

	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return ddberr.New(ddberr.KindInvalidArgs, "registry.doJSON", err)
		}

		raw = b
	}

	reloggedIn := false

	return retry.Do(ctx, linearBackoff(), func(ctx context.Context) error {
		if err := c.ensureToken(ctx); err != nil {
			return err
		}

		resp, err := c.send(ctx, method, path, bytes.NewReader(raw))
		if err != nil {
			return retry.RetryableError(ddberr.New(ddberr.KindNetwork, "registry."+method, err))
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !reloggedIn:
			reloggedIn = true

			if err := c.login(ctx); err != nil {
				return err
			}

			return retry.RetryableError(fmt.Errorf("registry: retrying after re-login"))

		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(ddberr.New(ddberr.KindRegistry, "registry."+method,
				fmt.Errorf("status %d: %s", resp.StatusCode, body)))

		case resp.StatusCode >= 400:
			return ddberr.New(ddberr.KindRegistry, "registry."+method,
				fmt.Errorf("status %d: %s", resp.StatusCode, body))
		}

		if respBody != nil && len(body) > 0 {
			if err := json.Unmarshal(body, respBody); err != nil {
				return ddberr.New(ddberr.KindRegistry, "registry."+method, err)
			}
		}

		return nil
	})
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// ensureToken implements spec.md §4.6.2: "Before each call, if
// now ≥ expires_at, silently re-login using stored credentials."
func (c *Client) ensureToken(ctx context.Context) error {
	if c.token != "" && time.Now().Before(c.expiresAt) {
		return nil
	}

	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	if c.creds == nil {
		return ddberr.New(ddberr.KindAuth, "registry.login", fmt.Errorf("no credential source configured"))
	}

	username, password, err := c.creds.Credentials(c.baseURL)
	if err != nil {
		return ddberr.New(ddberr.KindAuth, "registry.login", err)
	}

	reqBody, err := json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{username, password})
	if err != nil {
		return ddberr.New(ddberr.KindAuth, "registry.login", err)
	}

	resp, err := c.send(ctx, http.MethodPost, "/users/authenticate", bytes.NewReader(reqBody))
	if err != nil {
		return ddberr.New(ddberr.KindNetwork, "registry.login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return ddberr.New(ddberr.KindAuth, "registry.login", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var out struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"` // unix seconds
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ddberr.New(ddberr.KindAuth, "registry.login", err)
	}

	c.token = out.Token
	c.expiresAt = time.Unix(out.Expires, 0)

	c.logger.Debug("registry: logged in", "expires_at", c.expiresAt)

	return nil
}

// Package allocator implements the dedicated-server Provider interface
// (§6): the HTTP collaborator that turns a roster into a playable
// server address. Grounded on the teacher's payment.Client: a
// configured *http.Client with an explicit timeout, JSON request/
// response bodies, and classified errors rather than a bare err return.
package allocator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FailureKind classifies an allocation failure the way §7 requires:
// HttpTimeout / HttpError(code) / ProviderUnavailable / ResponseParse.
type FailureKind string

const (
	FailureHTTPTimeout     FailureKind = "HttpTimeout"
	FailureHTTPError       FailureKind = "HttpError"
	FailureProviderUnavail FailureKind = "ProviderUnavailable"
	FailureResponseParse   FailureKind = "ResponseParse"
)

// Failure is a classified allocation error; Code is populated only for
// FailureHTTPError.
type Failure struct {
	Kind FailureKind
	Code int
	Err  error
}

func (f *Failure) Error() string {
	if f.Kind == FailureHTTPError {
		return fmt.Sprintf("allocator: %s (status=%d): %v", f.Kind, f.Code, f.Err)
	}
	return fmt.Sprintf("allocator: %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Session is the successful allocation response: a dedicated game
// server address for the roster.
type Session struct {
	SessionID     string `json:"session_id"`
	ServerAddress string `json:"server_address"`
}

// Provider is the interface the Matchmaker consumes; Client is the
// concrete HTTP implementation, mockable in tests.
type Provider interface {
	CreateSession(ctx context.Context, players []string) (*Session, error)
}

// Client calls POST /session/create on the dedicated-server allocator.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds an allocator client bound by requestTimeout, the
// same way the teacher builds its payment client around
// cfg.DMarkPayTimeout.
func NewClient(baseURL string, requestTimeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type createSessionRequest struct {
	Players []string `json:"players"`
}

// CreateSession calls the allocator. Any non-2xx or transport timeout
// is classified as a retryable Failure per §7.
func (c *Client) CreateSession(ctx context.Context, players []string) (*Session, error) {
	body, err := json.Marshal(createSessionRequest{Players: players})
	if err != nil {
		return nil, &Failure{Kind: FailureResponseParse, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/create", bytes.NewReader(body))
	if err != nil {
		return nil, &Failure{Kind: FailureResponseParse, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutErr(err) {
			return nil, &Failure{Kind: FailureHTTPTimeout, Err: err}
		}
		return nil, &Failure{Kind: FailureProviderUnavail, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &Failure{Kind: FailureHTTPError, Code: resp.StatusCode, Err: fmt.Errorf("%s", string(respBody))}
	}

	var out Session
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Failure{Kind: FailureResponseParse, Err: err}
	}

	return &out, nil
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}

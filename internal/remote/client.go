package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// protocolVersion is the sync protocol revision this client speaks. The
// server advertises the oldest revision it still accepts; see
// Client.CheckCompatibility.
const protocolVersion = "v1.28.0"

// maxResponseBody bounds how much of a response we are willing to read.
// Individual notes can be large, so the cap is generous.
const maxResponseBody = 128 << 20

// Config holds configuration for the HTTP client.
type Config struct {
	// UserStoreURL is the account-plane endpoint from the backend
	// registry.
	UserStoreURL string

	// OAuthURL is the endpoint for completing OAuth authorization
	// grants.
	OAuthURL string

	// Token is the authentication token sent with every call. May be
	// empty until authentication completes; see Client.SetToken.
	Token string

	// Timeout bounds each individual HTTP request.
	Timeout time.Duration

	// MaxAttempts caps how many times a transient failure is attempted
	// before escalating.
	MaxAttempts int

	// RetryBaseDelay is the first backoff pause; it doubles per retry.
	RetryBaseDelay time.Duration

	// UserAgent identifies this client to the service.
	UserAgent string

	// Logger for retry activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: 500 * time.Millisecond,
		UserAgent:      "notevault",
		Logger:         log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// Client is the live HTTP implementation of the service boundary. It
// implements UserStore directly; NoteStore instances for an account's
// shard are created with Client.NoteStore.
//
// Each remote method is one JSON POST. Transient failures (timeouts,
// connection errors, 5xx) are retried with exponential backoff up to
// the configured attempt cap; service error envelopes are mapped into
// the closed error set of this package exactly once, here.
type Client struct {
	httpClient   *http.Client
	userStoreURL string
	oauthURL     string
	token        string
	userAgent    string
	maxAttempts  int
	retryBase    time.Duration
	logger       *log.Logger
}

// NewClient creates a client for the given backend endpoints.
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Client{
		httpClient:   &http.Client{Timeout: config.Timeout},
		userStoreURL: strings.TrimRight(config.UserStoreURL, "/"),
		oauthURL:     strings.TrimRight(config.OAuthURL, "/"),
		token:        config.Token,
		userAgent:    config.UserAgent,
		maxAttempts:  config.MaxAttempts,
		retryBase:    config.RetryBaseDelay,
		logger:       config.Logger,
	}
}

// SetToken replaces the token sent with subsequent calls. Used after
// authentication completes.
func (c *Client) SetToken(token string) {
	c.token = token
}

// NoteStore returns a NoteStore bound to the given shard URL, sharing
// this client's transport, token, and retry policy.
func (c *Client) NoteStore(serviceURL string) NoteStore {
	return &noteStoreClient{c: c, url: strings.TrimRight(serviceURL, "/")}
}

// GetAccountInfo implements UserStore.GetAccountInfo.
func (c *Client) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	var out AccountInfo
	if err := c.call(ctx, c.userStoreURL, "getUser", nil, &out); err != nil {
		return AccountInfo{}, err
	}
	return out, nil
}

// GetNoteStoreURL implements UserStore.GetNoteStoreURL.
func (c *Client) GetNoteStoreURL(ctx context.Context) (string, error) {
	var out struct {
		NoteStoreURL string `json:"noteStoreUrl"`
	}
	if err := c.call(ctx, c.userStoreURL, "getNoteStoreUrl", nil, &out); err != nil {
		return "", err
	}
	if out.NoteStoreURL == "" {
		return "", fmt.Errorf("getNoteStoreUrl: server returned empty URL")
	}
	return out.NoteStoreURL, nil
}

// AuthenticateLongSession implements UserStore.AuthenticateLongSession.
func (c *Client) AuthenticateLongSession(ctx context.Context, username, password string) (AuthResult, error) {
	req := struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{username, password}

	var out AuthResult
	if err := c.call(ctx, c.userStoreURL, "authenticateLongSession", req, &out); err != nil {
		return AuthResult{}, asAuthError(err)
	}
	if out.Token == "" && !out.SecondFactorRequired {
		return AuthResult{}, fmt.Errorf("%w: empty authentication response", ErrAuthFailed)
	}
	return out, nil
}

// CompleteTwoFactorAuth implements UserStore.CompleteTwoFactorAuth.
func (c *Client) CompleteTwoFactorAuth(ctx context.Context, tempToken, oneTimeCode string) (AuthResult, error) {
	req := struct {
		Token       string `json:"authenticationToken"`
		OneTimeCode string `json:"oneTimeCode"`
	}{tempToken, oneTimeCode}

	var out AuthResult
	if err := c.call(ctx, c.userStoreURL, "completeTwoFactorAuthentication", req, &out); err != nil {
		return AuthResult{}, asAuthError(err)
	}
	if out.Token == "" {
		return AuthResult{}, fmt.Errorf("%w: empty two-factor response", ErrAuthFailed)
	}
	return out, nil
}

// ExchangeOAuth implements UserStore.ExchangeOAuth. The exchange speaks
// the classic form-encoded OAuth 1.0a access-token step: the temporary
// token and verifier go out as a form body, and the final token comes
// back URL-encoded.
func (c *Client) ExchangeOAuth(ctx context.Context, tempToken, verifier string) (string, error) {
	form := url.Values{}
	form.Set("oauth_token", tempToken)
	form.Set("oauth_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build oauth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{Op: "oauthExchange", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", &TransientError{Op: "oauthExchange", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: oauth exchange returned %s", ErrAuthFailed, resp.Status)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", fmt.Errorf("%w: malformed oauth exchange response", ErrAuthFailed)
	}
	token := values.Get("oauth_token")
	if token == "" {
		return "", fmt.Errorf("%w: oauth exchange response carries no token", ErrAuthFailed)
	}
	return token, nil
}

// CheckCompatibility implements UserStore.CheckCompatibility.
func (c *Client) CheckCompatibility(ctx context.Context) error {
	var out struct {
		MinVersion string `json:"minVersion"`
	}
	if err := c.call(ctx, c.userStoreURL, "checkVersion", nil, &out); err != nil {
		return err
	}

	min := out.MinVersion
	if min == "" {
		return nil
	}
	if !strings.HasPrefix(min, "v") {
		min = "v" + min
	}
	if !semver.IsValid(min) {
		return fmt.Errorf("checkVersion: server advertised unparseable minimum version %q", out.MinVersion)
	}
	if semver.Compare(min, protocolVersion) > 0 {
		return fmt.Errorf("%w: server requires at least %s, client speaks %s",
			ErrIncompatible, min, protocolVersion)
	}
	return nil
}

// noteStoreClient is the NoteStore half of the client, bound to one
// account's shard URL.
type noteStoreClient struct {
	c   *Client
	url string
}

// GetSyncState implements NoteStore.GetSyncState.
func (ns *noteStoreClient) GetSyncState(ctx context.Context) (SyncState, error) {
	var out SyncState
	if err := ns.c.call(ctx, ns.url, "getSyncState", nil, &out); err != nil {
		return SyncState{}, err
	}
	return out, nil
}

// ListTags implements NoteStore.ListTags.
func (ns *noteStoreClient) ListTags(ctx context.Context) ([]Tag, error) {
	var out []Tag
	if err := ns.c.call(ctx, ns.url, "listTags", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetNote implements NoteStore.GetNote.
func (ns *noteStoreClient) GetNote(ctx context.Context, guid string) (Note, error) {
	req := struct {
		GUID        string `json:"guid"`
		WithContent bool   `json:"withContent"`
	}{guid, true}

	var out Note
	if err := ns.c.call(ctx, ns.url, "getNote", req, &out); err != nil {
		return Note{}, err
	}
	return out, nil
}

// PullChunk implements NoteStore.PullChunk.
func (ns *noteStoreClient) PullChunk(ctx context.Context, afterUSN int64, maxEntries int) (SyncChunk, error) {
	req := struct {
		AfterUSN   int64 `json:"afterUSN"`
		MaxEntries int   `json:"maxEntries"`
	}{afterUSN, maxEntries}

	var out SyncChunk
	if err := ns.c.call(ctx, ns.url, "getFilteredSyncChunk", req, &out); err != nil {
		return SyncChunk{}, err
	}
	return out, nil
}

// call POSTs one JSON method call, retrying transient failures with
// exponential backoff up to the attempt cap.
func (c *Client) call(ctx context.Context, baseURL, method string, req, out any) error {
	var body []byte
	if req != nil {
		var err error
		body, err = json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", method, err)
		}
	}

	var lastErr error
	delay := c.retryBase

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Printf("Retrying %s in %v (attempt %d/%d): %v",
				method, delay, attempt, c.maxAttempts, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		err := c.do(ctx, baseURL, method, body, out)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

// do performs a single HTTP round trip for one method call.
func (c *Client) do(ctx context.Context, baseURL, method string, body []byte, out any) error {
	if body == nil {
		body = []byte("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &TransientError{Op: method, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
		return nil

	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", method, ErrNotFound)

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{Op: method, Err: fmt.Errorf("server returned %s", resp.Status)}

	default:
		var we wireError
		if err := json.Unmarshal(data, &we); err != nil || we.Code == "" {
			return fmt.Errorf("%s: service error %s", method, resp.Status)
		}
		return mapWireError(method, we)
	}
}

// wireError is the service's error envelope.
type wireError struct {
	Code      string `json:"errorCode"`
	Parameter string `json:"parameter"`
	Message   string `json:"message,omitempty"`
}

// mapWireError translates an error envelope into the closed error set.
// This is the single place wire-level error codes are interpreted.
func mapWireError(op string, we wireError) error {
	switch we.Code {
	case "AUTH_EXPIRED":
		return fmt.Errorf("%s: %w", op, ErrTokenExpired)

	case "INVALID_AUTH":
		switch we.Parameter {
		case "username":
			return fmt.Errorf("%s: %w", op, ErrInvalidUsername)
		case "password":
			return fmt.Errorf("%s: %w", op, ErrInvalidPassword)
		case "oneTimeCode":
			return fmt.Errorf("%s: %w", op, ErrInvalidOneTimeCode)
		case "authenticationToken":
			return fmt.Errorf("%s: %w", op, ErrTokenInvalid)
		default:
			return fmt.Errorf("%s: %w (parameter %q)", op, ErrAuthFailed, we.Parameter)
		}

	case "BAD_DATA_FORMAT":
		if we.Parameter == "authenticationToken" {
			return fmt.Errorf("%s: %w", op, ErrTokenMalformed)
		}
		return fmt.Errorf("%s: server rejected parameter %q as malformed", op, we.Parameter)

	default:
		return fmt.Errorf("%s: service error (code %s, parameter %q)", op, we.Code, we.Parameter)
	}
}

// asAuthError folds unclassified failures from authentication methods
// into ErrAuthFailed, preserving already-mapped sentinels and transient
// errors as they are.
func asAuthError(err error) error {
	if IsAuthError(err) || IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrAuthFailed, err)
}

// Package api provides the typed gateway to the sayboard REST backend.
//
// Every call classifies its failure as exactly one of ErrNetwork (transport
// fault, retry later), HTTPError (non-2xx, caller picks the retry policy),
// ErrDecoding (response shape mismatch, permanent), or ErrNotAuthenticated
// (no stored credential, raised before the wire is touched). Requests carry
// a bounded timeout so a stalled call cannot block a sync pass.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sayboard/sayboard/internal/creds"
)

// DefaultRequestTimeout bounds a single request. It is deliberately shorter
// than the client-wide timeout so one stalled call cannot consume the pass.
const DefaultRequestTimeout = 10 * time.Second

// Client is the remote API gateway.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	creds          *credsSource
	requestTimeout time.Duration
}

// credsSource adapts the credential store so tests can inject tokens.
type credsSource struct {
	store *creds.Store
	fixed string
}

func (c *credsSource) token() (string, error) {
	if c.store != nil {
		return c.store.Token()
	}
	if c.fixed == "" {
		return "", creds.ErrNoToken
	}
	return c.fixed, nil
}

// Option configures a Client.
type Option func(*Client)

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithFixedToken bypasses the credential store with a static token.
// Intended for tests.
func WithFixedToken(token string) Option {
	return func(c *Client) { c.creds = &credsSource{fixed: token} }
}

// NewClient creates a gateway for the given backend base URL.
func NewClient(baseURL string, credStore *creds.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		creds:          &credsSource{store: credStore},
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates and returns the bearer token plus user record.
// The caller is responsible for persisting the token.
func (c *Client) Login(ctx context.Context, email, password string) (string, *UserDTO, error) {
	var resp loginResponse
	err := c.call(ctx, http.MethodPost, "/api/auth/login", false,
		loginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return "", nil, err
	}
	return resp.Token, &resp.User, nil
}

// Signup creates an account and returns the bearer token plus user record.
func (c *Client) Signup(ctx context.Context, email, password, name string) (string, *UserDTO, error) {
	var resp loginResponse
	err := c.call(ctx, http.MethodPost, "/api/auth/signup", false,
		loginRequest{Email: email, Password: password, Name: name}, &resp)
	if err != nil {
		return "", nil, err
	}
	return resp.Token, &resp.User, nil
}

// Profile fetches the authenticated user record.
func (c *Client) Profile(ctx context.Context) (*UserDTO, error) {
	var user UserDTO
	if err := c.call(ctx, http.MethodGet, "/api/auth/profile", true, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListPhrases fetches the full remote phrase collection, optionally
// filtered by category.
func (c *Client) ListPhrases(ctx context.Context, category string) ([]PhraseDTO, error) {
	path := "/api/phrases"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}

	var resp phrasesResponse
	if err := c.call(ctx, http.MethodGet, path, true, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Phrases, nil
}

// CreatePhrase uploads a locally-created phrase and returns the server record.
func (c *Client) CreatePhrase(ctx context.Context, text, category string) (*PhraseDTO, error) {
	var resp phraseResponse
	err := c.call(ctx, http.MethodPost, "/api/phrases", true,
		createPhraseRequest{PhraseText: text, Category: category}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Phrase, nil
}

// UpdatePhrase pushes local edits for a phrase keyed by its server identifier.
func (c *Client) UpdatePhrase(ctx context.Context, serverID, text, category string, usageCount int, favorite bool) (*PhraseDTO, error) {
	var resp PhraseDTO
	err := c.call(ctx, http.MethodPut, "/api/phrases/"+url.PathEscape(serverID), true,
		updatePhraseRequest{
			PhraseText: text,
			Category:   category,
			UsageCount: &usageCount,
			IsFavorite: &favorite,
		}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeletePhrase deletes the server phrase keyed by its server identifier.
func (c *Client) DeletePhrase(ctx context.Context, serverID string) error {
	return c.call(ctx, http.MethodDelete, "/api/phrases/"+url.PathEscape(serverID), true, nil, nil)
}

// GetSettings fetches the server settings record.
func (c *Client) GetSettings(ctx context.Context) (*SettingsDTO, error) {
	var resp settingsEnvelope
	if err := c.call(ctx, http.MethodGet, "/api/settings", true, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Settings, nil
}

// PutSettings pushes the local settings record.
func (c *Client) PutSettings(ctx context.Context, settings SettingsDTO) (*SettingsDTO, error) {
	var resp settingsEnvelope
	err := c.call(ctx, http.MethodPut, "/api/settings", true,
		settingsEnvelope{Settings: settings}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Settings, nil
}

// LogEvents uploads a batch of analytics events. The batch is atomic from
// the client's perspective: any failure means the whole batch is retried.
func (c *Client) LogEvents(ctx context.Context, events []EventDTO) error {
	if len(events) == 0 {
		return nil
	}
	return c.call(ctx, http.MethodPost, "/api/analytics/log", true,
		logEventsRequest{Events: events}, nil)
}

// RegisterDevice registers a push token for this device.
func (c *Client) RegisterDevice(ctx context.Context, token, platform, deviceModel string) error {
	return c.call(ctx, http.MethodPost, "/api/devices/register", true,
		registerDeviceRequest{Token: token, Platform: platform, DeviceModel: deviceModel}, nil)
}

// PendingInstructions fetches server-queued instructions awaiting this device.
func (c *Client) PendingInstructions(ctx context.Context) ([]InstructionDTO, error) {
	var resp instructionsResponse
	if err := c.call(ctx, http.MethodGet, "/api/instructions/pending", true, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instructions, nil
}

// AckInstruction marks a server instruction as processed.
func (c *Client) AckInstruction(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/api/instructions/"+url.PathEscape(id)+"/processed", true, nil, nil)
}

// call performs one HTTP round-trip with the gateway's failure
// classification. out may be nil for calls with no interesting body.
func (c *Client) call(ctx context.Context, method, path string, authed bool, in, out any) error {
	var token string
	if authed {
		var err error
		token, err = c.creds.token()
		if err != nil {
			if errors.Is(err, creds.ErrNoToken) {
				return ErrNotAuthenticated
			}
			return fmt.Errorf("failed to load credential: %w", err)
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrDecoding, method, path, err)
	}

	return nil
}

package client

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

	"github.com/gorilla/websocket"
)

// Client provides typed access to the registry API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind string) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp.StatusCode, resp.Body)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(status int, body io.Reader) APIError {
	apiErr := APIError{Status: status}
	if body == nil {
		return apiErr
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Kind = payload.Kind
	apiErr.Message = strings.TrimSpace(payload.Error)
	return apiErr
}

// User reflects the caller's own record.
type User struct {
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Index     int64     `json:"index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is one registry notification from the event stream.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type userInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func userPath(email string) string {
	return "/users/" + url.PathEscape(email)
}

// Add registers the token holder and returns the assigned index.
func (c *Client) Add(ctx context.Context, token, name, email string) (int64, error) {
	var resp struct {
		Index int64 `json:"index"`
	}
	if err := c.do(ctx, http.MethodPost, "/users", userInput{Name: name, Email: email}, token, &resp); err != nil {
		return 0, err
	}
	return resp.Index, nil
}

// Update replaces the name and email of the token holder's record.
func (c *Client) Update(ctx context.Context, token, name, email string) error {
	return c.do(ctx, http.MethodPut, "/users", userInput{Name: name, Email: email}, token, nil)
}

// Remove deletes the record bound to email.
func (c *Client) Remove(ctx context.Context, token, email string) error {
	return c.do(ctx, http.MethodDelete, userPath(email), nil, token, nil)
}

// GetUserByEmail returns the name bound to email.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (string, error) {
	var resp userInput
	if err := c.do(ctx, http.MethodGet, userPath(email), nil, "", &resp); err != nil {
		return "", err
	}
	return resp.Name, nil
}

// Exists reports whether email is registered.
func (c *Client) Exists(ctx context.Context, email string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := c.do(ctx, http.MethodGet, userPath(email)+"/exists", nil, "", &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// UsersLength returns the historical index length.
func (c *Client) UsersLength(ctx context.Context) (int64, error) {
	var resp struct {
		Length int64 `json:"length"`
	}
	if err := c.do(ctx, http.MethodGet, "/stats/users", nil, "", &resp); err != nil {
		return 0, err
	}
	return resp.Length, nil
}

// Me returns the token holder's record.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/me", nil, token, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// WatchEvents streams events over the websocket endpoint until ctx is
// cancelled or handle returns an error. An empty eventType watches every type.
func (c *Client) WatchEvents(ctx context.Context, eventType string, handle func(Event) error) error {
	endpoint, err := url.Parse(c.baseURL + "/ws/events")
	if err != nil {
		return fmt.Errorf("build stream url: %w", err)
	}
	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	default:
		endpoint.Scheme = "ws"
	}
	if eventType != "" {
		endpoint.RawQuery = url.Values{"type": {eventType}}.Encode()
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return extractError(resp.StatusCode, resp.Body)
		}
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := handle(evt); err != nil {
			return err
		}
	}
}

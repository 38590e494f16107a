package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultTimeout bounds each HTTP request.
	DefaultTimeout = 30 * time.Second

	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s: status %d: %s", e.Op, e.Code, e.Body)
}

// Client is a Backend over HTTP JSON requests and a WebSocket event stream.
type Client struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
	model  string
	agent  string
	log    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithModel selects the backend model sent with each message.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithAgent selects the backend agent sent with each message.
func WithAgent(agent string) Option {
	return func(c *Client) { c.agent = agent }
}

// NewClient returns a Client for the backend at baseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("transport: server url must be http or https, got %q", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: DefaultTimeout},
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:    logger.With("component", "transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Open dials the session event stream.
func (c *Client) Open(ctx context.Context, sessionID string) (Stream, error) {
	u := c.endpoint("session", sessionID, "events")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Op: "open", Code: resp.StatusCode, Body: resp.Status}
		}
		return nil, fmt.Errorf("transport: dial events: %w", err)
	}
	c.log.Debug("event stream opened", "session", sessionID)
	return &wsStream{conn: conn}, nil
}

type messageRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
	Agent string `json:"agent,omitempty"`
}

// Send submits a user message to the session.
func (c *Client) Send(ctx context.Context, sessionID, text string) error {
	return c.post(ctx, "send", c.endpoint("session", sessionID, "message"), messageRequest{
		Text:  text,
		Model: c.model,
		Agent: c.agent,
	})
}

type permissionRequest struct {
	Response string `json:"response"`
}

// RespondPermission answers a tool-call permission request.
func (c *Client) RespondPermission(ctx context.Context, sessionID, callID string, allow bool) error {
	answer := "reject"
	if allow {
		answer = "once"
	}
	return c.post(ctx, "permission", c.endpoint("session", sessionID, "permissions", callID), permissionRequest{Response: answer})
}

func (c *Client) endpoint(parts ...string) *url.URL {
	u := *c.base
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u.Path = c.base.Path + "/" + strings.Join(parts, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.Join(escaped, "/")
	return &u
}

func (c *Client) post(ctx context.Context, op string, u *url.URL, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

type wsStream struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (s *wsStream) Recv() (Event, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return Event{}, ErrStreamClosed
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("transport: read event: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return Event{}, fmt.Errorf("transport: decode event: %w", err)
		}
		if ev.Type == "" {
			continue
		}
		return ev, nil
	}
}

func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// The peer may already be gone; the close frame is best effort.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return s.conn.Close()
}

func (s *wsStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

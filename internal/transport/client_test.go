package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu          sync.Mutex
	messages    []messageRequest
	permissions map[string]string
	events      []Event
	status      int
	hold        chan struct{}
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /session/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, ev := range f.events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		if f.hold != nil {
			// Keep the stream open until the client closes it.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					close(f.hold)
					return
				}
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})

	mux.HandleFunc("POST /session/{id}/message", func(w http.ResponseWriter, r *http.Request) {
		if f.status != 0 {
			http.Error(w, "backend busy", f.status)
			return
		}
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.messages = append(f.messages, req)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /session/{id}/permissions/{call}", func(w http.ResponseWriter, r *http.Request) {
		var req permissionRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		if f.permissions == nil {
			f.permissions = make(map[string]string)
		}
		f.permissions[r.PathValue("id")+"/"+r.PathValue("call")] = req.Response
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeBackend, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, nil, opts...)
	require.NoError(t, err)
	return c
}

func TestStreamDeliversEventsThenEOF(t *testing.T) {
	f := &fakeBackend{events: []Event{
		{Type: EventDelta, Text: "Hello "},
		{Type: EventToolCall, Tool: &ToolCall{ID: "call-1", Name: "bash", Args: map[string]any{"command": "ls"}}},
		{Type: EventDelta, Text: "world."},
		{Type: EventTurnComplete},
	}}
	c := newTestClient(t, f)

	stream, err := c.Open(context.Background(), "s1")
	require.NoError(t, err)
	defer stream.Close()

	var got []Event
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}

	require.Len(t, got, 4)
	assert.Equal(t, "Hello ", got[0].Text)
	require.NotNil(t, got[1].Tool)
	assert.Equal(t, "bash", got[1].Tool.Name)
	assert.Equal(t, "ls", got[1].Tool.Args["command"])
	assert.Equal(t, EventTurnComplete, got[3].Type)
}

func TestCloseUnblocksRecv(t *testing.T) {
	f := &fakeBackend{hold: make(chan struct{})}
	c := newTestClient(t, f)

	stream, err := c.Open(context.Background(), "s1")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
	select {
	case <-f.hold:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe close")
	}
}

func TestSendPostsMessage(t *testing.T) {
	f := &fakeBackend{}
	c := newTestClient(t, f, WithModel("claude-sonnet"), WithAgent("build"))

	require.NoError(t, c.Send(context.Background(), "s1", "list the files"))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.messages, 1)
	assert.Equal(t, messageRequest{Text: "list the files", Model: "claude-sonnet", Agent: "build"}, f.messages[0])
}

func TestSendStatusError(t *testing.T) {
	f := &fakeBackend{status: http.StatusServiceUnavailable}
	c := newTestClient(t, f)

	err := c.Send(context.Background(), "s1", "hi")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "send", se.Op)
	assert.Contains(t, se.Body, "backend busy")
}

func TestRespondPermission(t *testing.T) {
	f := &fakeBackend{}
	c := newTestClient(t, f)

	require.NoError(t, c.RespondPermission(context.Background(), "s1", "call-1", true))
	require.NoError(t, c.RespondPermission(context.Background(), "s1", "call-2", false))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, map[string]string{"s1/call-1": "once", "s1/call-2": "reject"}, f.permissions)
}

func TestOpenUnknownRoute(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Open(context.Background(), "s1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com", nil)
	assert.Error(t, err)
	_, err = NewClient("://", nil)
	assert.Error(t, err)
}

func TestEndpointEscapesSegments(t *testing.T) {
	c, err := NewClient("http://localhost:4096/api/", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4096/api/session/a%2Fb/message", c.endpoint("session", "a/b", "message").String())
}

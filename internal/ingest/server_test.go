package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nupi-ai/voice-talkback/internal/orchestrator"
	"github.com/nupi-ai/voice-talkback/internal/store"
)

type fakeController struct {
	mu          sync.Mutex
	utterances  []string
	err         error
	interrupted bool
	snapshot    orchestrator.Snapshot
}

func (f *fakeController) HandleUtterance(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.utterances = append(f.utterances, text)
	return nil
}

func (f *fakeController) Interrupt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.interrupted {
		f.interrupted = true
		return nil
	}
	return orchestrator.ErrNoSession
}

func (f *fakeController) Snapshot() orchestrator.Snapshot {
	return f.snapshot
}

func do(t *testing.T, s *Server, method, path, contentType, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestTranscriptionJSON(t *testing.T) {
	ctl := &fakeController{}
	s := New(ctl, nil, nil)

	code, body := do(t, s, http.MethodPost, "/transcription", fiber.MIMEApplicationJSON, `{"text": "  delete the build folder  "}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.JSONEq(t, `{"status":"accepted"}`, body)
	assert.Equal(t, []string{"delete the build folder"}, ctl.utterances)
}

func TestTranscriptionPlainText(t *testing.T) {
	ctl := &fakeController{}
	s := New(ctl, nil, nil)

	code, _ := do(t, s, http.MethodPost, "/transcription", "text/plain", "yes go ahead")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{"yes go ahead"}, ctl.utterances)
}

func TestTranscriptionRejectsEmpty(t *testing.T) {
	ctl := &fakeController{}
	s := New(ctl, nil, nil)

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"empty_json_text", fiber.MIMEApplicationJSON, `{"text": "   "}`},
		{"missing_field", fiber.MIMEApplicationJSON, `{}`},
		{"empty_plain", "text/plain", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, s, http.MethodPost, "/transcription", tt.contentType, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, body, "empty transcription")
		})
	}
	assert.Empty(t, ctl.utterances)
}

func TestTranscriptionInvalidJSON(t *testing.T) {
	s := New(&fakeController{}, nil, nil)
	code, _ := do(t, s, http.MethodPost, "/transcription", fiber.MIMEApplicationJSON, `{"text":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTranscriptionMethodNotAllowed(t *testing.T) {
	s := New(&fakeController{}, nil, nil)
	code, _ := do(t, s, http.MethodGet, "/transcription", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestTranscriptionBackendFailure(t *testing.T) {
	ctl := &fakeController{err: &orchestrator.TransportError{Op: "open", SessionID: "s1", Err: errors.New("refused")}}
	s := New(ctl, nil, nil)

	code, body := do(t, s, http.MethodPost, "/transcription", "text/plain", "hello")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body, "refused")

	ctl.err = orchestrator.ErrClosed
	code, _ = do(t, s, http.MethodPost, "/transcription", "text/plain", "hello")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestInterrupt(t *testing.T) {
	s := New(&fakeController{}, nil, nil)

	code, body := do(t, s, http.MethodPost, "/interrupt", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"interrupted":true}`, body)

	_, body = do(t, s, http.MethodPost, "/interrupt", "", "")
	assert.JSONEq(t, `{"interrupted":false}`, body)
}

func TestStatus(t *testing.T) {
	ctl := &fakeController{snapshot: orchestrator.Snapshot{
		Token:  "0190a1b2-0000-7000-8000-000000000001",
		State:  orchestrator.StateStreaming,
		Text:   "Working on it",
		Deltas: 3,
	}}
	s := New(ctl, nil, nil)

	code, body := do(t, s, http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, code)

	var got orchestrator.Snapshot
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, ctl.snapshot, got)
}

func TestMessages(t *testing.T) {
	history := store.NewMemory()
	ctx := context.Background()
	for _, m := range []store.Message{
		{SessionID: "a", Role: store.RoleUser, Text: "first"},
		{SessionID: "a", Role: store.RoleAssistant, Text: "second"},
		{SessionID: "b", Role: store.RoleUser, Text: "third"},
	} {
		_, err := history.Commit(ctx, m)
		require.NoError(t, err)
	}
	s := New(&fakeController{}, history, nil)

	code, body := do(t, s, http.MethodGet, "/messages?session=a", "", "")
	require.Equal(t, http.StatusOK, code)
	var got []store.Message
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Text)

	_, body = do(t, s, http.MethodGet, "/messages?limit=1", "", "")
	got = nil
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "third", got[0].Text)

	code, _ = do(t, s, http.MethodGet, "/messages?limit=-1", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMessagesWithoutHistory(t *testing.T) {
	s := New(&fakeController{}, nil, nil)
	code, _ := do(t, s, http.MethodGet, "/messages", "", "")
	assert.Equal(t, http.StatusNotFound, code)
}

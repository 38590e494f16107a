package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	// DefaultKokoroURL is where the local Kokoro server listens.
	DefaultKokoroURL = "http://127.0.0.1:7892"

	// KokoroTimeout bounds a single synthesis request.
	KokoroTimeout = 30 * time.Second

	maxWAVBytes = 64 << 20
)

// Kokoro synthesizes through a local Kokoro HTTP server, which keeps the
// model loaded between requests. The server either answers with WAV audio
// or with the path of a WAV file it wrote.
type Kokoro struct {
	httpClient *http.Client
	baseURL    string
	log        *slog.Logger
}

// NewKokoro returns a client for the server at baseURL.
func NewKokoro(baseURL string, logger *slog.Logger) *Kokoro {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultKokoroURL
	}
	return &Kokoro{
		httpClient: &http.Client{
			Timeout: KokoroTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger.With("component", "kokoro"),
	}
}

type kokoroRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

type kokoroResponse struct {
	File string `json:"file"`
}

func (k *Kokoro) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(kokoroRequest{Text: text, Voice: voice.ID, Speed: voice.Speed})
	if err != nil {
		return nil, fmt.Errorf("speech: kokoro marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: kokoro create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := k.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech: kokoro http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: kokoro status %d: %s", ErrRemote, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var wav []byte
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "audio/") {
		wav, err = io.ReadAll(io.LimitReader(resp.Body, maxWAVBytes))
		if err != nil {
			return nil, fmt.Errorf("speech: kokoro read audio: %w", err)
		}
	} else {
		wav, err = k.readFile(resp.Body)
		if err != nil {
			return nil, err
		}
	}

	pcm, err := DecodeWAV(wav)
	if err != nil {
		return nil, err
	}
	k.log.Debug("kokoro synthesis complete",
		"text_length", len(text),
		"bytes", len(pcm),
		"elapsed", time.Since(start),
	)
	return pcm, nil
}

// readFile loads and removes the WAV file named in a JSON response.
func (k *Kokoro) readFile(body io.Reader) ([]byte, error) {
	var out kokoroResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, fmt.Errorf("speech: kokoro decode response: %w", err)
	}
	if out.File == "" {
		return nil, fmt.Errorf("%w: kokoro response missing file path", ErrRemote)
	}
	wav, err := os.ReadFile(out.File)
	if err != nil {
		return nil, fmt.Errorf("speech: kokoro read %s: %w", out.File, err)
	}
	if err := os.Remove(out.File); err != nil {
		k.log.Debug("failed to remove kokoro output", "file", out.File, "error", err)
	}
	return wav, nil
}

package speech

import (
	"context"
	"log/slog"
	"strings"
)

// stubBytesPerChar is 10ms of audio per input byte.
const stubBytesPerChar = 320

// Stub produces deterministic silence proportional to the text length. It is
// intended for CI and for running without a synthesizer service.
type Stub struct {
	log *slog.Logger
}

// NewStub returns a Stub synthesizer.
func NewStub(logger *slog.Logger) *Stub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stub{log: logger.With("component", "stub_synthesizer")}
}

// Synthesize returns len(text)*320 bytes of silence. Faster voices get
// proportionally shorter clips.
func (s *Stub) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(text) * stubBytesPerChar
	if voice.Speed > 0 {
		n = int(float64(n) / voice.Speed)
	}
	n &^= 1 // whole samples only

	s.log.Debug("stub synthesis",
		"text_length", len(text),
		"voice_id", voice.ID,
		"bytes", n,
	)
	return make([]byte, n), nil
}

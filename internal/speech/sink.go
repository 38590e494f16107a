package speech

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sink renders PCM audio. Play must return promptly once ctx is cancelled.
type Sink interface {
	Play(ctx context.Context, pcm []byte) error
}

// WriterSink writes raw PCM to an io.Writer, optionally paced at real-time
// speed so that Stop has an audible effect on pipes to an audio player.
type WriterSink struct {
	mu       sync.Mutex
	w        io.Writer
	realtime bool
}

// NewWriterSink returns a sink writing to w as fast as w accepts.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// NewRealtimeSink returns a sink that paces writes to the clip duration.
func NewRealtimeSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w, realtime: true}
}

func (s *WriterSink) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for offset := 0; offset < len(pcm); offset += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(offset+chunkSize, len(pcm))
		if _, err := s.w.Write(pcm[offset:end]); err != nil {
			return fmt.Errorf("speech: write audio: %w", err)
		}
		if s.realtime {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Duration(pcm[offset:end])):
			}
		}
	}
	return nil
}

// OpenSink resolves an output target: "" or "discard" drops audio, "-" or
// "stdout" paces raw PCM to standard output, anything else appends to a file.
// The returned closer releases any file opened.
func OpenSink(target string) (Sink, io.Closer, error) {
	switch target {
	case "", "discard":
		return NewWriterSink(io.Discard), io.NopCloser(nil), nil
	case "-", "stdout":
		return NewRealtimeSink(os.Stdout), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, nil, fmt.Errorf("speech: create audio dir: %w", err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("speech: open audio output: %w", err)
	}
	return NewWriterSink(f), f, nil
}

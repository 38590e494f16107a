// Package speech turns sentences into PCM audio and plays it back in the
// order the sentences were produced.
//
// All audio is PCM 16-bit signed little-endian mono at 16 kHz.
package speech

import (
	"context"
	"errors"
	"time"
)

const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16

	// chunkSize is the streaming unit, about 128ms of audio.
	chunkSize = 4096
)

var (
	// ErrEmptyText is returned when asked to synthesize blank text.
	ErrEmptyText = errors.New("speech: text is required")
	// ErrRemote wraps failures reported by a remote synthesizer.
	ErrRemote = errors.New("speech: remote synthesis failed")
	// ErrInterrupted is returned when a remote synthesizer reports an
	// interrupted stream.
	ErrInterrupted = errors.New("speech: synthesis interrupted")
)

// Voice selects the voice and speaking rate.
type Voice struct {
	ID    string
	Speed float64
}

// Synthesizer converts text to PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text string, voice Voice) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	return f(ctx, text, voice)
}

// Duration returns the playback length of pcm.
func Duration(pcm []byte) time.Duration {
	samples := len(pcm) / (BitDepth / 8) / Channels
	return time.Duration(samples) * time.Second / SampleRate
}

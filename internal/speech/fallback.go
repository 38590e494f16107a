package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Fallback tries each synthesizer in order and returns the first success.
type Fallback struct {
	chain []Synthesizer
	log   *slog.Logger
}

// NewFallback builds a Fallback over chain. Nil entries are skipped.
func NewFallback(logger *slog.Logger, chain ...Synthesizer) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fallback{log: logger.With("component", "synth_fallback")}
	for _, s := range chain {
		if s != nil {
			f.chain = append(f.chain, s)
		}
	}
	return f
}

func (f *Fallback) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	if len(f.chain) == 0 {
		return nil, errors.New("speech: no synthesizer configured")
	}

	var errs []error
	for i, s := range f.chain {
		pcm, err := s.Synthesize(ctx, text, voice)
		if err == nil {
			if i > 0 {
				f.log.Info("fallback synthesizer used", "index", i)
			}
			return pcm, nil
		}
		if errors.Is(err, ErrEmptyText) || ctx.Err() != nil {
			return nil, err
		}
		f.log.Warn("synthesizer failed, trying next", "index", i, "error", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("speech: all synthesizers failed: %w", errors.Join(errs...))
}

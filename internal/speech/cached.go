package speech

import (
	"context"
	"log/slog"

	"github.com/nupi-ai/voice-talkback/internal/cache"
)

// Cached serves repeated sentences from a disk cache before delegating to
// the wrapped synthesizer.
type Cached struct {
	next   Synthesizer
	cache  *cache.Cache
	engine string
	log    *slog.Logger
}

// NewCached wraps next. engine namespaces the cache keys so that switching
// synthesizers does not replay audio from another engine.
func NewCached(next Synthesizer, c *cache.Cache, engine string, logger *slog.Logger) *Cached {
	if next == nil {
		panic("speech: cached synthesizer needs a delegate")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		next:   next,
		cache:  c,
		engine: engine,
		log:    logger.With("component", "synth_cache", "engine", engine),
	}
}

func (c *Cached) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	if c.cache == nil {
		return c.next.Synthesize(ctx, text, voice)
	}

	key := cache.Key(c.engine, voice.ID, voice.Speed, text)
	if pcm, ok := c.cache.Get(key); ok {
		c.log.Debug("cache hit", "key", key, "bytes", len(pcm))
		return pcm, nil
	}

	pcm, err := c.next.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(key, pcm); err != nil {
		c.log.Warn("failed to store in cache", "error", err)
	}
	return pcm, nil
}

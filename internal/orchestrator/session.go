package orchestrator

import (
	"strings"

	"github.com/nupi-ai/voice-talkback/internal/clock"
	"github.com/nupi-ai/voice-talkback/internal/segmenter"
	"github.com/nupi-ai/voice-talkback/internal/transport"
)

// session is one assistant response. Fields are guarded by Orchestrator.mu.
type session struct {
	token  string
	state  State
	stream transport.Stream
	seg    *segmenter.Segmenter
	idle   clock.Timer
	text   strings.Builder
	deltas int

	// cancelled is set by an interrupt or a newer session.
	cancelled bool
	// finalized latches once the session reaches a terminal outcome.
	finalized bool
	// partial marks a response cut short by a stream error.
	partial bool
	// confirm is the open voice confirmation for one of the session's tool
	// calls. The idle timer is suspended while it is set.
	confirm *confirmation

	emitted []string
	errors  []sentenceError
}

// confirmation ties a gate entry to the session and tool call that opened it.
type confirmation struct {
	id     string
	callID string
	done   bool
}

type sentenceError struct {
	err      error
	sentence string
}

func (s *session) setState(next State, fx *effects, cb Callbacks) {
	if s.state == next {
		return
	}
	s.state = next
	if cb.OnState != nil {
		fx.add(func() { cb.OnState(next) })
	}
}

func (s *session) stopIdle() {
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
}

// effects are side effects collected under the lock and run after it is
// released, in order.
type effects []func()

func (fx *effects) add(fn func()) {
	*fx = append(*fx, fn)
}

func (fx effects) run() {
	for _, fn := range fx {
		fn()
	}
}

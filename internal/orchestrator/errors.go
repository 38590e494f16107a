package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned by Interrupt when no response was in flight.
	ErrNoSession = errors.New("orchestrator: no active session")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator: closed")
	// ErrSuperseded is returned by StartSession when a newer session or an
	// interrupt replaced the session while it was being opened.
	ErrSuperseded = errors.New("orchestrator: session superseded")
	// ErrEmptyUtterance is returned for blank utterances.
	ErrEmptyUtterance = errors.New("orchestrator: empty utterance")
)

// TransportError reports a failure talking to the assistant backend.
type TransportError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("orchestrator: transport %s (session %s): %v", e.Op, e.SessionID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SynthesisError reports a sentence that could not be synthesized. The
// session carries on without it.
type SynthesisError struct {
	Sentence string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("orchestrator: synthesize %q: %v", e.Sentence, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

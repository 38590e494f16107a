// Package orchestrator runs one assistant response at a time: it streams the
// reply text, hands complete sentences to the synthesizer as they appear,
// finalizes the response exactly once, and routes tool permission requests
// through voice confirmation.
//
// All session state is guarded by a single mutex that stands in for an event
// loop. Callbacks, backend calls and store writes run after it is released.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nupi-ai/voice-talkback/internal/clock"
	"github.com/nupi-ai/voice-talkback/internal/confirm"
	"github.com/nupi-ai/voice-talkback/internal/risk"
	"github.com/nupi-ai/voice-talkback/internal/segmenter"
	"github.com/nupi-ai/voice-talkback/internal/speech"
	"github.com/nupi-ai/voice-talkback/internal/store"
	"github.com/nupi-ai/voice-talkback/internal/telemetry"
	"github.com/nupi-ai/voice-talkback/internal/transport"
)

const (
	DefaultIdleTimeout = 500 * time.Millisecond

	// ApologyText is spoken when the backend cannot be reached.
	ApologyText = "Sorry, I couldn't reach the assistant. Please try again."

	permissionTimeout = 10 * time.Second
)

// State is the lifecycle stage of a session.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateTerminal   State = "terminal"
)

// Callbacks receive UI updates. Any may be nil. They are never invoked with
// the orchestrator lock held.
type Callbacks struct {
	OnTextUpdate   func(full string)
	OnSentence     func(sentence string)
	OnError        func(err error, sentence string)
	OnState        func(state State)
	OnConfirmation func(ev confirm.Event)
	OnNotice       func(text string)
}

// Playback is the ordered audio queue.
type Playback interface {
	Reserve() speech.Ticket
	Deliver(t speech.Ticket, pcm []byte) bool
	Skip(t speech.Ticket) bool
	Stop()
}

// Config tunes the orchestrator.
type Config struct {
	Voice             speech.Voice
	IdleTimeout       time.Duration
	MinSentenceLength int
	ConfirmTimeout    time.Duration
	Toggles           risk.Toggles
}

// Deps are the collaborators the orchestrator drives. Backend, Synthesizer,
// Player and Store are required.
type Deps struct {
	Backend     transport.Backend
	Synthesizer speech.Synthesizer
	Player      Playback
	Store       store.Store
	Clock       clock.Clock
	Recorder    *telemetry.Recorder
	Callbacks   Callbacks
}

// Snapshot is a point-in-time view of the current session.
type Snapshot struct {
	Token  string `json:"token,omitempty"`
	State  State  `json:"state"`
	Text   string `json:"text"`
	Deltas int    `json:"deltas"`
}

// Orchestrator owns the current session and the confirmation gate.
type Orchestrator struct {
	cfg      Config
	backend  transport.Backend
	synth    speech.Synthesizer
	player   Playback
	store    store.Store
	clock    clock.Clock
	rec      *telemetry.Recorder
	log      *slog.Logger
	cb       Callbacks
	gate     *confirm.Gate
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu      sync.Mutex
	current *session
	closed  bool
}

// New returns an Orchestrator. It panics if a required dependency is nil.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Backend == nil || deps.Synthesizer == nil || deps.Player == nil || deps.Store == nil {
		panic("orchestrator: backend, synthesizer, player and store are required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.NewRecorder(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:     cfg,
		backend: deps.Backend,
		synth:   deps.Synthesizer,
		player:  deps.Player,
		store:   deps.Store,
		clock:   deps.Clock,
		rec:     deps.Recorder,
		log:     deps.Recorder.Logger().With("component", "orchestrator"),
		cb:      deps.Callbacks,
		ctx:     ctx,
		cancel:  cancel,
	}
	o.gate = confirm.New(
		confirm.WithClock(deps.Clock),
		confirm.WithTimeout(cfg.ConfirmTimeout),
		confirm.WithObserver(o.onConfirmation),
		confirm.WithNotifier(o.notice),
		confirm.WithLogger(deps.Recorder.Logger()),
	)
	return o
}

// Gate exposes the confirmation gate.
func (o *Orchestrator) Gate() *confirm.Gate {
	return o.gate
}

// StartSession interrupts any response in progress, opens a new event stream
// and submits text. Backend failures are returned as *TransportError and
// announced to the user.
func (o *Orchestrator) StartSession(ctx context.Context, text string) (string, error) {
	return o.start(ctx, text, false)
}

// HandleUtterance routes a user utterance. While a confirmation is pending
// it is read as a yes/no answer; otherwise it starts a new response.
func (o *Orchestrator) HandleUtterance(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyUtterance
	}

	if pending, ok := o.gate.Current(); ok {
		if o.ownsConfirmation(pending.ID) {
			v := confirm.ParseVerdict(text)
			if v == confirm.VerdictUnknown {
				o.notice(repromptText(pending))
				return nil
			}
			o.gate.Resolve(pending.ID, v)
			return nil
		}
		// Left over from a session that is gone.
		o.gate.Cancel(pending.ID)
	}

	_, err := o.start(ctx, text, true)
	return err
}

// Interrupt stops the current response and all queued audio. It returns
// ErrNoSession when no response was in flight; playback is stopped either way.
func (o *Orchestrator) Interrupt() error {
	o.mu.Lock()
	active := o.current != nil && !o.current.finalized
	fx := o.resetLocked()
	o.mu.Unlock()

	fx.run()
	o.player.Stop()
	if !active {
		return ErrNoSession
	}
	o.rec.Event("response interrupted")
	return nil
}

// Snapshot describes the current session.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.current
	if s == nil {
		return Snapshot{State: StateIdle}
	}
	return Snapshot{
		Token:  s.token,
		State:  s.state,
		Text:   s.text.String(),
		Deltas: s.deltas,
	}
}

// Close interrupts the current session, denies any pending confirmation and
// waits for background work to finish.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	fx := o.resetLocked()
	o.mu.Unlock()

	fx.run()
	o.player.Stop()
	o.gate.Close()
	o.cancel()
	o.inflight.Wait()
	return nil
}

func (o *Orchestrator) start(ctx context.Context, text string, record bool) (string, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	fx := o.resetLocked()
	s := o.newSessionLocked()
	s.setState(StateStarting, &fx, o.cb)
	o.current = s
	o.mu.Unlock()

	fx.run()
	o.player.Stop()
	o.log.Info("session started", "session", s.token, "text_length", len(text))

	if record {
		if _, err := o.store.Commit(ctx, store.Message{SessionID: s.token, Role: store.RoleUser, Text: text}); err != nil {
			o.log.Warn("failed to record utterance", "session", s.token, "error", err)
		}
	}

	stream, err := o.backend.Open(ctx, s.token)
	if err != nil {
		return "", o.failStart(s, "open", err)
	}

	o.mu.Lock()
	if o.current != s || s.cancelled {
		o.mu.Unlock()
		stream.Close()
		return "", ErrSuperseded
	}
	s.stream = stream
	o.inflight.Add(1)
	o.mu.Unlock()

	go o.receive(s, stream)

	if err := o.backend.Send(ctx, s.token, text); err != nil {
		return "", o.failStart(s, "send", err)
	}
	return s.token, nil
}

// failStart ends a session whose stream could not be opened or whose message
// could not be submitted.
func (o *Orchestrator) failStart(s *session, op string, err error) error {
	terr := &TransportError{Op: op, SessionID: s.token, Err: err}
	o.log.Error("session start failed", "session", s.token, "op", op, "error", err)

	o.mu.Lock()
	var fx effects
	if o.current == s && !s.finalized {
		o.terminateLocked(s, &fx)
	}
	o.mu.Unlock()

	fx.run()
	o.notice(ApologyText)
	return terr
}

func (o *Orchestrator) receive(s *session, stream transport.Stream) {
	defer o.inflight.Done()
	for {
		ev, err := stream.Recv()
		if err != nil {
			o.streamEnded(s, err)
			return
		}
		o.handleEvent(s, ev)
	}
}

func (o *Orchestrator) handleEvent(s *session, ev transport.Event) {
	var fx effects

	o.mu.Lock()
	if !o.liveLocked(s) {
		o.staleLocked(s, string(ev.Type))
		o.mu.Unlock()
		return
	}

	switch ev.Type {
	case transport.EventDelta:
		o.appendDeltaLocked(s, ev.Text, &fx)
	case transport.EventTurnComplete, transport.EventIdle:
		o.finalizeLocked(s, &fx)
	case transport.EventToolCall:
		if ev.Tool != nil {
			call := *ev.Tool
			fx.add(func() { o.handleToolCall(s, call) })
		}
	case transport.EventError:
		o.streamErrorLocked(s, errors.New(ev.Text), &fx)
	default:
		o.log.Debug("ignoring unknown event", "session", s.token, "type", ev.Type)
	}
	o.mu.Unlock()

	fx.run()
}

func (o *Orchestrator) streamEnded(s *session, err error) {
	if errors.Is(err, transport.ErrStreamClosed) {
		return
	}

	var fx effects
	o.mu.Lock()
	if !o.liveLocked(s) {
		o.mu.Unlock()
		return
	}
	if errors.Is(err, io.EOF) {
		o.finalizeLocked(s, &fx)
	} else {
		o.streamErrorLocked(s, err, &fx)
	}
	o.mu.Unlock()

	fx.run()
}

func (o *Orchestrator) appendDeltaLocked(s *session, delta string, fx *effects) {
	if delta == "" {
		return
	}
	s.text.WriteString(delta)
	s.deltas++
	s.setState(StateStreaming, fx, o.cb)

	if o.cb.OnTextUpdate != nil {
		full := s.text.String()
		fx.add(func() { o.cb.OnTextUpdate(full) })
	}

	s.seg.Push(delta)
	o.drainSentencesLocked(s, fx)
	o.armIdleLocked(s)
}

func (o *Orchestrator) armIdleLocked(s *session) {
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idle = o.clock.AfterFunc(o.cfg.IdleTimeout, func() { o.idleExpired(s) })
}

func (o *Orchestrator) idleExpired(s *session) {
	var fx effects
	o.mu.Lock()
	if !o.liveLocked(s) {
		o.staleLocked(s, "idle-timer")
		o.mu.Unlock()
		return
	}
	o.finalizeLocked(s, &fx)
	o.mu.Unlock()

	fx.run()
}

// finalizeLocked completes a session. The finalized latch makes every later
// call a no-op.
func (o *Orchestrator) finalizeLocked(s *session, fx *effects) {
	if s.finalized {
		return
	}
	s.finalized = true
	s.setState(StateFinalizing, fx, o.cb)
	s.stopIdle()
	o.withdrawConfirmationLocked(s, fx)

	s.seg.Flush()
	o.drainSentencesLocked(s, fx)

	if stream := s.stream; stream != nil {
		s.stream = nil
		fx.add(func() { o.closeStream(s.token, stream) })
	}

	if text := strings.TrimSpace(s.text.String()); text != "" {
		msg := store.Message{
			SessionID:  s.token,
			Role:       store.RoleAssistant,
			Text:       text,
			Incomplete: s.partial,
		}
		fx.add(func() {
			if _, err := o.store.Commit(o.ctx, msg); err != nil {
				o.log.Error("failed to commit response", "session", msg.SessionID, "error", err)
			}
		})
	}

	s.setState(StateTerminal, fx, o.cb)
	o.rec.Event("response finalized",
		"session", s.token,
		"deltas", s.deltas,
		"sentences", s.seg.Stats().Sentences,
		"incomplete", s.partial,
	)
}

// streamErrorLocked fails the session outright when nothing was received,
// and otherwise finalizes what arrived as an incomplete response.
func (o *Orchestrator) streamErrorLocked(s *session, err error, fx *effects) {
	terr := &TransportError{Op: "stream", SessionID: s.token, Err: err}
	o.log.Warn("response stream failed", "session", s.token, "deltas", s.deltas, "error", err)

	if o.cb.OnError != nil {
		fx.add(func() { o.cb.OnError(terr, "") })
	}
	if s.deltas == 0 {
		o.terminateLocked(s, fx)
		fx.add(func() { o.notice(ApologyText) })
		return
	}
	s.partial = true
	o.finalizeLocked(s, fx)
}

// terminateLocked ends s without flushing or committing.
func (o *Orchestrator) terminateLocked(s *session, fx *effects) {
	s.finalized = true
	s.stopIdle()
	o.withdrawConfirmationLocked(s, fx)
	s.seg.Clear()
	if stream := s.stream; stream != nil {
		s.stream = nil
		fx.add(func() { o.closeStream(s.token, stream) })
	}
	s.setState(StateTerminal, fx, o.cb)
}

// resetLocked cancels the current session so that none of its pending work
// can reach the next one. The caller stops playback after unlocking.
func (o *Orchestrator) resetLocked() effects {
	var fx effects
	s := o.current
	if s == nil || s.cancelled {
		return fx
	}
	s.cancelled = true
	o.terminateLocked(s, &fx)
	return fx
}

// withdrawConfirmationLocked cancels the session's open confirmation. The
// backend is told the call was rejected.
func (o *Orchestrator) withdrawConfirmationLocked(s *session, fx *effects) {
	c := s.confirm
	if c == nil {
		return
	}
	s.confirm = nil
	fx.add(func() { o.gate.Cancel(c.id) })
}

func (o *Orchestrator) liveLocked(s *session) bool {
	return o.current == s && !s.cancelled && !s.finalized
}

func (o *Orchestrator) staleLocked(s *session, kind string) {
	current := ""
	if o.current != nil {
		current = o.current.token
	}
	o.rec.Stale(kind, s.token, current)
}

func (o *Orchestrator) closeStream(token string, stream transport.Stream) {
	if err := stream.Close(); err != nil {
		o.log.Debug("closing event stream", "session", token, "error", err)
	}
}

func (o *Orchestrator) newSessionLocked() *session {
	s := &session{
		token: uuid.Must(uuid.NewV7()).String(),
		state: StateIdle,
	}
	opts := []segmenter.Option{
		segmenter.WithErrorHandler(func(err error, sentence string) {
			o.log.Warn("sentence dispatch failed", "session", s.token, "error", err)
			if o.cb.OnError != nil {
				s.errors = append(s.errors, sentenceError{err: err, sentence: sentence})
			}
		}),
	}
	if o.cfg.MinSentenceLength > 0 {
		opts = append(opts, segmenter.WithMinLength(o.cfg.MinSentenceLength))
	}
	s.seg = segmenter.New(func(sentence string) error {
		return o.dispatchLocked(s, sentence)
	}, opts...)
	return s
}

// dispatchLocked reserves the playback slot for a sentence and starts its
// synthesis. It runs inside Segmenter.Push or Flush.
func (o *Orchestrator) dispatchLocked(s *session, sentence string) error {
	if o.closed {
		return ErrClosed
	}
	ticket := o.player.Reserve()
	s.emitted = append(s.emitted, sentence)

	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		ctx := speech.WithSession(o.ctx, s.token)
		pcm, err := o.synth.Synthesize(ctx, sentence, o.cfg.Voice)
		o.synthesized(s, ticket, sentence, pcm, err)
	}()
	return nil
}

// drainSentencesLocked turns sentences and dispatch failures collected during
// a segmenter call into callbacks.
func (o *Orchestrator) drainSentencesLocked(s *session, fx *effects) {
	for _, sentence := range s.emitted {
		if o.cb.OnSentence != nil {
			sentence := sentence
			fx.add(func() { o.cb.OnSentence(sentence) })
		}
	}
	s.emitted = s.emitted[:0]

	for _, se := range s.errors {
		se := se
		fx.add(func() { o.cb.OnError(se.err, se.sentence) })
	}
	s.errors = s.errors[:0]
}

// synthesized applies a synthesis result unless its session was cancelled.
func (o *Orchestrator) synthesized(s *session, ticket speech.Ticket, sentence string, pcm []byte, err error) {
	o.mu.Lock()
	cancelled := s.cancelled
	if cancelled {
		o.staleLocked(s, "synthesis")
	}
	o.mu.Unlock()

	if cancelled {
		o.player.Skip(ticket)
		return
	}
	if err != nil {
		o.player.Skip(ticket)
		o.log.Warn("synthesis failed", "session", s.token, "error", err)
		if o.cb.OnError != nil {
			o.cb.OnError(&SynthesisError{Sentence: sentence, Err: err}, sentence)
		}
		return
	}
	o.player.Deliver(ticket, pcm)
}

// say speaks text outside any session.
func (o *Orchestrator) say(text string) {
	ticket := o.player.Reserve()
	o.spawn(func() {
		pcm, err := o.synth.Synthesize(o.ctx, text, o.cfg.Voice)
		if err != nil {
			o.player.Skip(ticket)
			o.log.Warn("failed to speak notice", "error", err)
			return
		}
		o.player.Deliver(ticket, pcm)
	})
}

// notice shows and speaks a message to the user.
func (o *Orchestrator) notice(text string) {
	if o.cb.OnNotice != nil {
		o.cb.OnNotice(text)
	}
	o.say(text)
}

func (o *Orchestrator) onConfirmation(ev confirm.Event) {
	if o.cb.OnConfirmation != nil {
		o.cb.OnConfirmation(ev)
	}
}

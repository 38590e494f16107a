// Package confirm holds a risky tool invocation until the user approves or
// denies it by voice, or until it times out.
package confirm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nupi-ai/voice-talkback/internal/clock"
	"github.com/nupi-ai/voice-talkback/internal/risk"
)

// DefaultTimeout is how long a confirmation waits for a verdict.
const DefaultTimeout = 30 * time.Second

// TimeoutNotice is announced when a confirmation expires.
const TimeoutNotice = "Confirmation timed out. The action was cancelled."

// Outcome is the terminal result of a confirmation.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
	OutcomeTimedOut Outcome = "timed-out"
	// OutcomeCancelled ends a confirmation that was superseded or withdrawn
	// before the user answered. It denies the action.
	OutcomeCancelled Outcome = "cancelled"
)

// Allowed reports whether the action may proceed.
func (o Outcome) Allowed() bool {
	return o == OutcomeApproved
}

// EventKind names a gate lifecycle event.
type EventKind string

const (
	EventOpened     EventKind = "opened"
	EventResolved   EventKind = "resolved"
	EventTimedOut   EventKind = "timed-out"
	EventSuperseded EventKind = "superseded"
	EventCancelled  EventKind = "cancelled"
)

// Event is delivered to the gate observer. Outcome is empty for opened events.
type Event struct {
	Kind    EventKind
	Pending Pending
	Outcome Outcome
}

// Pending describes the confirmation awaiting a verdict.
type Pending struct {
	ID             string
	ToolName       string
	Args           map[string]any
	Description    string
	Severity       risk.Severity
	Classification risk.Classification
	CreatedAt      time.Time
}

// Decision receives the terminal outcome of a confirmation.
type Decision func(Outcome)

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithObserver registers a lifecycle event observer.
func WithObserver(fn func(Event)) Option {
	return func(g *Gate) { g.observer = fn }
}

// WithNotifier registers the sink for user-visible notices.
func WithNotifier(fn func(string)) Option {
	return func(g *Gate) { g.notify = fn }
}

// WithLogger sets the gate logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// Gate tracks at most one open confirmation. Callbacks run without the gate
// lock held and may call back into the gate.
type Gate struct {
	mu       sync.Mutex
	open     *entry
	closed   bool
	clock    clock.Clock
	timeout  time.Duration
	observer func(Event)
	notify   func(string)
	log      *slog.Logger
}

type entry struct {
	pending Pending
	decide  Decision
	timer   clock.Timer
}

// New returns a Gate with no open confirmation.
func New(opts ...Option) *Gate {
	g := &Gate{
		clock:   clock.Real{},
		timeout: DefaultTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("component", "confirm")
	return g
}

// Open starts a confirmation for cls and returns its id. Any confirmation
// still open is reported as superseded and decided with OutcomeCancelled.
// On a closed gate decide receives OutcomeDenied and the id is empty.
func (g *Gate) Open(cls risk.Classification, args map[string]any, decide Decision) string {
	if decide == nil {
		decide = func(Outcome) {}
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		decide(OutcomeDenied)
		return ""
	}

	prev := g.open
	if prev != nil {
		prev.timer.Stop()
	}

	e := &entry{
		pending: Pending{
			ID:             uuid.Must(uuid.NewV7()).String(),
			ToolName:       cls.ToolName,
			Args:           args,
			Description:    cls.Description,
			Severity:       cls.Severity,
			Classification: cls,
			CreatedAt:      g.clock.Now(),
		},
		decide: decide,
	}
	id := e.pending.ID
	e.timer = g.clock.AfterFunc(g.timeout, func() { g.expire(id) })
	g.open = e
	g.mu.Unlock()

	if prev != nil {
		g.log.Debug("confirmation superseded", "id", prev.pending.ID, "by", id)
		g.emit(Event{Kind: EventSuperseded, Pending: prev.pending, Outcome: OutcomeCancelled})
		prev.decide(OutcomeCancelled)
	}
	g.log.Info("confirmation opened",
		"id", id,
		"tool", cls.ToolName,
		"severity", cls.Severity,
		"description", cls.Description,
	)
	g.emit(Event{Kind: EventOpened, Pending: e.pending})
	return id
}

// Resolve applies a verdict to the open confirmation with the given id. It
// returns false, changing nothing, when the id is not the open confirmation
// or the verdict is VerdictUnknown.
func (g *Gate) Resolve(id string, v Verdict) bool {
	var outcome Outcome
	switch v {
	case VerdictApprove:
		outcome = OutcomeApproved
	case VerdictDeny:
		outcome = OutcomeDenied
	default:
		return false
	}

	e := g.take(id)
	if e == nil {
		g.log.Debug("stale confirmation verdict ignored", "id", id)
		return false
	}
	e.timer.Stop()

	g.log.Info("confirmation resolved", "id", id, "outcome", outcome)
	g.emit(Event{Kind: EventResolved, Pending: e.pending, Outcome: outcome})
	e.decide(outcome)
	return true
}

// Cancel withdraws the open confirmation with the given id without a
// verdict. Its decision receives OutcomeCancelled and no notice is given.
// It returns false when id is not the open confirmation.
func (g *Gate) Cancel(id string) bool {
	e := g.take(id)
	if e == nil {
		return false
	}
	e.timer.Stop()

	g.log.Info("confirmation cancelled", "id", id, "tool", e.pending.ToolName)
	g.emit(Event{Kind: EventCancelled, Pending: e.pending, Outcome: OutcomeCancelled})
	e.decide(OutcomeCancelled)
	return true
}

// Current returns the open confirmation, if any.
func (g *Gate) Current() (Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open == nil {
		return Pending{}, false
	}
	return g.open.pending, true
}

// Close denies any open confirmation and rejects future ones.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	e := g.open
	g.open = nil
	g.mu.Unlock()

	if e == nil {
		return
	}
	e.timer.Stop()
	g.emit(Event{Kind: EventResolved, Pending: e.pending, Outcome: OutcomeDenied})
	e.decide(OutcomeDenied)
}

func (g *Gate) expire(id string) {
	e := g.take(id)
	if e == nil {
		return
	}

	g.log.Info("confirmation timed out", "id", id, "tool", e.pending.ToolName)
	g.emit(Event{Kind: EventTimedOut, Pending: e.pending, Outcome: OutcomeTimedOut})
	if g.notify != nil {
		g.notify(TimeoutNotice)
	}
	e.decide(OutcomeTimedOut)
}

// take detaches the open entry if it matches id.
func (g *Gate) take(id string) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open == nil || g.open.pending.ID != id {
		return nil
	}
	e := g.open
	g.open = nil
	return e
}

func (g *Gate) emit(ev Event) {
	if g.observer != nil {
		g.observer(ev)
	}
}

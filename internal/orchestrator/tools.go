package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/nupi-ai/voice-talkback/internal/confirm"
	"github.com/nupi-ai/voice-talkback/internal/risk"
	"github.com/nupi-ai/voice-talkback/internal/transport"
)

// handleToolCall answers a permission request from the assistant. Risky
// calls wait for a spoken verdict; everything else is allowed at once. Calls
// for a session that is no longer live are dropped.
func (o *Orchestrator) handleToolCall(s *session, call transport.ToolCall) {
	if !o.stillLive(s) {
		return
	}

	cls, ok := risk.Classify(call.Name, call.Args, o.cfg.Toggles)
	if !ok || !cls.RequiresConfirmation {
		o.log.Debug("tool call allowed", "session", s.token, "tool", call.Name, "classified", ok)
		o.spawn(func() { o.respond(s.token, call.ID, true) })
		return
	}

	o.log.Info("tool call needs confirmation",
		"session", s.token,
		"tool", call.Name,
		"severity", cls.Severity,
		"description", cls.Description,
	)
	c := &confirmation{callID: call.ID}
	id := o.gate.Open(cls, call.Args, func(out confirm.Outcome) {
		o.confirmationDecided(s, c, out)
	})

	o.mu.Lock()
	if c.done {
		o.mu.Unlock()
		return
	}
	if !o.liveLocked(s) {
		o.staleLocked(s, "tool-call")
		o.mu.Unlock()
		o.gate.Cancel(id)
		return
	}
	c.id = id
	s.confirm = c
	s.stopIdle()
	o.mu.Unlock()

	o.notice(promptText(cls))
}

// confirmationDecided relays a gate outcome to the backend and resumes the
// idle timer if the session is still waiting on this confirmation.
func (o *Orchestrator) confirmationDecided(s *session, c *confirmation, out confirm.Outcome) {
	o.mu.Lock()
	c.done = true
	if s.confirm == c {
		s.confirm = nil
		if o.liveLocked(s) {
			o.armIdleLocked(s)
		}
	}
	o.mu.Unlock()

	o.spawn(func() { o.respond(s.token, c.callID, out.Allowed()) })
}

// ownsConfirmation reports whether id belongs to the live session.
func (o *Orchestrator) ownsConfirmation(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.current
	return s != nil && o.liveLocked(s) && s.confirm != nil && s.confirm.id == id
}

func (o *Orchestrator) stillLive(s *session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.liveLocked(s) {
		o.staleLocked(s, "tool-call")
		return false
	}
	return true
}

func (o *Orchestrator) respond(token, callID string, allow bool) {
	ctx, cancel := context.WithTimeout(o.ctx, permissionTimeout)
	defer cancel()

	err := o.backend.RespondPermission(ctx, token, callID, allow)
	if err == nil {
		o.rec.Event("permission answered", "session", token, "call", callID, "allow", allow)
		return
	}
	if errors.Is(err, context.Canceled) && o.ctx.Err() != nil {
		o.log.Debug("permission response abandoned", "session", token, "call", callID)
		return
	}
	o.log.Error("permission response failed", "session", token, "call", callID, "error", err)
	if o.cb.OnError != nil {
		o.cb.OnError(&TransportError{Op: "permission", SessionID: token, Err: err}, "")
	}
}

// spawn runs fn in a tracked goroutine, or inline once the orchestrator is
// closed and no longer accepts background work.
func (o *Orchestrator) spawn(fn func()) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		fn()
		return
	}
	o.inflight.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.inflight.Done()
		fn()
	}()
}

func promptText(cls risk.Classification) string {
	return fmt.Sprintf("The assistant wants to %s. Should I allow it?", cls.Description)
}

func repromptText(p confirm.Pending) string {
	return fmt.Sprintf("Please answer yes or no. The assistant wants to %s.", p.Description)
}

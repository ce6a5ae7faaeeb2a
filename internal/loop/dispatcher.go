// Package loop hosts one conversation state machine per live session and
// serializes all access to it, upholding the machine's single-caller
// contract. A single ticker drives every session's step deadline; there are
// no per-step timers to leak.
package loop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"numeroly/voice/internal/conversation"
	"numeroly/voice/internal/store"
)

// Notifier pushes step and error events to the connected client.
type Notifier interface {
	StepChanged(sessionID string, step conversation.Step, prompt string)
	StepError(sessionID string, code conversation.Code, message string, canRetry bool)
}

// AbortFunc is called when a session hits the retry ceiling; the owner ends
// the session and releases its resources.
type AbortFunc func(sessionID string)

type Dispatcher struct {
	stepTimeout time.Duration
	maxRetries  int
	store       *store.Store
	notify      Notifier
	onAbort     AbortFunc
	log         *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessState
}

type sessState struct {
	mu sync.Mutex
	m  *conversation.Machine
}

func New(stepTimeout time.Duration, maxRetries int, st *store.Store, notify Notifier, onAbort AbortFunc, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		stepTimeout: stepTimeout,
		maxRetries:  maxRetries,
		store:       st,
		notify:      notify,
		onAbort:     onAbort,
		log:         log,
		sessions:    make(map[string]*sessState),
	}
}

// sink bridges one machine's notifications to the store and the client.
type sink struct {
	d         *Dispatcher
	sessionID string
}

func (s sink) StepChanged(step conversation.Step, prompt string) {
	s.d.store.AppendEvent(s.sessionID, "step_changed", map[string]any{"step": step.String()})
	if s.d.notify != nil {
		s.d.notify.StepChanged(s.sessionID, step, prompt)
	}
}

func (s sink) StepError(code conversation.Code, message string, canRetry bool) {
	s.d.store.AppendEvent(s.sessionID, "step_error", map[string]any{"code": string(code), "can_retry": canRetry})
	if s.d.notify != nil {
		s.d.notify.StepError(s.sessionID, code, message, canRetry)
	}
}

// Start creates (or resets) the machine for a session and begins at Greeting.
func (d *Dispatcher) Start(sessionID string) conversation.Result {
	d.mu.Lock()
	s := d.sessions[sessionID]
	if s == nil {
		m := conversation.NewMachine(d.stepTimeout, d.maxRetries)
		m.SetSink(sink{d: d, sessionID: sessionID})
		s = &sessState{m: m}
		d.sessions[sessionID] = s
	}
	d.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Start()
}

// Submit routes one validated user turn into the session's machine.
func (d *Dispatcher) Submit(sessionID, kind, text string) (conversation.Result, bool) {
	return d.with(sessionID, func(m *conversation.Machine) conversation.Result {
		switch kind {
		case "name":
			return m.SubmitName(text)
		case "date":
			return m.SubmitDate(text)
		case "concern":
			return m.SubmitConcern(text)
		case "feedback":
			return m.SubmitFeedback(text)
		default:
			return conversation.Result{Code: conversation.CodeInvalidTransition, Message: "unknown submission kind " + kind}
		}
	})
}

func (d *Dispatcher) AttachProfile(sessionID, profileRef string) (conversation.Result, bool) {
	return d.with(sessionID, func(m *conversation.Machine) conversation.Result {
		return m.AttachComputedProfile(profileRef)
	})
}

func (d *Dispatcher) AttachInsight(sessionID, text string) (conversation.Result, bool) {
	return d.with(sessionID, func(m *conversation.Machine) conversation.Result {
		return m.AttachInsight(text)
	})
}

func (d *Dispatcher) MarkSaved(sessionID string) (conversation.Result, bool) {
	return d.with(sessionID, func(m *conversation.Machine) conversation.Result {
		r := m.MarkSaved()
		if r.OK {
			m.Complete()
		}
		return r
	})
}

// Remove destroys the session's machine. Idempotent.
func (d *Dispatcher) Remove(sessionID string) {
	d.mu.Lock()
	s := d.sessions[sessionID]
	delete(d.sessions, sessionID)
	d.mu.Unlock()
	if s != nil {
		s.mu.Lock()
		s.m.Destroy()
		s.mu.Unlock()
	}
}

func (d *Dispatcher) with(sessionID string, fn func(*conversation.Machine) conversation.Result) (conversation.Result, bool) {
	d.mu.Lock()
	s := d.sessions[sessionID]
	d.mu.Unlock()
	if s == nil {
		return conversation.Result{}, false
	}
	s.mu.Lock()
	r := fn(s.m)
	aborted := s.m.Aborted()
	s.mu.Unlock()

	if aborted && r.Code == conversation.CodeTooManyRetries {
		d.abort(sessionID)
	}
	return r, true
}

func (d *Dispatcher) abort(sessionID string) {
	d.log.Warn("conversation aborted after retry ceiling", "session_id", sessionID)
	d.Remove(sessionID)
	if d.onAbort != nil {
		d.onAbort(sessionID)
	}
}

// RunDeadlineTicker scans every hosted machine once per tick and injects
// timeout failures for overdue steps. Blocks until ctx is cancelled.
func (d *Dispatcher) RunDeadlineTicker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Dispatcher) tick() {
	d.mu.Lock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.mu.Lock()
		s := d.sessions[id]
		d.mu.Unlock()
		if s == nil {
			continue
		}
		s.mu.Lock()
		r, expired := s.m.ExpireIfOverdue()
		aborted := s.m.Aborted()
		s.mu.Unlock()
		if expired {
			d.log.Info("step deadline expired", "session_id", id, "attempt", r.Attempt)
		}
		if aborted && r.Code == conversation.CodeTooManyRetries {
			d.abort(id)
		}
	}
}

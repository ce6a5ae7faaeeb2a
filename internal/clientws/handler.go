package clientws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"numeroly/voice/internal/auth"
	"numeroly/voice/internal/conversation"
	"numeroly/voice/internal/store"
)

// Event is the wire shape pushed to the client.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	TsMs      int64          `json:"ts_ms"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type Server struct {
	secret string
	skew   time.Duration
	store  *store.Store
	reg    *Registry
	log    *slog.Logger
}

func NewServer(secret string, skew time.Duration, st *store.Store, reg *Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{secret: secret, skew: skew, store: st, reg: reg, log: log}
}

// HandleClientWS upgrades GET /sessions/{id}/ws. The credential rides in a
// query parameter because browsers cannot set headers on websocket dials.
func (s *Server) HandleClientWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	if s.store.GetSession(sessionID) == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if s.secret == "" {
		http.Error(w, "client socket auth not configured", http.StatusUnauthorized)
		return
	}
	cred := r.URL.Query().Get("credential")
	if _, err := auth.VerifyClientCredential(s.secret, cred, sessionID, time.Now(), s.skew); err != nil {
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("client ws accept failed", "session_id", sessionID, "error", err)
		return
	}
	if s.reg.Replace(sessionID, c) {
		s.store.AppendEvent(sessionID, "client_replaced", nil)
	}
	s.store.AppendEvent(sessionID, "client_connected", nil)

	// The read loop only detects disconnect; the client has no inbound
	// protocol on this socket.
	ctx := r.Context()
	for {
		if _, _, err := c.Read(ctx); err != nil {
			break
		}
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
	s.reg.RemoveIf(sessionID, c)
	s.store.AppendEvent(sessionID, "client_disconnected", nil)
}

// Pusher fans session events out to the connected client. It satisfies both
// the conversation loop's Notifier and the orchestrator's AudioStateNotifier.
type Pusher struct {
	reg *Registry
	log *slog.Logger
}

func NewPusher(reg *Registry, log *slog.Logger) *Pusher {
	if log == nil {
		log = slog.Default()
	}
	return &Pusher{reg: reg, log: log}
}

func (p *Pusher) StepChanged(sessionID string, step conversation.Step, prompt string) {
	p.push(sessionID, "step_changed", map[string]any{"step": step.String(), "prompt": prompt})
}

func (p *Pusher) StepError(sessionID string, code conversation.Code, message string, canRetry bool) {
	p.push(sessionID, "step_error", map[string]any{"code": string(code), "message": message, "can_retry": canRetry})
}

func (p *Pusher) AudioState(sessionID, state string) {
	p.push(sessionID, "audio_state", map[string]any{"state": state})
}

func (p *Pusher) push(sessionID, typ string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := Event{Type: typ, SessionID: sessionID, TsMs: time.Now().UnixMilli(), Payload: payload}
	if err := p.reg.SendJSON(ctx, sessionID, ev); err != nil {
		p.log.Warn("client push failed", "session_id", sessionID, "type", typ, "error", err)
	}
}

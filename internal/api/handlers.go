package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"numeroly/voice/internal/auth"
	"numeroly/voice/internal/config"
	"numeroly/voice/internal/conversation"
	"numeroly/voice/internal/health"
	"numeroly/voice/internal/orchestrator"
	"numeroly/voice/internal/store"
	"numeroly/voice/internal/types"
)

// Sessions is the orchestrator surface the handlers need.
type Sessions interface {
	CreateSession(ctx context.Context, userID string) (orchestrator.CreateResult, error)
	EndSession(ctx context.Context, sessionID string, outcome types.Outcome)
	GetRefreshedCredential(ctx context.Context, sessionID string) (orchestrator.CreateResult, error)
}

// Conversations is the dispatcher surface the handlers need.
type Conversations interface {
	Start(sessionID string) conversation.Result
	Submit(sessionID, kind, text string) (conversation.Result, bool)
	AttachProfile(sessionID, profileRef string) (conversation.Result, bool)
	AttachInsight(sessionID, text string) (conversation.Result, bool)
	MarkSaved(sessionID string) (conversation.Result, bool)
	Remove(sessionID string)
}

type Handlers struct {
	cfg   config.Config
	store *store.Store
	orch  Sessions
	conv  Conversations
}

func NewHandlers(cfg config.Config, st *store.Store, orch Sessions, conv Conversations) *Handlers {
	return &Handlers{cfg: cfg, store: st, orch: orch, conv: conv}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// resultJSON is the wire shape for conversation operation outcomes.
type resultJSON struct {
	OK       bool   `json:"ok"`
	Step     string `json:"step"`
	Prompt   string `json:"prompt,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	CanRetry bool   `json:"can_retry"`
	Attempt  int    `json:"attempt"`
}

func toResultJSON(r conversation.Result) resultJSON {
	return resultJSON{
		OK:       r.OK,
		Step:     r.Step.String(),
		Prompt:   r.Prompt,
		Code:     string(r.Code),
		Message:  r.Message,
		CanRetry: r.CanRetry,
		Attempt:  r.Attempt,
	}
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Daily.APIKey == "" || h.cfg.Daily.Domain == "" {
		http.Error(w, "missing Daily configuration", http.StatusBadRequest)
		return
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	res, err := h.orch.CreateSession(r.Context(), body.UserID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrProvisioningFailed) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	start := h.conv.Start(res.SessionID)

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": res.SessionID,
		"room_url":   res.RoomURL,
		"token":      res.UserCredential,
		"expires_at": res.ExpiresAt,
		"step":       start.Step.String(),
		"prompt":     start.Prompt,
	})
}

func (h *Handlers) HandleEndSession(w http.ResponseWriter, r *http.Request, id string) {
	if h.store.GetSession(id) == nil {
		http.NotFound(w, r)
		return
	}
	h.conv.Remove(id)
	h.orch.EndSession(r.Context(), id, types.OutcomeUserEnded)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.store.GetSession(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) HandleRefreshToken(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.orch.GetRefreshedCredential(r.Context(), id)
	if err != nil {
		if h.store.GetSession(id) == nil {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      res.UserCredential,
		"expires_at": res.ExpiresAt,
	})
}

func (h *Handlers) HandleMintWSCreds(w http.ResponseWriter, r *http.Request, id string) {
	if h.store.GetSession(id) == nil {
		http.NotFound(w, r)
		return
	}
	if h.cfg.Client.WSTokenSecret == "" {
		http.Error(w, "client socket auth not configured", http.StatusServiceUnavailable)
		return
	}
	exp := time.Now().Add(time.Duration(h.cfg.Client.WSTokenExpMin) * time.Minute)
	cred := auth.MintClientCredential(h.cfg.Client.WSTokenSecret, id, exp)
	writeJSON(w, http.StatusOK, map[string]any{
		"credential": cred,
		"expires_at": exp.UTC(),
	})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if h.store.GetSession(id) == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.store.ListEvents(id),
	})
}

// HandleSubmitTurn routes one validated user answer into the conversation.
// A validation failure is a 200 with ok=false; the client re-prompts.
func (h *Handlers) HandleSubmitTurn(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	res, ok := h.conv.Submit(id, body.Kind, body.Text)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, toResultJSON(res))
}

func (h *Handlers) HandleAttachProfile(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		ProfileRef string `json:"profile_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	res, ok := h.conv.AttachProfile(id, body.ProfileRef)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, toResultJSON(res))
}

func (h *Handlers) HandleAttachInsight(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	res, ok := h.conv.AttachInsight(id, body.Text)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, toResultJSON(res))
}

// HandleMarkSaved confirms persistence. On success the conversation is
// complete and the session's resources are released with a completed outcome.
func (h *Handlers) HandleMarkSaved(w http.ResponseWriter, r *http.Request, id string) {
	res, ok := h.conv.MarkSaved(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if res.OK {
		h.conv.Remove(id)
		h.orch.EndSession(r.Context(), id, types.OutcomeCompleted)
	}
	writeJSON(w, http.StatusOK, toResultJSON(res))
}

func (h *Handlers) HandleDeepHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	status := health.CheckAll(ctx, h.cfg)
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

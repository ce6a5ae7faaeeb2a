// Package orchestrator coordinates one live voice session end to end:
// room provisioning, pipeline startup, registry bookkeeping, and teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"numeroly/voice/internal/config"
	"numeroly/voice/internal/daily"
	"numeroly/voice/internal/pipeline"
	"numeroly/voice/internal/registry"
	"numeroly/voice/internal/store"
	"numeroly/voice/internal/types"
)

// ErrProvisioningFailed wraps any failure during createSession. The caller
// never observes a half-provisioned session behind it.
var ErrProvisioningFailed = errors.New("session provisioning failed")

// TransportDialer attaches the bot participant to a provisioned room.
type TransportDialer interface {
	Dial(ctx context.Context, roomURL, credential string) (pipeline.Transport, error)
}

// AudioStateNotifier forwards remote audio display hints to the client.
type AudioStateNotifier interface {
	AudioState(sessionID, state string)
}

// CreateResult is what the end-user client gets back: its own credential
// only, never the bot's.
type CreateResult struct {
	SessionID      string    `json:"session_id"`
	RoomURL        string    `json:"room_url"`
	UserCredential string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type Orchestrator struct {
	cfg       config.Config
	rooms     daily.Client
	store     *store.Store
	reg       *registry.Registry
	dialer    TransportDialer
	stt       pipeline.Transcriber
	responder pipeline.Responder
	tts       pipeline.Synthesizer
	notify    AudioStateNotifier
	log       *slog.Logger

	// Rooms whose compensating delete failed. These sessions never reach
	// the registry, so the sweep retries them from here until the
	// provider confirms the delete.
	orphanMu sync.Mutex
	orphans  []string
}

func New(cfg config.Config, rooms daily.Client, st *store.Store, reg *registry.Registry,
	dialer TransportDialer, stt pipeline.Transcriber, responder pipeline.Responder,
	tts pipeline.Synthesizer, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg: cfg, rooms: rooms, store: st, reg: reg,
		dialer: dialer, stt: stt, responder: responder, tts: tts,
		log: log,
	}
}

// SetAudioStateNotifier attaches the client push channel. Call before serving.
func (o *Orchestrator) SetAudioStateNotifier(n AudioStateNotifier) { o.notify = n }

// Registry exposes the resource registry for read-side collaborators.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// CreateSession provisions room, credentials, session record, and a running
// pipeline, in that order. Any later step failing rolls the earlier ones back
// before the error surfaces: success means everything exists, failure means
// nothing survives but (at worst) an aborted record.
func (o *Orchestrator) CreateSession(ctx context.Context, userID string) (CreateResult, error) {
	id := uuid.New().String()
	roomName := o.cfg.Daily.RoomPrefix + id
	roomTTL := time.Duration(o.cfg.Daily.RoomTTLMin) * time.Minute

	room, err := o.rooms.CreateRoom(ctx, roomName, o.cfg.Daily.RoomPrivacy, roomTTL)
	if err != nil {
		metricProvisionFailures.WithLabelValues("room").Inc()
		return CreateResult{}, fmt.Errorf("%w: create room: %w", ErrProvisioningFailed, err)
	}

	expiresAt := time.Now().Add(time.Duration(o.cfg.Daily.TokenTTLMin) * time.Minute)
	userTok, err := o.rooms.CreateMeetingToken(ctx, room.Name, daily.RoleUser, expiresAt.Unix())
	if err != nil {
		metricProvisionFailures.WithLabelValues("user_token").Inc()
		o.compensateRoom(room.Name, "user token issuance failed")
		return CreateResult{}, fmt.Errorf("%w: user credential: %w", ErrProvisioningFailed, err)
	}
	botTok, err := o.rooms.CreateMeetingToken(ctx, room.Name, daily.RoleBot, expiresAt.Unix())
	if err != nil {
		metricProvisionFailures.WithLabelValues("bot_token").Inc()
		o.compensateRoom(room.Name, "bot token issuance failed")
		return CreateResult{}, fmt.Errorf("%w: bot credential: %w", ErrProvisioningFailed, err)
	}

	sess := &types.Session{
		ID:        id,
		UserID:    userID,
		RoomName:  room.Name,
		RoomURL:   room.URL,
		CreatedAt: time.Now().UTC(),
		Status:    "created",
	}
	if err := o.store.CreateSessionRecord(sess); err != nil {
		metricProvisionFailures.WithLabelValues("record").Inc()
		o.compensateRoom(room.Name, "record write failed")
		return CreateResult{}, fmt.Errorf("%w: session record: %w", ErrProvisioningFailed, err)
	}

	handle := types.RoomHandle{
		RoomName:       room.Name,
		RoomURL:        room.URL,
		UserCredential: userTok,
		BotCredential:  botTok,
		ExpiresAt:      expiresAt,
	}
	mgr, err := o.startPipeline(ctx, id, userID, handle)
	if err != nil {
		metricProvisionFailures.WithLabelValues("pipeline").Inc()
		_ = o.store.MarkSessionOutcome(id, types.OutcomeAborted)
		o.compensateRoom(room.Name, "pipeline startup failed")
		return CreateResult{}, fmt.Errorf("%w: pipeline: %w", ErrProvisioningFailed, err)
	}

	// A fresh uuid cannot collide; a register conflict is a bug.
	if err := o.reg.Register(id, registry.Entry{Room: handle, Pipeline: mgr}); err != nil {
		mgr.Cancel()
		_ = o.store.MarkSessionOutcome(id, types.OutcomeAborted)
		o.compensateRoom(room.Name, "registry conflict")
		return CreateResult{}, fmt.Errorf("%w: register: %w", ErrProvisioningFailed, err)
	}

	o.store.AppendEvent(id, "session_created", map[string]any{"room_name": room.Name})
	metricSessionsCreated.Inc()
	o.log.Info("session created", "session_id", id, "room_name", room.Name)
	return CreateResult{SessionID: id, RoomURL: room.URL, UserCredential: userTok, ExpiresAt: expiresAt}, nil
}

func (o *Orchestrator) startPipeline(ctx context.Context, sessionID, userID string, room types.RoomHandle) (*pipeline.Manager, error) {
	transport, err := o.dialer.Dial(ctx, room.RoomURL, room.BotCredential)
	if err != nil {
		return nil, fmt.Errorf("dial transport: %w", err)
	}
	mgr := pipeline.NewManager(pipeline.Config{
		SessionID:        sessionID,
		UserID:           userID,
		DrainTimeout:     o.cfg.Session.DrainTimeout,
		StageRetryBudget: o.cfg.Session.StageRetryBudget,
		OnFailure: func(id string, ferr error) {
			o.store.AppendEvent(id, "pipeline_failed", map[string]any{"error": ferr.Error()})
			o.EndSession(context.Background(), id, types.OutcomePipelineFailed)
		},
		OnAudioState: func(id, state string) {
			if o.notify != nil {
				o.notify.AudioState(id, state)
			}
		},
	}, pipeline.Stages{Transport: transport, STT: o.stt, Responder: o.responder, TTS: o.tts}, o.log)

	if err := mgr.Start(ctx); err != nil {
		tctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = transport.Close(tctx)
		cancel()
		return nil, err
	}
	return mgr, nil
}

// compensateRoom deletes a room left behind by a failed provisioning step.
// A failed delete is never assumed to have succeeded: the room goes on the
// orphan list and the stale sweep keeps retrying it.
func (o *Orchestrator) compensateRoom(roomName, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.rooms.DeleteRoom(ctx, roomName); err != nil && !errors.Is(err, daily.ErrAlreadyDeleted) {
		metricCompensationFailures.Inc()
		o.log.Error("compensating room delete failed, queued for sweep", "room_name", roomName, "reason", reason, "error", err)
		o.orphanMu.Lock()
		o.orphans = append(o.orphans, roomName)
		o.orphanMu.Unlock()
		return
	}
	o.log.Warn("rolled back room", "room_name", roomName, "reason", reason)
}

// retryOrphanedRooms re-attempts deletes that failed during compensation.
// Rooms the provider still refuses to delete stay queued for the next sweep.
func (o *Orchestrator) retryOrphanedRooms(ctx context.Context) {
	o.orphanMu.Lock()
	pending := o.orphans
	o.orphans = nil
	o.orphanMu.Unlock()

	for _, name := range pending {
		if err := o.rooms.DeleteRoom(ctx, name); err != nil && !errors.Is(err, daily.ErrAlreadyDeleted) {
			o.log.Error("orphaned room delete failed, keeping queued", "room_name", name, "error", err)
			o.orphanMu.Lock()
			o.orphans = append(o.orphans, name)
			o.orphanMu.Unlock()
			continue
		}
		o.log.Warn("deleted orphaned room", "room_name", name)
	}
}

// EndSession drains the pipeline, deletes the room, and removes the registry
// entry, in that order. Safe to call repeatedly and safe to call for a
// session whose creation never completed.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string, outcome types.Outcome) {
	entry, ok := o.reg.Lookup(sessionID)
	if !ok {
		// Creation never completed or teardown already ran; record the
		// outcome if a record exists and move on.
		_ = o.store.MarkSessionOutcome(sessionID, outcome)
		return
	}

	// Drain before room deletion so the provider never sees audio for a
	// room that is already gone.
	if err := entry.Pipeline.Drain(); err != nil && !errors.Is(err, pipeline.ErrAlreadyTerminated) {
		o.log.Warn("pipeline drain", "session_id", sessionID, "error", err)
	}

	if err := o.rooms.DeleteRoom(ctx, entry.Room.RoomName); err != nil && !errors.Is(err, daily.ErrAlreadyDeleted) {
		// Keep the registry entry so the stale sweep retries the delete
		// once the room credential expires.
		metricTeardownFailures.Inc()
		o.log.Error("room delete failed, leaving entry for sweep", "session_id", sessionID, "error", err)
		_ = o.store.MarkSessionOutcome(sessionID, outcome)
		return
	}

	if _, removed := o.reg.UnregisterIfPresent(sessionID); removed {
		metricSessionsEnded.WithLabelValues(string(outcome)).Inc()
	}
	_ = o.store.MarkSessionOutcome(sessionID, outcome)
	o.store.AppendEvent(sessionID, "session_ended", map[string]any{"outcome": string(outcome)})
	o.log.Info("session ended", "session_id", sessionID, "outcome", string(outcome))
}

// GetRefreshedCredential re-issues a user token for a live session without
// touching pipeline or room state.
func (o *Orchestrator) GetRefreshedCredential(ctx context.Context, sessionID string) (CreateResult, error) {
	entry, ok := o.reg.Lookup(sessionID)
	if !ok {
		return CreateResult{}, store.ErrSessionNotFound
	}
	expiresAt := time.Now().Add(time.Duration(o.cfg.Daily.TokenTTLMin) * time.Minute)
	tok, err := o.rooms.CreateMeetingToken(ctx, entry.Room.RoomName, daily.RoleUser, expiresAt.Unix())
	if err != nil {
		return CreateResult{}, fmt.Errorf("refresh credential: %w", err)
	}
	o.store.AppendEvent(sessionID, "token_refreshed", nil)
	return CreateResult{
		SessionID:      sessionID,
		RoomURL:        entry.Room.RoomURL,
		UserCredential: tok,
		ExpiresAt:      expiresAt,
	}, nil
}

// RunSweeper force-ends sessions whose room credential expired without a
// clean endSession call (client crashes, failed room deletes). Blocks until
// ctx is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	interval := o.cfg.Session.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepOnce(ctx)
		}
	}
}

func (o *Orchestrator) sweepOnce(ctx context.Context) {
	o.retryOrphanedRooms(ctx)
	o.reg.ForEachStale(time.Now(), func(sessionID string, _ registry.Entry) {
		metricStaleSweeps.Inc()
		o.log.Warn("sweeping stale session", "session_id", sessionID)
		o.store.AppendEvent(sessionID, "session_expired", nil)
		o.EndSession(ctx, sessionID, types.OutcomeExpired)
	})
}

// DrainAll ends every live session, used during graceful shutdown.
func (o *Orchestrator) DrainAll(ctx context.Context) {
	for _, id := range o.store.ListSessionIDs() {
		if _, ok := o.reg.Lookup(id); ok {
			o.EndSession(ctx, id, types.OutcomeUserEnded)
		}
	}
}

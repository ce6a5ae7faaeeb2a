package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RunState is the pipeline lifecycle position. Terminated is absorbing.
type RunState int32

const (
	StateInitializing RunState = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s RunState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// ErrAlreadyTerminated is the status returned by operations on a pipeline
// that has already shut down. It is an idempotent no-op, not a real error.
var ErrAlreadyTerminated = errors.New("pipeline already terminated")

// Config tunes one manager instance.
type Config struct {
	SessionID        string
	UserID           string
	DrainTimeout     time.Duration
	StageRetryBudget int

	// OnFailure reports an unrecoverable stage error or transport disconnect
	// upward. The pipeline is already draining when it fires.
	OnFailure func(sessionID string, err error)
	// OnAudioState reports remote audio display hints (playable/interrupted/off).
	OnAudioState func(sessionID, state string)
}

// Manager runs one session's audio chain, transport-in → STT → responder →
// TTS → transport-out, as a single cancellable unit. Stage work for different
// chunks may overlap across goroutines, but each stage is a single consumer
// so per-session output ordering is preserved.
type Manager struct {
	cfg    Config
	stages Stages
	log    *slog.Logger

	state atomic.Int32

	mu        sync.Mutex
	admitStop context.CancelFunc // stops accepting new audio
	forceStop context.CancelFunc // abandons in-flight work
	started   bool

	wg       sync.WaitGroup
	drainOne sync.Once
	done     chan struct{}

	floor speechFloor

	failMu  sync.Mutex
	failure error
}

func NewManager(cfg Config, stages Stages, log *slog.Logger) *Manager {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.StageRetryBudget <= 0 {
		cfg.StageRetryBudget = 2
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:    cfg,
		stages: stages,
		log:    log.With("session_id", cfg.SessionID),
		done:   make(chan struct{}),
	}
	m.state.Store(int32(StateInitializing))
	return m
}

func (m *Manager) State() RunState { return RunState(m.state.Load()) }

// Start constructs the stage chain and moves to Running once every stage is
// attached. It returns without blocking; the chain runs until Drain, Cancel,
// or an unrecoverable stage error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != StateInitializing {
		if m.State() == StateTerminated {
			return ErrAlreadyTerminated
		}
		return fmt.Errorf("pipeline start in state %s", m.State())
	}
	if m.stages.Transport == nil || m.stages.STT == nil || m.stages.Responder == nil || m.stages.TTS == nil {
		return errors.New("pipeline stages incomplete")
	}

	runCtx, forceStop := context.WithCancel(context.WithoutCancel(ctx))
	admitCtx, admitStop := context.WithCancel(runCtx)
	m.admitStop = admitStop
	m.forceStop = forceStop
	m.started = true

	transcripts := make(chan string, 8)
	replies := make(chan string, 8)

	m.wg.Add(3)
	go m.runInput(admitCtx, runCtx, transcripts)
	go m.runRespond(runCtx, transcripts, replies)
	go m.runOutput(runCtx, replies)

	m.state.Store(int32(StateRunning))
	metricPipelinesRunning.Inc()
	m.log.Info("pipeline running")
	return nil
}

// runInput pulls audio from the transport and emits final transcripts in
// receipt order. Closing the transcripts channel begins the downstream flush.
func (m *Manager) runInput(admitCtx, runCtx context.Context, transcripts chan<- string) {
	defer m.wg.Done()
	defer close(transcripts)
	for {
		chunk, err := m.stages.Transport.ReadAudio(admitCtx)
		if err != nil {
			if admitCtx.Err() != nil {
				return // drain requested
			}
			if errors.Is(err, io.EOF) {
				m.failWith(fmt.Errorf("transport disconnected: %w", err))
				return
			}
			m.failWith(fmt.Errorf("transport read: %w", err))
			return
		}
		// Already-admitted audio is transcribed under the run context so a
		// drain still flushes it.
		var tr Transcript
		err = m.withRetry(runCtx, "stt", func() error {
			var terr error
			tr, terr = m.stages.STT.Transcribe(runCtx, chunk)
			return terr
		})
		if err != nil {
			if runCtx.Err() != nil {
				return
			}
			m.failWith(fmt.Errorf("stt stage: %w", err))
			return
		}
		if !tr.IsFinal || tr.Text == "" {
			continue
		}
		if m.floor.userSpoke() {
			metricBargeIns.Inc()
		}
		select {
		case transcripts <- tr.Text:
			metricTranscripts.Inc()
		case <-runCtx.Done():
			return
		}
	}
}

func (m *Manager) runRespond(runCtx context.Context, transcripts <-chan string, replies chan<- string) {
	defer m.wg.Done()
	defer close(replies)
	sctx := SessionContext{SessionID: m.cfg.SessionID, UserID: m.cfg.UserID}
	for text := range transcripts {
		var reply string
		err := m.withRetry(runCtx, "respond", func() error {
			var rerr error
			reply, rerr = m.stages.Responder.Respond(runCtx, text, sctx)
			return rerr
		})
		if err != nil {
			if runCtx.Err() != nil {
				return
			}
			m.failWith(fmt.Errorf("respond stage: %w", err))
			return
		}
		if reply == "" {
			continue
		}
		select {
		case replies <- reply:
		case <-runCtx.Done():
			return
		}
	}
}

func (m *Manager) runOutput(runCtx context.Context, replies <-chan string) {
	defer m.wg.Done()
	for reply := range replies {
		var chunks [][]byte
		err := m.withRetry(runCtx, "tts", func() error {
			var serr error
			chunks, serr = m.stages.TTS.Synthesize(runCtx, reply)
			return serr
		})
		if err != nil {
			if runCtx.Err() != nil {
				return
			}
			m.failWith(fmt.Errorf("tts stage: %w", err))
			return
		}
		gen := m.floor.beginPlayback()
		m.audioState("playable")
		cut := false
		for i, chunk := range chunks {
			// Barge-in cuts the remainder of an utterance, never the
			// first frame of one that has not been heard yet.
			if i > 0 && m.floor.interrupted(gen) {
				cut = true
				break
			}
			if err := m.stages.Transport.WriteAudio(runCtx, chunk); err != nil {
				if runCtx.Err() != nil {
					return
				}
				m.floor.endPlayback()
				m.audioState("interrupted")
				m.failWith(fmt.Errorf("transport write: %w", err))
				return
			}
		}
		m.floor.endPlayback()
		if cut {
			m.audioState("interrupted")
		} else {
			m.audioState("off")
		}
	}
}

func (m *Manager) audioState(state string) {
	if m.cfg.OnAudioState != nil {
		m.cfg.OnAudioState(m.cfg.SessionID, state)
	}
}

// withRetry retries a transient stage error up to the local budget without
// leaving Running. Context cancellation is never retried.
func (m *Manager) withRetry(ctx context.Context, stage string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, io.EOF) {
			return err
		}
		if attempt >= m.cfg.StageRetryBudget {
			return err
		}
		metricStageRetries.WithLabelValues(stage).Inc()
		m.log.Warn("stage retry", "stage", stage, "attempt", attempt+1, "error", err)
		select {
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// failWith records the first unrecoverable error, reports it upward, and
// drains. Safe to race with an external Drain/Cancel: whichever happens first
// wins and the other observes Draining or Terminated.
func (m *Manager) failWith(err error) {
	m.failMu.Lock()
	if m.failure == nil {
		m.failure = err
	}
	m.failMu.Unlock()
	metricPipelineFailures.Inc()
	m.log.Error("pipeline stage failed", "error", err)
	go func() {
		_ = m.Drain()
		if m.cfg.OnFailure != nil {
			m.cfg.OnFailure(m.cfg.SessionID, err)
		}
	}()
}

// Failure returns the error that forced the pipeline down, if any.
func (m *Manager) Failure() error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	return m.failure
}

// Drain stops admitting new audio, lets in-flight work propagate for at most
// the drain timeout, then terminates. Duplicate calls return
// ErrAlreadyTerminated after the first completes.
func (m *Manager) Drain() error {
	if m.State() == StateTerminated {
		return ErrAlreadyTerminated
	}
	first := false
	m.drainOne.Do(func() {
		first = true
		m.drain()
	})
	if !first {
		<-m.done
		return ErrAlreadyTerminated
	}
	return nil
}

func (m *Manager) drain() {
	// The state flip happens under m.mu so a concurrent Start either sees
	// Draining and refuses, or wins the lock first and leaves started set
	// before we snapshot it. Never both.
	m.mu.Lock()
	m.state.Store(int32(StateDraining))
	started := m.started
	admitStop, forceStop := m.admitStop, m.forceStop
	m.mu.Unlock()

	m.log.Info("pipeline draining")

	if started {
		admitStop()
		flushed := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(flushed)
		}()
		select {
		case <-flushed:
		case <-time.After(m.cfg.DrainTimeout):
			m.log.Warn("drain timeout, forcing termination")
			metricDrainTimeouts.Inc()
			forceStop()
			<-flushed
		}
		forceStop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := m.stages.Transport.Close(ctx); err != nil {
			m.log.Warn("transport close", "error", err)
		}
		cancel()
		metricPipelinesRunning.Dec()
	}

	m.state.Store(int32(StateTerminated))
	close(m.done)
	m.log.Info("pipeline terminated")
}

// Cancel forces Draining from outside without waiting for termination.
func (m *Manager) Cancel() {
	go func() { _ = m.Drain() }()
}

// Wait blocks until the pipeline has terminated or ctx expires.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"numeroly/voice/internal/config"
	"numeroly/voice/internal/daily"
	"numeroly/voice/internal/pipeline"
	"numeroly/voice/internal/registry"
	"numeroly/voice/internal/store"
	"numeroly/voice/internal/types"
)

// fakeRooms tracks created and deleted rooms and can fail specific steps.
type fakeRooms struct {
	mu           sync.Mutex
	created      []string
	deleted      []string
	failRoom     bool
	failToken    daily.Role // fail issuance for this role
	failDelete   int        // fail this many deletes before succeeding
	tokenCounter int
}

func (f *fakeRooms) CreateRoom(_ context.Context, name, _ string, _ time.Duration) (daily.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRoom {
		return daily.Room{}, errors.New("room provider down")
	}
	f.created = append(f.created, name)
	return daily.Room{Name: name, URL: "https://example.daily.co/" + name}, nil
}

func (f *fakeRooms) CreateMeetingToken(_ context.Context, roomName string, role daily.Role, _ int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failToken == role {
		return "", errors.New("token issuance down")
	}
	f.tokenCounter++
	return fmt.Sprintf("tok-%s-%d", role, f.tokenCounter), nil
}

func (f *fakeRooms) DeleteRoom(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete > 0 {
		f.failDelete--
		return errors.New("delete failed")
	}
	for _, d := range f.deleted {
		if d == name {
			return daily.ErrAlreadyDeleted
		}
	}
	f.deleted = append(f.deleted, name)
	return nil
}

// surviving reports rooms created but never deleted.
func (f *fakeRooms) surviving() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.created {
		gone := false
		for _, d := range f.deleted {
			if c == d {
				gone = true
			}
		}
		if !gone {
			out = append(out, c)
		}
	}
	return out
}

type fakeDialer struct{ fail bool }

func (d fakeDialer) Dial(context.Context, string, string) (pipeline.Transport, error) {
	if d.fail {
		return nil, errors.New("cannot join room")
	}
	return &nullTransport{ch: make(chan []byte)}, nil
}

// nullTransport blocks on reads until closed.
type nullTransport struct {
	ch   chan []byte
	once sync.Once
}

func (t *nullTransport) ReadAudio(ctx context.Context) ([]byte, error) {
	select {
	case b := <-t.ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (t *nullTransport) WriteAudio(context.Context, []byte) error { return nil }
func (t *nullTransport) Close(context.Context) error {
	t.once.Do(func() { close(t.ch) })
	return nil
}

type nullSTT struct{}

func (nullSTT) Transcribe(_ context.Context, b []byte) (pipeline.Transcript, error) {
	return pipeline.Transcript{Text: string(b), IsFinal: true}, nil
}

type nullResponder struct{}

func (nullResponder) Respond(_ context.Context, text string, _ pipeline.SessionContext) (string, error) {
	return text, nil
}

type nullTTS struct{}

func (nullTTS) Synthesize(_ context.Context, text string) ([][]byte, error) {
	return [][]byte{[]byte(text)}, nil
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Daily.RoomPrefix = "numeroly-"
	cfg.Daily.RoomPrivacy = "private"
	cfg.Daily.RoomTTLMin = 60
	cfg.Daily.TokenTTLMin = 60
	cfg.Session.DrainTimeout = time.Second
	cfg.Session.StageRetryBudget = 2
	cfg.Session.SweepInterval = time.Second
	return cfg
}

func newTestOrchestrator(rooms *fakeRooms, dialer TransportDialer) (*Orchestrator, *store.Store, *registry.Registry) {
	st := store.New()
	reg := registry.New()
	o := New(testConfig(), rooms, st, reg, dialer, nullSTT{}, nullResponder{}, nullTTS{}, nil)
	return o, st, reg
}

func TestCreateSessionHappyPath(t *testing.T) {
	rooms := &fakeRooms{}
	o, st, reg := newTestOrchestrator(rooms, fakeDialer{})

	res, err := o.CreateSession(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.UserCredential == "" || res.RoomURL == "" {
		t.Fatalf("incomplete result: %+v", res)
	}
	entry, ok := reg.Lookup(res.SessionID)
	if !ok {
		t.Fatal("session not registered")
	}
	if entry.Pipeline.State() != pipeline.StateRunning {
		t.Fatalf("pipeline state = %s, want running", entry.Pipeline.State())
	}
	if entry.Room.BotCredential == res.UserCredential {
		t.Fatal("user must not receive the bot credential")
	}
	if st.GetSession(res.SessionID) == nil {
		t.Fatal("session record missing")
	}

	o.EndSession(context.Background(), res.SessionID, types.OutcomeUserEnded)
}

func TestCreateSessionRoomFailurePersistsNothing(t *testing.T) {
	rooms := &fakeRooms{failRoom: true}
	o, st, reg := newTestOrchestrator(rooms, fakeDialer{})

	_, err := o.CreateSession(context.Background(), "user-1")
	if !errors.Is(err, ErrProvisioningFailed) {
		t.Fatalf("got %v, want ErrProvisioningFailed", err)
	}
	if len(st.ListSessionIDs()) != 0 {
		t.Fatal("nothing may be persisted when room creation fails")
	}
	if reg.Count() != 0 {
		t.Fatal("registry must stay empty")
	}
}

func TestCreateSessionCredentialFailureDeletesRoom(t *testing.T) {
	for _, role := range []daily.Role{daily.RoleUser, daily.RoleBot} {
		rooms := &fakeRooms{failToken: role}
		o, st, _ := newTestOrchestrator(rooms, fakeDialer{})

		_, err := o.CreateSession(context.Background(), "user-1")
		if !errors.Is(err, ErrProvisioningFailed) {
			t.Fatalf("role %s: got %v, want ErrProvisioningFailed", role, err)
		}
		if got := rooms.surviving(); len(got) != 0 {
			t.Fatalf("role %s: surviving rooms %v, want none", role, got)
		}
		if len(st.ListSessionIDs()) != 0 {
			t.Fatalf("role %s: record persisted despite failure", role)
		}
	}
}

func TestCreateSessionPipelineFailureMarksAbortedAndDeletesRoom(t *testing.T) {
	rooms := &fakeRooms{}
	o, st, reg := newTestOrchestrator(rooms, fakeDialer{fail: true})

	_, err := o.CreateSession(context.Background(), "user-1")
	if !errors.Is(err, ErrProvisioningFailed) {
		t.Fatalf("got %v, want ErrProvisioningFailed", err)
	}
	if got := rooms.surviving(); len(got) != 0 {
		t.Fatalf("surviving rooms %v, want none", got)
	}
	ids := st.ListSessionIDs()
	if len(ids) != 1 {
		t.Fatalf("expected the aborted record to remain, got %v", ids)
	}
	if st.GetSession(ids[0]).Outcome != types.OutcomeAborted {
		t.Fatal("record must be marked aborted")
	}
	if reg.Count() != 0 {
		t.Fatal("registry must stay empty")
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	rooms := &fakeRooms{}
	o, st, _ := newTestOrchestrator(rooms, fakeDialer{})

	res, err := o.CreateSession(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	o.EndSession(context.Background(), res.SessionID, types.OutcomeUserEnded)
	o.EndSession(context.Background(), res.SessionID, types.OutcomeUserEnded)

	if len(rooms.deleted) != 1 {
		t.Fatalf("room deleted %d times, want 1", len(rooms.deleted))
	}
	if st.GetSession(res.SessionID).Outcome != types.OutcomeUserEnded {
		t.Fatal("outcome not recorded")
	}

	// Ending a session that was never created must not panic or error.
	o.EndSession(context.Background(), "no-such-session", types.OutcomeUserEnded)
}

func TestEndSessionDrainsBeforeRoomDelete(t *testing.T) {
	rooms := &fakeRooms{}
	o, _, reg := newTestOrchestrator(rooms, fakeDialer{})

	res, _ := o.CreateSession(context.Background(), "user-1")
	entry, _ := reg.Lookup(res.SessionID)

	o.EndSession(context.Background(), res.SessionID, types.OutcomeUserEnded)

	if entry.Pipeline.State() != pipeline.StateTerminated {
		t.Fatalf("pipeline state = %s, want terminated before room delete", entry.Pipeline.State())
	}
	if len(rooms.deleted) != 1 {
		t.Fatal("room not deleted")
	}
}

func TestFailedRoomDeleteRetriedBySweep(t *testing.T) {
	rooms := &fakeRooms{failDelete: 1}
	o, st, reg := newTestOrchestrator(rooms, fakeDialer{})

	res, _ := o.CreateSession(context.Background(), "user-1")
	o.EndSession(context.Background(), res.SessionID, types.OutcomeUserEnded)

	// Delete failed: entry stays registered for the sweep.
	if reg.Count() != 1 {
		t.Fatal("entry should remain for sweep retry")
	}

	// Expire the credential, then sweep.
	entry, _ := reg.Lookup(res.SessionID)
	entry.Room.ExpiresAt = time.Now().Add(-time.Minute)
	reg.UnregisterIfPresent(res.SessionID)
	reg.Register(res.SessionID, entry)

	o.sweepOnce(context.Background())

	if reg.Count() != 0 {
		t.Fatal("sweep should have removed the entry")
	}
	if len(rooms.deleted) != 1 {
		t.Fatalf("room deleted %d times, want 1", len(rooms.deleted))
	}
	// First verdict is kept even though the sweep passed OutcomeExpired.
	if st.GetSession(res.SessionID).Outcome != types.OutcomeUserEnded {
		t.Fatalf("outcome = %s", st.GetSession(res.SessionID).Outcome)
	}
}

func TestFailedCompensatingDeleteRetriedBySweep(t *testing.T) {
	// Provisioning dies before registration, and the compensating delete
	// fails too. The sweep must still reclaim the room.
	rooms := &fakeRooms{failToken: daily.RoleUser, failDelete: 1}
	o, _, reg := newTestOrchestrator(rooms, fakeDialer{})

	_, err := o.CreateSession(context.Background(), "user-1")
	if !errors.Is(err, ErrProvisioningFailed) {
		t.Fatalf("got %v, want ErrProvisioningFailed", err)
	}
	if reg.Count() != 0 {
		t.Fatal("half-provisioned session must not be registered")
	}
	if got := rooms.surviving(); len(got) != 1 {
		t.Fatalf("surviving rooms %v, want the orphan", got)
	}

	o.sweepOnce(context.Background())

	if got := rooms.surviving(); len(got) != 0 {
		t.Fatalf("surviving rooms after sweep %v, want none", got)
	}
}

func TestOrphanedRoomStaysQueuedUntilDeleteSucceeds(t *testing.T) {
	// Two failed deletes: the compensating one and the first sweep retry.
	rooms := &fakeRooms{failToken: daily.RoleBot, failDelete: 2}
	o, _, _ := newTestOrchestrator(rooms, fakeDialer{})

	if _, err := o.CreateSession(context.Background(), "user-1"); err == nil {
		t.Fatal("create should fail")
	}

	o.sweepOnce(context.Background())
	if got := rooms.surviving(); len(got) != 1 {
		t.Fatalf("room should survive a failed retry, got %v", got)
	}

	o.sweepOnce(context.Background())
	if got := rooms.surviving(); len(got) != 0 {
		t.Fatalf("surviving rooms after second sweep %v, want none", got)
	}
}

func TestConcurrentSessionsIndependent(t *testing.T) {
	rooms := &fakeRooms{}
	o, st, reg := newTestOrchestrator(rooms, fakeDialer{})

	const n = 16
	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.CreateSession(context.Background(), fmt.Sprintf("user-%d", i))
			if err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			ids[i] = res.SessionID
		}(i)
	}
	wg.Wait()

	if reg.Count() != n {
		t.Fatalf("registry count = %d, want %d", reg.Count(), n)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty session id %q", id)
		}
		seen[id] = true
		if st.GetSession(id) == nil {
			t.Fatalf("record missing for %s", id)
		}
	}

	for _, id := range ids {
		o.EndSession(context.Background(), id, types.OutcomeUserEnded)
	}
	if reg.Count() != 0 {
		t.Fatalf("registry count after teardown = %d", reg.Count())
	}
}

func TestGetRefreshedCredential(t *testing.T) {
	rooms := &fakeRooms{}
	o, _, reg := newTestOrchestrator(rooms, fakeDialer{})

	res, _ := o.CreateSession(context.Background(), "user-1")
	before, _ := reg.Lookup(res.SessionID)

	ref, err := o.GetRefreshedCredential(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if ref.UserCredential == res.UserCredential {
		t.Fatal("refreshed credential should differ")
	}

	// Room and pipeline untouched.
	after, _ := reg.Lookup(res.SessionID)
	if after.Pipeline != before.Pipeline || after.Room.RoomName != before.Room.RoomName {
		t.Fatal("refresh must not touch pipeline or room state")
	}

	if _, err := o.GetRefreshedCredential(context.Background(), "nope"); err == nil {
		t.Fatal("unknown session should error")
	}
}

package clientws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "nhooyr.io/websocket"

	"numeroly/voice/internal/auth"
	"numeroly/voice/internal/conversation"
	"numeroly/voice/internal/store"
	"numeroly/voice/internal/types"
)

const testSecret = "ws-secret"

func newTestServer(t *testing.T) (*httptest.Server, *Registry, *store.Store) {
	t.Helper()
	st := store.New()
	reg := NewRegistry()
	s := NewServer(testSecret, time.Minute, st, reg, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/ws")
		s.HandleClientWS(w, r, id)
	}))
	t.Cleanup(srv.Close)
	return srv, reg, st
}

func dial(t *testing.T, srv *httptest.Server, sessionID, credential string) *ws.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	u := "ws" + srv.URL[len("http"):] + "/sessions/" + sessionID + "/ws?credential=" + credential
	c, _, err := ws.Dial(ctx, u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func TestRejectsBadCredential(t *testing.T) {
	srv, _, st := newTestServer(t)
	st.CreateSessionRecord(&types.Session{ID: "s1", CreatedAt: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	u := "ws" + srv.URL[len("http"):] + "/sessions/s1/ws?credential=garbage"
	if _, resp, err := ws.Dial(ctx, u, nil); err == nil {
		t.Fatal("dial with bad credential succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRejectsUnknownSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	cred := auth.MintClientCredential(testSecret, "ghost", time.Now().Add(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	u := "ws" + srv.URL[len("http"):] + "/sessions/ghost/ws?credential=" + cred
	if _, resp, err := ws.Dial(ctx, u, nil); err == nil {
		t.Fatal("dial for unknown session succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPusherDeliversEvents(t *testing.T) {
	srv, reg, st := newTestServer(t)
	st.CreateSessionRecord(&types.Session{ID: "s1", CreatedAt: time.Now()})
	cred := auth.MintClientCredential(testSecret, "s1", time.Now().Add(time.Minute))

	c := dial(t, srv, "s1", cred)
	defer c.Close(ws.StatusNormalClosure, "test done")

	// The handler registers the socket before its read loop starts.
	waitFor(t, func() bool { return reg.Count() == 1 })

	p := NewPusher(reg, nil)
	p.StepChanged("s1", conversation.StepGreeting, conversation.StepGreeting.Prompt())
	p.AudioState("s1", "playable")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var first, second Event
	readEvent(t, ctx, c, &first)
	readEvent(t, ctx, c, &second)
	if first.Type != "step_changed" || first.Payload["step"] != conversation.StepGreeting.String() {
		t.Fatalf("first event = %+v", first)
	}
	if second.Type != "audio_state" || second.Payload["state"] != "playable" {
		t.Fatalf("second event = %+v", second)
	}
}

func TestPushWithNoSocketIsSilent(t *testing.T) {
	_, reg, _ := newTestServer(t)
	p := NewPusher(reg, nil)
	p.StepError("nobody", conversation.CodeTimedOut, "msg", true) // must not panic
}

func readEvent(t *testing.T, ctx context.Context, c *ws.Conn, ev *Event) {
	t.Helper()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

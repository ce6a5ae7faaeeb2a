package daily

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ws "nhooyr.io/websocket"
)

func bridgeServer(t *testing.T, handle func(ctx context.Context, c *ws.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := ws.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		handle(r.Context(), c, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDialPassesRoomAndToken(t *testing.T) {
	srv := bridgeServer(t, func(ctx context.Context, c *ws.Conn, r *http.Request) {
		q := r.URL.Query()
		if q.Get("room_url") != "https://x.daily.co/r1" || q.Get("token") != "tok" {
			t.Errorf("query = %v", q)
		}
		c.Close(ws.StatusNormalClosure, "")
	})

	d := &WSDialer{BridgeURL: "ws" + srv.URL[len("http"):]}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	tr, err := d.Dial(ctx, "https://x.daily.co/r1", "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	tr.Close(ctx)
}

func TestTransportEchoAndEOF(t *testing.T) {
	srv := bridgeServer(t, func(ctx context.Context, c *ws.Conn, r *http.Request) {
		// Control frame first: the transport must skip it.
		_ = c.Write(ctx, ws.MessageText, []byte(`{"type":"joined"}`))
		typ, data, err := c.Read(ctx)
		if err != nil || typ != ws.MessageBinary {
			return
		}
		_ = c.Write(ctx, ws.MessageBinary, data)
		c.Close(ws.StatusNormalClosure, "")
	})

	d := &WSDialer{BridgeURL: "ws" + srv.URL[len("http"):]}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	tr, err := d.Dial(ctx, "https://x.daily.co/r1", "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := tr.WriteAudio(ctx, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	chunk, err := tr.ReadAudio(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(chunk) != 3 || chunk[0] != 1 {
		t.Fatalf("chunk = %v", chunk)
	}

	// Bridge closed: the next read reports EOF.
	if _, err := tr.ReadAudio(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestDialWithoutBridgeURLFails(t *testing.T) {
	d := &WSDialer{}
	if _, err := d.Dial(context.Background(), "u", "t"); err == nil {
		t.Fatal("expected configuration error")
	}
}

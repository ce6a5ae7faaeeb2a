package daily

import (
	"context"
	"fmt"
	"io"
	"net/url"

	ws "nhooyr.io/websocket"

	"numeroly/voice/internal/pipeline"
)

// WSDialer attaches the bot participant to a room through the audio bridge,
// a websocket gateway that relays raw PCM16 frames to and from the room.
// The bridge speaks binary messages only, one audio frame per message.
type WSDialer struct {
	BridgeURL string
}

func (d *WSDialer) Dial(ctx context.Context, roomURL, credential string) (pipeline.Transport, error) {
	if d.BridgeURL == "" {
		return nil, fmt.Errorf("daily: audio bridge URL not configured")
	}
	u := fmt.Sprintf("%s?room_url=%s&token=%s",
		d.BridgeURL, url.QueryEscape(roomURL), url.QueryEscape(credential))
	c, _, err := ws.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("daily: dial audio bridge: %w", err)
	}
	c.SetReadLimit(1 << 20)
	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn *ws.Conn
}

// ReadAudio blocks for the next inbound frame. Text messages are control
// noise from the bridge and are skipped. A closed socket surfaces as io.EOF
// so the pipeline treats it as a participant departure, not an error.
func (t *wsTransport) ReadAudio(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, io.EOF
		}
		if typ != ws.MessageBinary {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) WriteAudio(ctx context.Context, chunk []byte) error {
	return t.conn.Write(ctx, ws.MessageBinary, chunk)
}

func (t *wsTransport) Close(ctx context.Context) error {
	return t.conn.Close(ws.StatusNormalClosure, "session ended")
}

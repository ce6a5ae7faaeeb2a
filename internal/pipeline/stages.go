package pipeline

import "context"

// Stage contracts. Provider SDK response shapes are normalized into these
// types at the adapter boundary (internal/providers); nothing downstream of
// this package sees a raw provider payload.

// Transcript is one speech-to-text result. Interim results carry
// IsFinal=false and may be superseded.
type Transcript struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// Transcriber converts an audio chunk to text. It may be called repeatedly
// per utterance and must tolerate partial input.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (Transcript, error)
}

// Synthesizer converts text to one or more audio chunks.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([][]byte, error)
}

// SessionContext is the conversation context handed to the responder.
type SessionContext struct {
	SessionID string
	UserID    string
}

// Responder produces the assistant's reply for a final transcript.
type Responder interface {
	Respond(ctx context.Context, text string, sctx SessionContext) (string, error)
}

// Transport is the session's audio room attachment. ReadAudio blocks until a
// chunk arrives and returns io.EOF when the remote side is gone.
type Transport interface {
	ReadAudio(ctx context.Context) ([]byte, error)
	WriteAudio(ctx context.Context, chunk []byte) error
	Close(ctx context.Context) error
}

// Stages bundles the linear chain around one session's transport.
type Stages struct {
	Transport Transport
	STT       Transcriber
	Responder Responder
	TTS       Synthesizer
}

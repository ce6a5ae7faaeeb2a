package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func wavFile(t *testing.T, channels uint16, samples []int16) []byte {
	t.Helper()
	var data bytes.Buffer
	for _, s := range samples {
		binary.Write(&data, binary.LittleEndian, s)
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+data.Len()))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, channels)
	binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&b, binary.LittleEndian, uint32(sampleRate)*uint32(channels)*2)
	binary.Write(&b, binary.LittleEndian, channels*2)
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(data.Len()))
	b.Write(data.Bytes())
	return b.Bytes()
}

func TestSynthesizeDecodesWAVIntoFrames(t *testing.T) {
	// 800 samples = 50ms at 16kHz, so 2 full frames and one 10ms tail.
	samples := make([]int16, 800)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "xi-1" {
			t.Errorf("xi-api-key = %q", got)
		}
		var req synthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ModelID != "eleven_multilingual_v2" {
			t.Errorf("model_id = %q", req.ModelID)
		}
		w.Write(wavFile(t, 1, samples))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "xi-1", VoiceID: "voice-1", BaseURL: srv.URL})
	frames, err := c.Synthesize(context.Background(), "xin chào")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	frameBytes := sampleRate / 50 * 2
	if len(frames[0]) != frameBytes || len(frames[2]) != frameBytes/2 {
		t.Fatalf("frame sizes = %d, %d", len(frames[0]), len(frames[2]))
	}
}

func TestSynthesizeAveragesStereo(t *testing.T) {
	// Interleaved L/R pairs (100, 300) average to 200.
	samples := make([]int16, 160)
	for i := 0; i < len(samples); i += 2 {
		samples[i], samples[i+1] = 100, 300
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavFile(t, 2, samples))
	}))
	defer srv.Close()

	c := NewClient(Config{VoiceID: "v", BaseURL: srv.URL})
	frames, err := c.Synthesize(context.Background(), "x")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	got := int16(binary.LittleEndian.Uint16(frames[0][:2]))
	if got != 200 {
		t.Fatalf("mono sample = %d, want 200", got)
	}
}

func TestSynthesizePassesRawPCMThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 640)) // one 20ms frame of bare PCM
	}))
	defer srv.Close()

	c := NewClient(Config{VoiceID: "v", BaseURL: srv.URL})
	frames, err := c.Synthesize(context.Background(), "x")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(frames) != 1 || len(frames[0]) != 640 {
		t.Fatalf("frames = %d x %d", len(frames), len(frames[0]))
	}
}

func TestSynthesizeReportsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{VoiceID: "missing", BaseURL: srv.URL})
	if _, err := c.Synthesize(context.Background(), "x"); err == nil {
		t.Fatal("expected error on non-2xx status")
	}
}

// Package tts adapts the ElevenLabs text-to-speech REST API to the
// pipeline's Synthesizer contract. The WAV response is decoded to raw PCM16
// and cut into 20ms frames so the transport can pace playback.
package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	sampleRate     = 16000
	frameMillis    = 20
)

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
}

type Client struct {
	cfg   Config
	httpc *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 60 * time.Second},
	}
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (c *Client) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	body, err := json.Marshal(synthesisRequest{Text: text, ModelID: c.cfg.ModelID})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_16000", c.cfg.BaseURL, c.cfg.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tts: status=%d body=%s", resp.StatusCode, string(b))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	pcm := raw
	if isWAV(raw) {
		pcm, err = wavPCM16(raw)
		if err != nil {
			return nil, fmt.Errorf("tts: %w", err)
		}
	}
	return frame(pcm), nil
}

// frame cuts PCM16 mono into fixed 20ms chunks; the final frame may be short.
func frame(pcm []byte) [][]byte {
	frameBytes := sampleRate / (1000 / frameMillis) * 2
	out := make([][]byte, 0, len(pcm)/frameBytes+1)
	for pos := 0; pos < len(pcm); pos += frameBytes {
		end := pos + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		out = append(out, pcm[pos:end])
	}
	return out
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// wavPCM16 walks the RIFF chunks and returns the data payload. Only
// uncompressed 16-bit PCM is accepted; stereo is averaged down to mono.
func wavPCM16(b []byte) ([]byte, error) {
	off := 12
	var channels uint16
	var dataOff, dataLen int
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		switch id {
		case "fmt ":
			if off+16 > len(b) {
				return nil, fmt.Errorf("truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(b[off : off+2])
			channels = binary.LittleEndian.Uint16(b[off+2 : off+4])
			bits := binary.LittleEndian.Uint16(b[off+14 : off+16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("unsupported WAV encoding (format=%d bits=%d)", format, bits)
			}
			off += size
		case "data":
			dataOff, dataLen = off, size
			off += size
		default:
			off += size
		}
		if dataOff > 0 {
			break
		}
	}
	if dataOff == 0 || dataOff+dataLen > len(b) {
		return nil, fmt.Errorf("no data chunk")
	}
	pcm := b[dataOff : dataOff+dataLen]
	if channels == 2 {
		pcm = stereoToMono(pcm)
	}
	return pcm, nil
}

func stereoToMono(in []byte) []byte {
	out := make([]byte, len(in)/2)
	for i := 0; i+3 < len(in); i += 4 {
		l := int16(binary.LittleEndian.Uint16(in[i : i+2]))
		r := int16(binary.LittleEndian.Uint16(in[i+2 : i+4]))
		binary.LittleEndian.PutUint16(out[i/2:], uint16(int16((int32(l)+int32(r))/2)))
	}
	return out
}

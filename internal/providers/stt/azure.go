// Package stt adapts the Azure OpenAI audio transcription REST API to the
// pipeline's Transcriber contract. Raw provider payloads never leave this
// package.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"numeroly/voice/internal/pipeline"
)

type Config struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
	Language   string
}

// Client sends one audio chunk per request and returns a final transcript.
// The pipeline treats every result as final; Azure's transcription endpoint
// has no interim results.
type Client struct {
	cfg   Config
	httpc *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-06-01"
	}
	if cfg.Language == "" {
		cfg.Language = "vi"
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 30 * time.Second},
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (c *Client) Transcribe(ctx context.Context, audio []byte) (pipeline.Transcript, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return pipeline.Transcript{}, err
	}
	if _, err := part.Write(audio); err != nil {
		return pipeline.Transcript{}, err
	}
	if err := w.WriteField("language", c.cfg.Language); err != nil {
		return pipeline.Transcript{}, err
	}
	if err := w.WriteField("response_format", "json"); err != nil {
		return pipeline.Transcript{}, err
	}
	if err := w.Close(); err != nil {
		return pipeline.Transcript{}, err
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/audio/transcriptions?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.Deployment, c.cfg.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return pipeline.Transcript{}, err
	}
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return pipeline.Transcript{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return pipeline.Transcript{}, fmt.Errorf("stt: status=%d body=%s", resp.StatusCode, string(b))
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return pipeline.Transcript{}, fmt.Errorf("stt: decode response: %w", err)
	}
	return pipeline.Transcript{Text: strings.TrimSpace(tr.Text), IsFinal: true, Confidence: 1}, nil
}

// Package agent adapts the Azure OpenAI chat completions REST API to the
// pipeline's Responder contract. It keeps a short rolling history per session
// so follow-up turns stay coherent, and always answers in Vietnamese.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"numeroly/voice/internal/pipeline"
)

const systemPrompt = `You are a warm, empathetic numerology guide providing Vietnamese-language
numerology readings and spiritual guidance.

Your role:
1. Calculate and interpret Pythagorean numerology (Life Path, Destiny, Soul Urge, etc.)
2. Provide personalized insights based on the user's numerology profile
3. Offer practical, actionable advice grounded in numerology principles
4. Maintain a conversational, supportive tone throughout interactions

Always respond in Vietnamese unless the user requests otherwise.
Maintain emotional intelligence and cultural sensitivity in your responses.`

// historyCap bounds the per-session message window sent with each request.
const historyCap = 20

type Config struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
	MaxTokens  int
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	cfg   Config
	httpc *http.Client

	mu      sync.Mutex
	history map[string][]message
}

func NewClient(cfg Config) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-15-preview"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: 45 * time.Second},
		history: make(map[string][]message),
	}
}

type chatRequest struct {
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (c *Client) Respond(ctx context.Context, text string, sctx pipeline.SessionContext) (string, error) {
	msgs := c.messagesFor(sctx.SessionID, text)

	body, err := json.Marshal(chatRequest{Messages: msgs, MaxTokens: c.cfg.MaxTokens, Temperature: 0.7})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.Deployment, c.cfg.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("agent: status=%d body=%s", resp.StatusCode, string(b))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("agent: decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("agent: empty choices")
	}
	reply := strings.TrimSpace(cr.Choices[0].Message.Content)
	c.remember(sctx.SessionID, text, reply)
	return reply, nil
}

// Forget drops a session's history. Called on session end.
func (c *Client) Forget(sessionID string) {
	c.mu.Lock()
	delete(c.history, sessionID)
	c.mu.Unlock()
}

func (c *Client) messagesFor(sessionID, text string) []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	past := c.history[sessionID]
	msgs := make([]message, 0, len(past)+2)
	msgs = append(msgs, message{Role: "system", Content: systemPrompt})
	msgs = append(msgs, past...)
	msgs = append(msgs, message{Role: "user", Content: text})
	return msgs
}

func (c *Client) remember(sessionID, userText, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := append(c.history[sessionID], message{Role: "user", Content: userText}, message{Role: "assistant", Content: reply})
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	c.history[sessionID] = h
}

// Package health checks the upstream providers a session depends on. Each
// check is the cheapest authenticated call the provider offers, so a deep
// health check costs one round trip per provider and no quota to speak of.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"numeroly/voice/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// endpointCheck describes one provider check. build returns the request to
// send, or an error when required configuration is missing. explain maps a
// non-200 status to a message; statuses it does not cover get a generic one.
type endpointCheck struct {
	name    string
	build   func(ctx context.Context) (*http.Request, error)
	explain func(status int) string
}

func providerChecks(cfg config.Config) []endpointCheck {
	return []endpointCheck{
		{
			name: "daily",
			build: func(ctx context.Context) (*http.Request, error) {
				if cfg.Daily.APIKey == "" {
					return nil, fmt.Errorf("DAILY_API_KEY not set")
				}
				// Listing one room is the lightest authenticated Daily call.
				req, err := http.NewRequestWithContext(ctx, "GET", "https://api.daily.co/v1/rooms?limit=1", nil)
				if err != nil {
					return nil, err
				}
				req.Header.Set("Authorization", "Bearer "+cfg.Daily.APIKey)
				return req, nil
			},
			explain: func(status int) string {
				if status == 401 {
					return "invalid API key (401)"
				}
				return ""
			},
		},
		{
			name: "elevenlabs",
			build: func(ctx context.Context) (*http.Request, error) {
				if cfg.Eleven.APIKey == "" {
					return nil, fmt.Errorf("ELEVENLABS_API_KEY not set")
				}
				if cfg.Eleven.VoiceID == "" {
					return nil, fmt.Errorf("ELEVENLABS_VOICE_ID not set")
				}
				// A one-character synthesis works with TTS-only keys that
				// lack the user_read permission GET /v1/user needs.
				url := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s/stream", cfg.Eleven.VoiceID)
				req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(`{"text":"."}`))
				if err != nil {
					return nil, err
				}
				req.Header.Set("xi-api-key", cfg.Eleven.APIKey)
				req.Header.Set("Content-Type", "application/json")
				return req, nil
			},
			explain: func(status int) string {
				switch status {
				case 401:
					return "invalid API key (401)"
				case 404:
					return fmt.Sprintf("voice ID %q not found", cfg.Eleven.VoiceID)
				}
				return ""
			},
		},
		{
			name: "azure_openai",
			build: func(ctx context.Context) (*http.Request, error) {
				if cfg.Azure.APIKey == "" || cfg.Azure.Endpoint == "" {
					return nil, fmt.Errorf("AZURE_OPENAI_API_KEY or AZURE_OPENAI_ENDPOINT not set")
				}
				// Model listing exercises the same endpoint and key the STT
				// and responder adapters use.
				url := fmt.Sprintf("%s/openai/models?api-version=%s",
					strings.TrimRight(cfg.Azure.Endpoint, "/"), cfg.Azure.APIVersion)
				req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
				if err != nil {
					return nil, err
				}
				req.Header.Set("api-key", cfg.Azure.APIKey)
				return req, nil
			},
			explain: func(status int) string {
				if status == 401 || status == 403 {
					return fmt.Sprintf("invalid API key (%d)", status)
				}
				return ""
			},
		},
	}
}

// CheckAll runs every provider check concurrently and reports the combined
// verdict. OK means all checks passed.
func CheckAll(ctx context.Context, cfg config.Config) HealthStatus {
	cs := providerChecks(cfg)
	checks := make([]CheckResult, len(cs))

	var wg sync.WaitGroup
	for i, c := range cs {
		wg.Add(1)
		go func(i int, c endpointCheck) {
			defer wg.Done()
			checks[i] = runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}
	return HealthStatus{OK: allOK, Checks: checks, CheckedAt: time.Now().UTC()}
}

func runCheck(ctx context.Context, c endpointCheck) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.name}

	req, err := c.build(ctx)
	if err != nil {
		result.Error = err.Error()
		result.Latency = time.Since(start)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	result.Latency = time.Since(start)

	if resp.StatusCode != 200 {
		if msg := c.explain(resp.StatusCode); msg != "" {
			result.Error = msg
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		}
		return result
	}

	io.Copy(io.Discard, resp.Body)
	result.OK = true
	return result
}

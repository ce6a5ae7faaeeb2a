package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear relevant envs
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("DAILY_ROOM_PREFIX")
	os.Unsetenv("SESSION_STEP_TIMEOUT_SEC")
	os.Unsetenv("SESSION_MAX_RETRIES")

	c := Load()

	if c.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", c.Server.Port)
	}
	if c.Daily.RoomPrefix != "numeroly-" {
		t.Fatalf("expected default room prefix, got %q", c.Daily.RoomPrefix)
	}
	if c.Daily.BotName != "Numeroly Assistant" {
		t.Fatalf("expected default bot name, got %q", c.Daily.BotName)
	}
	if c.Session.StepTimeout != 30*time.Second {
		t.Fatalf("expected 30s step timeout, got %v", c.Session.StepTimeout)
	}
	if c.Session.MaxRetries != 3 {
		t.Fatalf("expected 3 max retries, got %d", c.Session.MaxRetries)
	}
	if c.Session.DrainTimeout != 5*time.Second {
		t.Fatalf("expected 5s drain timeout, got %v", c.Session.DrainTimeout)
	}
	if c.Eleven.ModelID != "eleven_multilingual_v2" {
		t.Fatalf("expected default TTS model, got %q", c.Eleven.ModelID)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_STEP_TIMEOUT_SEC", "10")
	t.Setenv("DAILY_ROOM_PREFIX", "test-")

	c := Load()

	if c.Session.StepTimeout != 10*time.Second {
		t.Fatalf("expected 10s step timeout, got %v", c.Session.StepTimeout)
	}
	if c.Daily.RoomPrefix != "test-" {
		t.Fatalf("expected overridden room prefix, got %q", c.Daily.RoomPrefix)
	}
}

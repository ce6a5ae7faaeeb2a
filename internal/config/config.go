package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}
	Daily struct {
		APIKey         string
		Domain         string
		RoomPrefix     string
		RoomPrivacy    string
		BotName        string
		RoomTTLMin     int
		TokenTTLMin    int
		AudioBridgeURL string
	}
	Azure struct {
		APIKey              string
		Endpoint            string
		STTDeployment       string
		ReasoningDeployment string
		APIVersion          string
	}
	Eleven struct {
		APIKey  string
		VoiceID string
		ModelID string
	}
	Session struct {
		StepTimeout      time.Duration
		MaxRetries       int
		DrainTimeout     time.Duration
		SweepInterval    time.Duration
		StageRetryBudget int
	}
	Client struct {
		WSTokenSecret  string
		WSTokenExpMin  int
		WSTokenSkewSec int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("daily.room_prefix", "numeroly-")
	v.SetDefault("daily.room_privacy", "private")
	v.SetDefault("daily.bot_name", "Numeroly Assistant")
	v.SetDefault("daily.room_ttl_min", 60)
	v.SetDefault("daily.token_ttl_min", 60)

	v.SetDefault("azure.api_version", "2024-02-15-preview")
	v.SetDefault("azure.stt_deployment", "gpt-4o-mini-transcribe")
	v.SetDefault("azure.reasoning_deployment", "gpt-4o-mini")

	v.SetDefault("elevenlabs.model_id", "eleven_multilingual_v2")

	v.SetDefault("session.step_timeout_sec", 30)
	v.SetDefault("session.max_retries", 3)
	v.SetDefault("session.drain_timeout_sec", 5)
	v.SetDefault("session.sweep_interval_sec", 30)
	v.SetDefault("session.stage_retry_budget", 2)

	v.SetDefault("client.ws_token_exp_min", 60)
	v.SetDefault("client.ws_token_skew_sec", 30)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("daily.api_key", "DAILY_API_KEY")
	v.BindEnv("daily.domain", "DAILY_DOMAIN")
	v.BindEnv("daily.room_prefix", "DAILY_ROOM_PREFIX")
	v.BindEnv("daily.room_privacy", "DAILY_ROOM_PRIVACY")
	v.BindEnv("daily.bot_name", "DAILY_BOT_NAME")
	v.BindEnv("daily.room_ttl_min", "DAILY_ROOM_TTL_MIN")
	v.BindEnv("daily.token_ttl_min", "DAILY_TOKEN_TTL_MIN")
	v.BindEnv("daily.audio_bridge_url", "DAILY_AUDIO_BRIDGE_URL")

	v.BindEnv("azure.api_key", "AZURE_OPENAI_API_KEY")
	v.BindEnv("azure.endpoint", "AZURE_OPENAI_ENDPOINT")
	v.BindEnv("azure.stt_deployment", "AZURE_OPENAI_STT_DEPLOYMENT")
	v.BindEnv("azure.reasoning_deployment", "AZURE_OPENAI_REASONING_DEPLOYMENT")
	v.BindEnv("azure.api_version", "AZURE_OPENAI_API_VERSION")

	v.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	v.BindEnv("elevenlabs.voice_id", "ELEVENLABS_VOICE_ID")
	v.BindEnv("elevenlabs.model_id", "ELEVENLABS_MODEL_ID")

	v.BindEnv("session.step_timeout_sec", "SESSION_STEP_TIMEOUT_SEC")
	v.BindEnv("session.max_retries", "SESSION_MAX_RETRIES")
	v.BindEnv("session.drain_timeout_sec", "SESSION_DRAIN_TIMEOUT_SEC")
	v.BindEnv("session.sweep_interval_sec", "SESSION_SWEEP_INTERVAL_SEC")
	v.BindEnv("session.stage_retry_budget", "SESSION_STAGE_RETRY_BUDGET")

	v.BindEnv("client.ws_token_secret", "CLIENT_WS_TOKEN_SECRET")
	v.BindEnv("client.ws_token_exp_min", "CLIENT_WS_TOKEN_EXP_MIN")
	v.BindEnv("client.ws_token_skew_sec", "CLIENT_WS_TOKEN_SKEW_SEC")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Daily.APIKey = v.GetString("daily.api_key")
	c.Daily.Domain = v.GetString("daily.domain")
	c.Daily.RoomPrefix = v.GetString("daily.room_prefix")
	c.Daily.RoomPrivacy = v.GetString("daily.room_privacy")
	c.Daily.BotName = v.GetString("daily.bot_name")
	c.Daily.RoomTTLMin = v.GetInt("daily.room_ttl_min")
	c.Daily.TokenTTLMin = v.GetInt("daily.token_ttl_min")
	c.Daily.AudioBridgeURL = v.GetString("daily.audio_bridge_url")

	c.Azure.APIKey = v.GetString("azure.api_key")
	c.Azure.Endpoint = v.GetString("azure.endpoint")
	c.Azure.STTDeployment = v.GetString("azure.stt_deployment")
	c.Azure.ReasoningDeployment = v.GetString("azure.reasoning_deployment")
	c.Azure.APIVersion = v.GetString("azure.api_version")

	c.Eleven.APIKey = v.GetString("elevenlabs.api_key")
	c.Eleven.VoiceID = v.GetString("elevenlabs.voice_id")
	c.Eleven.ModelID = v.GetString("elevenlabs.model_id")

	c.Session.StepTimeout = time.Duration(v.GetInt("session.step_timeout_sec")) * time.Second
	c.Session.MaxRetries = v.GetInt("session.max_retries")
	c.Session.DrainTimeout = time.Duration(v.GetInt("session.drain_timeout_sec")) * time.Second
	c.Session.SweepInterval = time.Duration(v.GetInt("session.sweep_interval_sec")) * time.Second
	c.Session.StageRetryBudget = v.GetInt("session.stage_retry_budget")

	c.Client.WSTokenSecret = v.GetString("client.ws_token_secret")
	c.Client.WSTokenExpMin = v.GetInt("client.ws_token_exp_min")
	c.Client.WSTokenSkewSec = v.GetInt("client.ws_token_skew_sec")

	slog.Info("config loaded", "port", c.Server.Port, "daily_domain", c.Daily.Domain)
	return c
}

func toString(v any) string { return fmt.Sprint(v) }

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	LogLevel          string
	LLMProvider       string
	GeminiAPIKey      string
	GeminiModel       string
	AnthropicAPIKey   string
	AnthropicModel    string
	LLMTimeoutSeconds int
	StorePath         string
	AllowedOrigins    []string
	NatsURL           string
	NatsToken         string
	SlackBotToken     string
	SlackChannel      string
	BatchConcurrency  int
	SimulationSamples string
}

func Load() Config {
	return Config{
		Port:              envInt("CALLINTAKE_PORT", 8000),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		LLMProvider:       strings.ToLower(envStr("LLM_PROVIDER", "gemini")),
		GeminiAPIKey:      envStr("GEMINI_API_KEY", ""),
		GeminiModel:       envStr("GEMINI_MODEL", "gemini-1.5-flash"),
		AnthropicAPIKey:   envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    envStr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		LLMTimeoutSeconds: envInt("LLM_TIMEOUT_SECONDS", 120),
		StorePath:         envStr("CALL_STORE_PATH", defaultStorePath()),
		AllowedOrigins:    envList("ALLOWED_ORIGINS", []string{"*"}),
		NatsURL:           envStr("NATS_URL", ""),
		NatsToken:         envStr("NATS_TOKEN", ""),
		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:      envStr("SLACK_DISPATCH_CHANNEL", ""),
		BatchConcurrency:  envInt("BATCH_CONCURRENCY", 1),
		SimulationSamples: envStr("SIMULATION_SAMPLES", ""),
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment. Variables
// already set are left alone and a missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Serverless hosts only guarantee /tmp is writable.
func defaultStorePath() string {
	if info, err := os.Stat("/tmp"); err == nil && info.IsDir() {
		return "/tmp/call_records.json"
	}
	return "call_records.json"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

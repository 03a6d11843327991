package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the VoxGate server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Files    FilesConfig
	Speech   SpeechConfig
	Jobs     JobsConfig
	Billing  BillingConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type FilesConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type SpeechConfig struct {
	Provider       string
	RequestTimeout time.Duration
	Azure          AzureConfig
	OpenAI         OpenAIConfig
}

type AzureConfig struct {
	Region string
	APIKey string
	Voice  string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type JobsConfig struct {
	PollInterval  time.Duration
	FetchLimit    int
	ChunkBudget   int
	ChunkOverlap  int
	StaleAfter    time.Duration
	MaxRetries    int
	SweepSchedule string
}

type BillingConfig struct {
	RefundOnFailure bool
	TierCredits     map[string]float64
	FallbackCredits float64
}

var validProviders = map[string]bool{
	"azure": true,
	"mock":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("VOXGATE_PORT", 8080),
			Env:             envString("VOXGATE_ENV", "development"),
			RateLimitPerMin: envInt("VOXGATE_RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Files: FilesConfig{
			BaseURL: os.Getenv("FILES_BASE_URL"),
			Token:   os.Getenv("FILES_TOKEN"),
			Timeout: envDuration("FILES_TIMEOUT", 30*time.Second),
		},
		Speech: SpeechConfig{
			Provider:       envString("SPEECH_PROVIDER", "azure"),
			RequestTimeout: envDuration("SPEECH_REQUEST_TIMEOUT", 120*time.Second),
			Azure: AzureConfig{
				Region: envString("AZURE_SPEECH_REGION", "eastus"),
				APIKey: os.Getenv("AZURE_SPEECH_KEY"),
				Voice:  envString("AZURE_SPEECH_VOICE", "en-US-JennyNeural"),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
		},
		Jobs: JobsConfig{
			PollInterval:  envDuration("VOXGATE_POLL_INTERVAL", 10*time.Second),
			FetchLimit:    envInt("VOXGATE_FETCH_LIMIT", 5),
			ChunkBudget:   envInt("VOXGATE_CHUNK_BUDGET", 12000),
			ChunkOverlap:  envInt("VOXGATE_CHUNK_OVERLAP", 400),
			StaleAfter:    envDuration("VOXGATE_STALE_AFTER", 30*time.Minute),
			MaxRetries:    envInt("VOXGATE_MAX_RETRIES", 3),
			SweepSchedule: envString("VOXGATE_SWEEP_SCHEDULE", "*/5 * * * *"),
		},
		Billing: BillingConfig{
			RefundOnFailure: envBool("VOXGATE_REFUND_ON_FAILURE", false),
			TierCredits: map[string]float64{
				"free": envFloat("VOXGATE_CREDITS_FREE", 50),
				"pro":  envFloat("VOXGATE_CREDITS_PRO", 500),
			},
			FallbackCredits: envFloat("VOXGATE_CREDITS_FALLBACK", 10),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Files.BaseURL == "" {
		return fmt.Errorf("FILES_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Files.BaseURL, "http://") && !strings.HasPrefix(c.Files.BaseURL, "https://") {
		return fmt.Errorf("FILES_BASE_URL must start with http:// or https://, got %q", c.Files.BaseURL)
	}

	if !validProviders[c.Speech.Provider] {
		return fmt.Errorf("SPEECH_PROVIDER must be one of azure, mock; got %q", c.Speech.Provider)
	}
	if c.Speech.Provider == "azure" && c.Speech.Azure.APIKey == "" {
		return fmt.Errorf("AZURE_SPEECH_KEY is required when SPEECH_PROVIDER is azure")
	}
	if c.Speech.Provider == "azure" && c.Speech.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when SPEECH_PROVIDER is azure")
	}

	if c.Jobs.PollInterval < time.Second {
		return fmt.Errorf("VOXGATE_POLL_INTERVAL must be at least 1s, got %s", c.Jobs.PollInterval)
	}
	if c.Jobs.FetchLimit <= 0 {
		return fmt.Errorf("VOXGATE_FETCH_LIMIT must be positive, got %d", c.Jobs.FetchLimit)
	}
	if c.Jobs.ChunkOverlap >= c.Jobs.ChunkBudget {
		return fmt.Errorf("VOXGATE_CHUNK_OVERLAP (%d) must be smaller than VOXGATE_CHUNK_BUDGET (%d)",
			c.Jobs.ChunkOverlap, c.Jobs.ChunkBudget)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

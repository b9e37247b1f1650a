package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config - every environment variable the server reads
type Config struct {
	// Server
	Port          string `env:"PORT" env-default:"8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" env-default:"http://localhost:3000"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"console"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     string `env:"REDIS_PORT" env-default:"6379"`
	RedisUsername string `env:"REDIS_USERNAME"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisUseTLS   bool   `env:"REDIS_USE_TLS" env-default:"true"`

	// Supabase
	SupabaseURL           string `env:"SUPABASE_URL"`
	SupabaseServiceKey    string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseJWTSecret     string `env:"SUPABASE_JWT_SECRET"`
	SupabaseStorageBucket string `env:"SUPABASE_STORAGE_BUCKET" env-default:"generated-images"`

	// Image providers
	DefaultImageProvider string `env:"DEFAULT_IMAGE_PROVIDER" env-default:"flux"`

	GeminiAPIKey         string   `env:"GEMINI_API_KEY"`
	GeminiAPIKeys        []string `env:"GEMINI_API_KEYS" env-separator:","` // extra keys for 429 rotation
	GeminiModel          string   `env:"GEMINI_MODEL" env-default:"gemini-2.5-flash-image"`
	GeminiAspectRatio    string   `env:"GEMINI_ASPECT_RATIO" env-default:"4:3"`
	GeminiStaggerDelayMs int      `env:"GEMINI_STAGGER_DELAY_MS" env-default:"1500"`

	RunwareAPIKey string `env:"RUNWARE_API_KEY"`
	RunwareAPIURL string `env:"RUNWARE_API_URL" env-default:"https://api.runware.ai/v1"`
	FluxModelID   string `env:"FLUX_MODEL_ID" env-default:"runware:101@1"`

	// Character analysis
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	OpenAIVisionModel string `env:"OPENAI_VISION_MODEL" env-default:"gpt-4o"`
	OpenAIBaseURL     string `env:"OPENAI_BASE_URL"`

	// Rate limits (images)
	RateLimitFreeHourly    int `env:"RATE_LIMIT_FREE_HOURLY" env-default:"20"`
	RateLimitFreeDaily     int `env:"RATE_LIMIT_FREE_DAILY" env-default:"50"`
	RateLimitPremiumHourly int `env:"RATE_LIMIT_PREMIUM_HOURLY" env-default:"100"`
	RateLimitPremiumDaily  int `env:"RATE_LIMIT_PREMIUM_DAILY" env-default:"500"`
}

// LoadConfig - load .env (if present) and bind environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️  .env file not found, using environment variables")
	}

	cfg, err := Read()
	if err != nil {
		return nil, err
	}

	log.Info().Msg("✅ Configuration loaded successfully")
	log.Info().Msgf("   Redis: %s (TLS: %v)", cfg.GetRedisAddr(), cfg.RedisUseTLS)
	log.Info().Msgf("   Supabase: %s", cfg.SupabaseURL)
	log.Info().Msgf("   Default provider: %s (gemini available: %v)", cfg.DefaultImageProvider, cfg.GeminiAvailable())

	return cfg, nil
}

// Read - bind and validate the environment without loading .env
func Read() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	if c.RunwareAPIKey == "" {
		return fmt.Errorf("RUNWARE_API_KEY is required")
	}
	if c.GeminiStaggerDelayMs < 0 {
		return fmt.Errorf("GEMINI_STAGGER_DELAY_MS must not be negative")
	}
	return nil
}

// GetRedisAddr - host:port for the Redis client
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GeminiKeys - primary key first, then rotation keys, blanks and duplicates removed
func (c *Config) GeminiKeys() []string {
	seen := map[string]bool{}
	var keys []string
	for _, k := range append([]string{c.GeminiAPIKey}, c.GeminiAPIKeys...) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// GeminiAvailable - whether the gemini provider can be used at all
func (c *Config) GeminiAvailable() bool {
	return len(c.GeminiKeys()) > 0
}

// GeminiStaggerDelay - per-scene start offset for the gemini provider
func (c *Config) GeminiStaggerDelay() time.Duration {
	return time.Duration(c.GeminiStaggerDelayMs) * time.Millisecond
}

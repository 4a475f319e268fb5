package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

type Config struct {
	Configuration struct {
		Port                string `envconfig:"PORT" default:"8080"`
		RateLimitPerSecond  int    `envconfig:"RATE_LIMIT_PER_SECOND" default:"2"`
		RateLimitBurstLimit int    `envconfig:"RATE_LIMIT_BURST_LIMIT" default:"5"`
		// APIKey authenticates clients (X-API-Key) and bypasses the rate limiter
		APIKey           string `envconfig:"API_KEY" default:""`
		CacheAccessToken string `envconfig:"CACHE_ACCESS_TOKEN" default:""`
		AllowedOrigins   string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`

		// Storage
		CacheBackend    string `envconfig:"CACHE_BACKEND" default:"bolt"` // bolt, sqlite or memory
		CachePath       string `envconfig:"CACHE_PATH" default:"./data/cache.db"`
		CacheBackupPath string `envconfig:"CACHE_BACKUP_PATH" default:"./data/backups"`
		SettingsPath    string `envconfig:"SETTINGS_PATH" default:"./data/settings.db"`
		StatsPath       string `envconfig:"STATS_PATH" default:"./data/stats.db"`
		StatsSaveSecs   int    `envconfig:"STATS_SAVE_INTERVAL_SECS" default:"60"`

		// Generation
		GenerationProvider   string  `envconfig:"GENERATION_PROVIDER" default:"gemini"` // gemini or ollama
		GeminiBaseURL        string  `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
		OllamaHost           string  `envconfig:"OLLAMA_HOST" default:""`
		FastModel            string  `envconfig:"FAST_MODEL" default:"gemini-1.5-flash"`
		CapableModel         string  `envconfig:"CAPABLE_MODEL" default:"gemini-2.0-flash-lite"`
		MaxToolSteps         int     `envconfig:"MAX_TOOL_STEPS" default:"3"`
		BasicTemperature     float64 `envconfig:"BASIC_TEMPERATURE" default:"0.3"`
		ToolTemperature      float64 `envconfig:"TOOL_TEMPERATURE" default:"0.3"`
		StructureTemperature float64 `envconfig:"STRUCTURE_TEMPERATURE" default:"0.2"`
		GenerationTimeoutSec int     `envconfig:"GENERATION_TIMEOUT_SECS" default:"60"`
		PromptsFile          string  `envconfig:"PROMPTS_FILE" default:""`

		// Search
		SearchURL         string `envconfig:"SEARCH_URL" default:"https://api.tavily.com/search"`
		SearchDepth       string `envconfig:"SEARCH_DEPTH" default:"advanced"`
		SearchMaxResults  int    `envconfig:"SEARCH_MAX_RESULTS" default:"5"`
		SearchTimeoutSecs int    `envconfig:"SEARCH_TIMEOUT_SECS" default:"30"`

		CircuitBreakerThreshold    int `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`     // Consecutive failures before circuit opens
		CircuitBreakerCooldownSecs int `envconfig:"CIRCUIT_BREAKER_COOLDOWN_SECS" default:"300"` // Seconds to wait before retrying

		LogFile  string `envconfig:"LOG_FILE" default:""`
		LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	}

	FeatureFlags struct {
		CacheCompression     bool `envconfig:"FF_CACHE_COMPRESSION" default:"true"`
		CacheMemoryFallback  bool `envconfig:"FF_CACHE_MEMORY_FALLBACK" default:"true"`
		APIKeyRequired       bool `envconfig:"FF_API_KEY_REQUIRED" default:"false"`
	}
}

// GenerationTimeout is the HTTP timeout for model calls.
func (c Config) GenerationTimeout() time.Duration {
	return time.Duration(c.Configuration.GenerationTimeoutSec) * time.Second
}

// SearchTimeout is the HTTP timeout for search calls.
func (c Config) SearchTimeout() time.Duration {
	return time.Duration(c.Configuration.SearchTimeoutSecs) * time.Second
}

func (c Config) CircuitBreakerCooldown() time.Duration {
	return time.Duration(c.Configuration.CircuitBreakerCooldownSecs) * time.Second
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("Unable to load configuration")
	}

	return c
}

func Get() Config {
	return conf
}

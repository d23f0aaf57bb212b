package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "YT2MAIL_CONFIG"

type Config struct {
	// Logging
	LogLevel string `yaml:"logLevel"`

	// Database
	DatabaseURL string `yaml:"databaseUrl"`

	// Redis (run lock); empty disables locking
	RedisURL string `yaml:"redisUrl"`

	// YouTube
	YouTubeAPIKey    string        `yaml:"youtubeApiKey"`
	DigestChannel    string        `yaml:"digestChannel"`
	DigestLookback   time.Duration `yaml:"digestLookback"`
	SkipShorts       bool          `yaml:"skipShorts"`
	ShortsMaxSeconds int           `yaml:"shortsMaxSeconds"`

	// Transcripts
	CaptionLanguages    []string      `yaml:"captionLanguages"`
	CaptionFetchTimeout time.Duration `yaml:"captionFetchTimeout"`
	TranscriptMinChars  int           `yaml:"transcriptMinChars"`

	// Audio
	AudioDir             string        `yaml:"audioDir"`
	AudioDownloadTimeout time.Duration `yaml:"audioDownloadTimeout"`

	// Gemini AI
	GeminiAPIKey   string        `yaml:"geminiApiKey"`
	GeminiModel    string        `yaml:"geminiModel"`
	SummarizeDelay time.Duration `yaml:"summarizeDelay"`
	ErrorCooldown  time.Duration `yaml:"errorCooldown"`

	// SMTP
	SMTPHost string `yaml:"smtpHost"`
	SMTPPort string `yaml:"smtpPort"`
	SMTPUser string `yaml:"smtpUser"`
	SMTPPass string `yaml:"smtpPass"`
	SMTPFrom string `yaml:"smtpFrom"`

	// Dashboard
	SiteURL string `yaml:"siteUrl"`
}

// Load reads .env files, an optional YAML file named by YT2MAIL_CONFIG, then
// environment variables. Environment wins over YAML.
func Load() *Config {
	// Load .env files if they exist
	godotenv.Load(".env.local")
	godotenv.Load()

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			slog.Warn("config: ignoring config file", slog.String("path", path), slog.Any("error", err))
		}
	}

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnvOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.YouTubeAPIKey = getEnvOrDefault("YOUTUBE_API_KEY", cfg.YouTubeAPIKey)
	cfg.DigestChannel = getEnvOrDefault("DIGEST_CHANNEL", cfg.DigestChannel)
	cfg.DigestLookback = getEnvAsDurationOrDefault("DIGEST_LOOKBACK", cfg.DigestLookback)
	cfg.SkipShorts = getEnvAsBoolOrDefault("SKIP_SHORTS", cfg.SkipShorts)
	cfg.ShortsMaxSeconds = getEnvAsIntOrDefault("SHORTS_MAX_SECONDS", cfg.ShortsMaxSeconds)
	cfg.CaptionLanguages = getEnvAsListOrDefault("CAPTION_LANGUAGES", cfg.CaptionLanguages)
	cfg.CaptionFetchTimeout = getEnvAsDurationOrDefault("CAPTION_FETCH_TIMEOUT", cfg.CaptionFetchTimeout)
	cfg.TranscriptMinChars = getEnvAsIntOrDefault("TRANSCRIPT_MIN_CHARS", cfg.TranscriptMinChars)
	cfg.AudioDir = getEnvOrDefault("AUDIO_DIR", cfg.AudioDir)
	cfg.AudioDownloadTimeout = getEnvAsDurationOrDefault("AUDIO_DOWNLOAD_TIMEOUT", cfg.AudioDownloadTimeout)
	cfg.GeminiAPIKey = getEnvOrDefault("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = getEnvOrDefault("GEMINI_MODEL", cfg.GeminiModel)
	cfg.SummarizeDelay = getEnvAsDurationOrDefault("SUMMARIZE_DELAY", cfg.SummarizeDelay)
	cfg.ErrorCooldown = getEnvAsDurationOrDefault("ERROR_COOLDOWN", cfg.ErrorCooldown)
	cfg.SMTPHost = getEnvOrDefault("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = getEnvOrDefault("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUser = getEnvOrDefault("SMTP_USER", cfg.SMTPUser)
	cfg.SMTPPass = getEnvOrDefault("SMTP_PASS", cfg.SMTPPass)
	cfg.SMTPFrom = getEnvOrDefault("SMTP_FROM", cfg.SMTPFrom)
	cfg.SiteURL = getEnvOrDefault("SITE_URL", cfg.SiteURL)

	return cfg
}

// Validate checks settings every command needs. API keys are deliberately
// not checked here; their absence is reported by the component that uses them.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("required setting DATABASE_URL is not set")
	}
	if c.ErrorCooldown < c.SummarizeDelay {
		return fmt.Errorf("ERROR_COOLDOWN (%s) must not be shorter than SUMMARIZE_DELAY (%s)", c.ErrorCooldown, c.SummarizeDelay)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:             "info",
		DigestChannel:        "@starterstory",
		DigestLookback:       24 * time.Hour,
		SkipShorts:           true,
		ShortsMaxSeconds:     65,
		CaptionLanguages:     []string{"en", "en-US", "en-GB"},
		CaptionFetchTimeout:  10 * time.Second,
		TranscriptMinChars:   100,
		AudioDir:             "./tmp_audio",
		AudioDownloadTimeout: 10 * time.Minute,
		GeminiModel:          "gemini-2.0-flash-lite",
		SummarizeDelay:       20 * time.Second,
		ErrorCooldown:        60 * time.Second,
		SMTPPort:             "587",
		SMTPFrom:             "Starter Story Insights <insights@yt2mail.app>",
		SiteURL:              "http://localhost:3000",
	}
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal over the defaults so keys missing from the file keep their value.
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvAsListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

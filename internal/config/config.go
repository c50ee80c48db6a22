package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// APIConfig holds the connection settings for one external HTTP API.
type APIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Config holds the full runtime configuration of the service.
type Config struct {
	ListenAddr     string
	DatabaseURL    string // empty selects the in-memory session store
	AudioDir       string
	YtdlpPath      string
	FfmpegPath     string
	MaxAudioSizeMB int
	JobTimeout     time.Duration // zero disables the per-job deadline
	EventHistory   int
	LogLevel       string
	MockMode       bool

	Transcription      APIConfig
	Analysis           APIConfig
	MaxTranscriptChars int
}

type fileAPIConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

type fileConfig struct {
	ListenAddr         string        `toml:"listen_addr"`
	DatabaseURL        string        `toml:"database_url"`
	AudioDir           string        `toml:"audio_dir"`
	YtdlpPath          string        `toml:"ytdlp_path"`
	FfmpegPath         string        `toml:"ffmpeg_path"`
	MaxAudioSizeMB     int           `toml:"max_audio_size_mb"`
	JobTimeout         string        `toml:"job_timeout"`
	EventHistory       int           `toml:"event_history"`
	LogLevel           string        `toml:"log_level"`
	MockMode           bool          `toml:"mock_mode"`
	Transcription      fileAPIConfig `toml:"transcription"`
	Analysis           fileAPIConfig `toml:"analysis"`
	MaxTranscriptChars int           `toml:"max_transcript_chars"`
}

// Load reads configuration from the TOML file at path (skipped when
// path is empty or the file does not exist), then applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:         ":8080",
		AudioDir:           defaultAudioDir(),
		YtdlpPath:          "yt-dlp",
		FfmpegPath:         "ffmpeg",
		MaxAudioSizeMB:     500,
		JobTimeout:         30 * time.Minute,
		EventHistory:       1000,
		LogLevel:           "info",
		MaxTranscriptChars: 120000,
		Transcription: APIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "whisper-1",
		},
		Analysis: APIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
	}

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if fc.AudioDir != "" {
		cfg.AudioDir = expandTilde(fc.AudioDir)
	}
	if fc.YtdlpPath != "" {
		cfg.YtdlpPath = fc.YtdlpPath
	}
	if fc.FfmpegPath != "" {
		cfg.FfmpegPath = fc.FfmpegPath
	}
	if fc.MaxAudioSizeMB > 0 {
		cfg.MaxAudioSizeMB = fc.MaxAudioSizeMB
	}
	if fc.JobTimeout != "" {
		d, err := time.ParseDuration(fc.JobTimeout)
		if err != nil {
			return fmt.Errorf("parse job_timeout %q: %w", fc.JobTimeout, err)
		}
		cfg.JobTimeout = d
	}
	if fc.EventHistory > 0 {
		cfg.EventHistory = fc.EventHistory
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.MockMode {
		cfg.MockMode = true
	}
	if fc.MaxTranscriptChars > 0 {
		cfg.MaxTranscriptChars = fc.MaxTranscriptChars
	}
	applyFileAPI(&cfg.Transcription, fc.Transcription)
	applyFileAPI(&cfg.Analysis, fc.Analysis)
	return nil
}

func applyFileAPI(dst *APIConfig, src fileAPIConfig) {
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
}

// envPrefix namespaces every environment override.
const envPrefix = "PODINSIGHT_"

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(envPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envPrefix + "DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv(envPrefix + "AUDIO_DIR"); v != "" {
		cfg.AudioDir = expandTilde(v)
	}
	if v := os.Getenv(envPrefix + "YTDLP_PATH"); v != "" {
		cfg.YtdlpPath = v
	}
	if v := os.Getenv(envPrefix + "JOB_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sJOB_TIMEOUT %q: %w", envPrefix, v, err)
		}
		cfg.JobTimeout = d
	}
	if v := os.Getenv(envPrefix + "MOCK_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %sMOCK_MODE %q: %w", envPrefix, v, err)
		}
		cfg.MockMode = b
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "TRANSCRIPTION_API_KEY"); v != "" {
		cfg.Transcription.APIKey = v
	}
	if v := os.Getenv(envPrefix + "ANALYSIS_API_KEY"); v != "" {
		cfg.Analysis.APIKey = v
	}
	return nil
}

// validate rejects configurations the service cannot start with. API
// keys are not required: jobs degrade per stage at runtime, and mock
// mode bypasses the external APIs entirely.
func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.MaxAudioSizeMB <= 0 {
		return fmt.Errorf("max_audio_size_mb must be positive, got %d", c.MaxAudioSizeMB)
	}
	if c.JobTimeout < 0 {
		return fmt.Errorf("job_timeout must not be negative, got %s", c.JobTimeout)
	}
	return nil
}

// MaxAudioBytes converts the size ceiling to bytes for the extractors.
func (c *Config) MaxAudioBytes() int64 {
	return int64(c.MaxAudioSizeMB) * 1024 * 1024
}

func defaultAudioDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".podcast-insight", "audio")
	}
	return filepath.Join(".", "audio")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all wispr-stream environment variables.
const EnvPrefix = "WISPR_STREAM_"

const (
	defaultStallTimeout = 5 * time.Second
	defaultDrainTimeout = 5 * time.Second
	defaultFirstChunk   = 158
	defaultChunk        = 4096
)

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	HTTPAddr      string `yaml:"http_addr"`
	DBPath        string `yaml:"db_path"`
	ClipDir       string `yaml:"clip_dir"`
	ClipEnabled   bool   `yaml:"clip_enabled"`
	TranscriptDir string `yaml:"transcript_dir"`

	// MicSampleRate is the rate the device is opened at; 0 keeps its default.
	MicSampleRate int `yaml:"mic_sample_rate"`
	// SourceFile replays a WAV file instead of the microphone.
	SourceFile     string `yaml:"source_file"`
	SourceRealtime bool   `yaml:"source_realtime"`

	FirstChunkSize int    `yaml:"first_chunk_size"`
	ChunkSize      int    `yaml:"chunk_size"`
	StallTimeout   string `yaml:"stall_timeout"`
	DrainTimeout   string `yaml:"drain_timeout"`

	PermissionGranted bool `yaml:"permission_granted"`
	GrantOnRequest    bool `yaml:"grant_on_request"`

	DeepgramModel    string `yaml:"deepgram_model"`
	DeepgramLanguage string `yaml:"deepgram_language"`
	WhisperModel     string `yaml:"whisper_model"`
	WhisperLanguage  string `yaml:"whisper_language"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`

	Log LogConfig `yaml:"log"`

	// Secrets, env vars only.
	DeepgramAPIKey string `yaml:"-"`
	OpenAIAPIKey   string `yaml:"-"`
}

func defaults() Config {
	return Config{
		HTTPAddr:         "127.0.0.1:8765",
		DBPath:           "data/wispr-stream.db",
		ClipDir:          "data/clips",
		ClipEnabled:      true,
		TranscriptDir:    "data/transcripts",
		SourceRealtime:   true,
		FirstChunkSize:   defaultFirstChunk,
		ChunkSize:        defaultChunk,
		StallTimeout:     defaultStallTimeout.String(),
		DrainTimeout:     defaultDrainTimeout.String(),
		GrantOnRequest:   true,
		DeepgramModel:    "nova-2",
		DeepgramLanguage: "en-US",
		WhisperModel:     "whisper-1",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedStallTimeout falls back to 5s for invalid values.
func (c *Config) ParsedStallTimeout() time.Duration {
	return parseDuration(c.StallTimeout, defaultStallTimeout)
}

// ParsedDrainTimeout falls back to 5s for invalid values.
func (c *Config) ParsedDrainTimeout() time.Duration {
	return parseDuration(c.DrainTimeout, defaultDrainTimeout)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.ClipDir, "CLIP_DIR")
	setBool(&cfg.ClipEnabled, "CLIP_ENABLED")
	setString(&cfg.TranscriptDir, "TRANSCRIPT_DIR")
	setInt(&cfg.MicSampleRate, "MIC_SAMPLE_RATE")
	setString(&cfg.SourceFile, "SOURCE_FILE")
	setBool(&cfg.SourceRealtime, "SOURCE_REALTIME")
	setInt(&cfg.FirstChunkSize, "FIRST_CHUNK_SIZE")
	setInt(&cfg.ChunkSize, "CHUNK_SIZE")
	setString(&cfg.StallTimeout, "STALL_TIMEOUT")
	setString(&cfg.DrainTimeout, "DRAIN_TIMEOUT")
	setBool(&cfg.PermissionGranted, "PERMISSION_GRANTED")
	setBool(&cfg.GrantOnRequest, "GRANT_ON_REQUEST")
	setString(&cfg.DeepgramModel, "DEEPGRAM_MODEL")
	setString(&cfg.DeepgramLanguage, "DEEPGRAM_LANGUAGE")
	setString(&cfg.WhisperModel, "WHISPER_MODEL")
	setString(&cfg.WhisperLanguage, "WHISPER_LANGUAGE")
	setString(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.File, "LOG_FILE")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured, live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured, clip transcription is disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}
	if d, err := time.ParseDuration(cfg.StallTimeout); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid stall_timeout %q, using default %s.", cfg.StallTimeout, defaultStallTimeout))
	}
	if d, err := time.ParseDuration(cfg.DrainTimeout); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid drain_timeout %q, using default %s.", cfg.DrainTimeout, defaultDrainTimeout))
	}
	if cfg.ChunkSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid chunk_size %d, using default %d.", cfg.ChunkSize, defaultChunk))
		cfg.ChunkSize = defaultChunk
	}
	if cfg.FirstChunkSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid first_chunk_size %d, using chunk_size %d.", cfg.FirstChunkSize, cfg.ChunkSize))
		cfg.FirstChunkSize = cfg.ChunkSize
	}
	if cfg.MicSampleRate < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid mic_sample_rate %d, using the device default.", cfg.MicSampleRate))
		cfg.MicSampleRate = 0
	}
	if cfg.SourceFile != "" {
		if _, err := os.Stat(cfg.SourceFile); err != nil {
			warnings = append(warnings, fmt.Sprintf("Source file %q is not readable, recordings cannot start.", cfg.SourceFile))
		}
	}

	return warnings
}

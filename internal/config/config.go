package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment overrides, also read from a .env file in the working directory.
const (
	EnvAPIURL  = "HANDYCHAT_API_URL"
	EnvToken   = "HANDYCHAT_TOKEN"
	EnvProfile = "HANDYCHAT_PROFILE"
	EnvLog     = "HANDYCHAT_LOG_LEVEL"
)

// Duration is a time.Duration that reads and writes as "5m", "300ms" in TOML.
type Duration struct {
	time.Duration
}

// D wraps a time.Duration.
func D(d time.Duration) Duration { return Duration{d} }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the global ~/.handychat/config.toml.
type Config struct {
	DefaultProfile string           `toml:"default_profile"`
	API            APIConfig        `toml:"api"`
	Cache          CacheConfig      `toml:"cache"`
	Attachments    AttachmentConfig `toml:"attachments"`
	Outbox         OutboxConfig     `toml:"outbox"`
	ReadState      ReadStateConfig  `toml:"read_state"`
	Sync           SyncConfig       `toml:"sync"`
	Log            LogConfig        `toml:"log"`
	Tracing        TracingConfig    `toml:"tracing"`
}

type APIConfig struct {
	BaseURL    string   `toml:"base_url"`
	Timeout    Duration `toml:"timeout"`
	GetRetries uint64   `toml:"get_retries"`
	UserAgent  string   `toml:"user_agent"`
}

type CacheConfig struct {
	StaleAfter     Duration `toml:"stale_after"`
	IdleEvictAfter Duration `toml:"idle_evict_after"`
	MaxThreads     int      `toml:"max_threads"`
	SweepInterval  Duration `toml:"sweep_interval"`
}

type AttachmentConfig struct {
	ImageMaxBytes    int64    `toml:"image_max_bytes"`
	VideoMaxBytes    int64    `toml:"video_max_bytes"`
	ThumbMaxBytes    int64    `toml:"thumb_max_bytes"`
	ThumbMaxWidth    int      `toml:"thumb_max_width"`
	ThumbFrameOffset Duration `toml:"thumb_frame_offset"`
	FFmpegPath       string   `toml:"ffmpeg_path"`
	FFprobePath      string   `toml:"ffprobe_path"`
}

type OutboxConfig struct {
	UploadConcurrency int `toml:"upload_concurrency"`
}

type ReadStateConfig struct {
	Dwell          Duration `toml:"dwell"`
	CoalesceWindow Duration `toml:"coalesce_window"`
}

type SyncConfig struct {
	PollInterval Duration `toml:"poll_interval"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
}

type TracingConfig struct {
	Exporter   string  `toml:"exporter"` // none or stdout
	SampleRate float64 `toml:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		API: APIConfig{
			BaseURL:    "http://localhost:8080/api/v1",
			Timeout:    D(30 * time.Second),
			GetRetries: 3,
			UserAgent:  "handychat",
		},
		Cache: CacheConfig{
			StaleAfter:     D(5 * time.Minute),
			IdleEvictAfter: D(10 * time.Minute),
			MaxThreads:     32,
			SweepInterval:  D(time.Minute),
		},
		Attachments: AttachmentConfig{
			ImageMaxBytes:    10 << 20,
			VideoMaxBytes:    100 << 20,
			ThumbMaxBytes:    500 << 10,
			ThumbMaxWidth:    320,
			ThumbFrameOffset: D(time.Second),
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
		},
		Outbox:    OutboxConfig{UploadConcurrency: 3},
		ReadState: ReadStateConfig{Dwell: D(300 * time.Millisecond), CoalesceWindow: D(2 * time.Second)},
		Sync:      SyncConfig{PollInterval: D(15 * time.Second)},
		Log:       LogConfig{Level: "info"},
		Tracing:   TracingConfig{Exporter: "none", SampleRate: 1},
	}
}

// Load reads config from the given path on top of the defaults.
// Returns nil config and error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when the file
// does not exist, then applies .env and environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(EnvProfile); v != "" {
		cfg.DefaultProfile = v
	}
	if v := os.Getenv(EnvLog); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HANDYCHAT_UPLOAD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Outbox.UploadConcurrency = n
		}
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

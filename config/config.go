package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bnema/lapclock/internal/domain"
)

type contextKey string

const configKey contextKey = "config"

// Config is the full application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Render RenderConfig `yaml:"render"`
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port            int    `yaml:"port"`
	DataDir         string `yaml:"data_dir"`
	Store           string `yaml:"store"`
	MaxUploadSizeMB int    `yaml:"max_upload_size_mb"`
	AllowInputPaths bool   `yaml:"allow_input_paths"`
	SubmitRateLimit int    `yaml:"submit_rate_limit"`
}

type RenderConfig struct {
	WorkDir       string        `yaml:"work_dir"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
	DefaultMode   string        `yaml:"default_mode"`
	FontFile      string        `yaml:"font_file"`
}

type FFmpegConfig struct {
	BinaryPath string        `yaml:"binary_path"`
	ProbePath  string        `yaml:"probe_path"`
	Threads    int           `yaml:"threads"`
	CRF        int           `yaml:"crf"`
	Preset     string        `yaml:"preset"`
	KillGrace  time.Duration `yaml:"kill_grace"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7890,
			DataDir:         "./data",
			Store:           "sqlite",
			MaxUploadSizeMB: 2048,
			SubmitRateLimit: 30,
		},
		Render: RenderConfig{
			MaxConcurrent: 2,
			JobTimeout:    30 * time.Minute,
			DefaultMode:   string(domain.RenderModeFilterGraph),
		},
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			CRF:        23,
			Preset:     "medium",
			KillGrace:  5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (or
// LAPCLOCK_CONFIG when path is empty), then environment variables. A .env
// file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("LAPCLOCK_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	setInt("PORT", &c.Server.Port)
	c.Server.DataDir = getEnv("DATA_DIR", c.Server.DataDir)
	c.Server.Store = getEnv("STORE", c.Server.Store)
	setInt("MAX_UPLOAD_SIZE_MB", &c.Server.MaxUploadSizeMB)
	setBool("ALLOW_INPUT_PATHS", &c.Server.AllowInputPaths)
	setInt("SUBMIT_RATE_LIMIT", &c.Server.SubmitRateLimit)

	c.Render.WorkDir = getEnv("WORK_DIR", c.Render.WorkDir)
	setInt("MAX_CONCURRENT_RENDERS", &c.Render.MaxConcurrent)
	setDuration("JOB_TIMEOUT", &c.Render.JobTimeout)
	c.Render.DefaultMode = getEnv("DEFAULT_RENDER_MODE", c.Render.DefaultMode)
	c.Render.FontFile = getEnv("FONT_FILE", c.Render.FontFile)

	c.FFmpeg.BinaryPath = getEnv("FFMPEG_PATH", c.FFmpeg.BinaryPath)
	c.FFmpeg.ProbePath = getEnv("FFPROBE_PATH", c.FFmpeg.ProbePath)
	setInt("FFMPEG_THREADS", &c.FFmpeg.Threads)
	setInt("VIDEO_CRF", &c.FFmpeg.CRF)
	c.FFmpeg.Preset = getEnv("VIDEO_PRESET", c.FFmpeg.Preset)
	setDuration("KILL_GRACE", &c.FFmpeg.KillGrace)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	return errors.Join(errs...)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	if c.Server.Store != "sqlite" && c.Server.Store != "memory" {
		errs = append(errs, fmt.Errorf("store must be sqlite or memory, got %q", c.Server.Store))
	}
	if c.Server.MaxUploadSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("max upload size must be positive"))
	}
	if c.Server.SubmitRateLimit < 0 {
		errs = append(errs, fmt.Errorf("submit rate limit must not be negative"))
	}
	if c.Render.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent renders must be positive"))
	}
	if c.Render.JobTimeout < 0 {
		errs = append(errs, fmt.Errorf("job timeout must not be negative"))
	}
	if c.Render.DefaultMode != "" && domain.ParseMode(c.Render.DefaultMode) == "" {
		errs = append(errs, fmt.Errorf("unknown default render mode %q", c.Render.DefaultMode))
	}
	if c.FFmpeg.CRF < 0 || c.FFmpeg.CRF > 51 {
		errs = append(errs, fmt.Errorf("crf %d out of range 0-51", c.FFmpeg.CRF))
	}
	if c.FFmpeg.Threads < 0 {
		errs = append(errs, fmt.Errorf("ffmpeg threads must not be negative"))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// WorkDir is where renderers put scratch files. It defaults to a directory
// under the data dir.
func (c *Config) WorkDir() string {
	if c.Render.WorkDir != "" {
		return c.Render.WorkDir
	}
	return filepath.Join(c.Server.DataDir, "work")
}

// DefaultMode is the configured render mode. Empty leaves the choice to the
// renderer fallback, which is filter-graph.
func (c *Config) DefaultMode() domain.RenderMode {
	return domain.ParseMode(c.Render.DefaultMode)
}

// WithConfig stores cfg in ctx for subcommands.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext returns the configuration stored by WithConfig, or the defaults.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

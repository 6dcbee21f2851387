package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/lapclock/internal/domain"
)

var envKeys = []string{
	"LAPCLOCK_CONFIG", "PORT", "DATA_DIR", "STORE", "MAX_UPLOAD_SIZE_MB", "ALLOW_INPUT_PATHS",
	"SUBMIT_RATE_LIMIT", "WORK_DIR", "MAX_CONCURRENT_RENDERS", "JOB_TIMEOUT", "DEFAULT_RENDER_MODE",
	"FONT_FILE", "FFMPEG_PATH", "FFPROBE_PATH", "FFMPEG_THREADS", "VIDEO_CRF", "VIDEO_PRESET",
	"KILL_GRACE", "LOG_LEVEL", "LOG_FORMAT",
}

// inEmptyDir runs the test from a directory without a .env file and with
// every config variable blanked.
func inEmptyDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inEmptyDir(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7890, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Server.Store)
	assert.Equal(t, 2048, cfg.Server.MaxUploadSizeMB)
	assert.False(t, cfg.Server.AllowInputPaths)
	assert.Equal(t, 2, cfg.Render.MaxConcurrent)
	assert.Equal(t, 30*time.Minute, cfg.Render.JobTimeout)
	assert.Equal(t, domain.RenderModeFilterGraph, cfg.DefaultMode())
	assert.Equal(t, 23, cfg.FFmpeg.CRF)
	assert.Equal(t, "medium", cfg.FFmpeg.Preset)
	assert.Equal(t, 5*time.Second, cfg.FFmpeg.KillGrace)
	assert.Equal(t, filepath.Join("./data", "work"), cfg.WorkDir())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := inEmptyDir(t)
	path := filepath.Join(dir, "lapclock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  store: memory
render:
  work_dir: /scratch
  max_concurrent: 4
  job_timeout: 10m
  default_mode: pipe
ffmpeg:
  crf: 18
  kill_grace: 2s
log:
  format: json
`), 0o644))

	t.Setenv("LAPCLOCK_CONFIG", path)
	t.Setenv("PORT", "9100")
	t.Setenv("JOB_TIMEOUT", "45s")
	t.Setenv("ALLOW_INPUT_PATHS", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "memory", cfg.Server.Store)
	assert.Equal(t, 4, cfg.Render.MaxConcurrent)
	assert.Equal(t, 45*time.Second, cfg.Render.JobTimeout)
	assert.Equal(t, domain.RenderModeFramePipe, cfg.DefaultMode())
	assert.Equal(t, 18, cfg.FFmpeg.CRF)
	assert.Equal(t, 2*time.Second, cfg.FFmpeg.KillGrace)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/scratch", cfg.WorkDir())
	assert.True(t, cfg.Server.AllowInputPaths)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := inEmptyDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MAX_CONCURRENT_RENDERS=3\nVIDEO_PRESET=veryfast\n"), 0o644))
	// godotenv never overrides a variable that is already present, even empty.
	require.NoError(t, os.Unsetenv("MAX_CONCURRENT_RENDERS"))
	require.NoError(t, os.Unsetenv("VIDEO_PRESET"))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Render.MaxConcurrent)
	assert.Equal(t, "veryfast", cfg.FFmpeg.Preset)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    string
	}{
		{"PORT", "http", "invalid PORT"},
		{"PORT", "70000", "out of range"},
		{"JOB_TIMEOUT", "forever", "invalid JOB_TIMEOUT"},
		{"KILL_GRACE", "5", "invalid KILL_GRACE"},
		{"MAX_CONCURRENT_RENDERS", "0", "max concurrent"},
		{"VIDEO_CRF", "60", "crf"},
		{"STORE", "postgres", "store must be"},
		{"DEFAULT_RENDER_MODE", "hologram", "unknown default render mode"},
		{"LOG_FORMAT", "xml", "log format"},
		{"ALLOW_INPUT_PATHS", "sometimes", "invalid ALLOW_INPUT_PATHS"},
		{"SUBMIT_RATE_LIMIT", "-1", "rate limit"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			inEmptyDir(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load("")
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	dir := inEmptyDir(t)

	_, err := Load(filepath.Join(dir, "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := inEmptyDir(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config file")
}

func TestFromContext(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = 1234

	ctx := WithConfig(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
	assert.Equal(t, 7890, FromContext(context.Background()).Server.Port)
}

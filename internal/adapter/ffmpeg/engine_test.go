package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/port"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{
			name:    "valid path",
			path:    "/tmp/video.mp4",
			wantErr: nil,
		},
		{
			name:    "valid path with spaces",
			path:    "/tmp/my video.mp4",
			wantErr: nil,
		},
		{
			name:    "valid relative path",
			path:    "video.mp4",
			wantErr: nil,
		},
		{
			name:    "empty path",
			path:    "",
			wantErr: ErrEmptyPath,
		},
		{
			name:    "path with null byte at start",
			path:    "\x00/tmp/video.mp4",
			wantErr: ErrInvalidPath,
		},
		{
			name:    "path with null byte in middle",
			path:    "/tmp/\x00video.mp4",
			wantErr: ErrInvalidPath,
		},
		{
			name:    "path with null byte at end",
			path:    "/tmp/video.mp4\x00",
			wantErr: ErrInvalidPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePath(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePath(%q) = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestProber_Probe_PathValidation(t *testing.T) {
	p := NewProber("ffprobe")

	tests := []struct {
		name      string
		inputPath string
	}{
		{name: "empty input path", inputPath: ""},
		{name: "null byte in input path", inputPath: "/tmp/\x00video.mp4"},
		{name: "missing file", inputPath: filepath.Join(t.TempDir(), "missing.mp4")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Probe(context.Background(), tt.inputPath)
			assert.ErrorIs(t, err, domain.ErrInputNotFound)
		})
	}
}

func TestParseProbeOutput(t *testing.T) {
	output := []byte(`{
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
			 "r_frame_rate": "60/1", "avg_frame_rate": "60/1"},
			{"index": 1, "codec_type": "audio", "codec_name": "aac"}
		],
		"format": {"duration": "1832.480000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
	}`)

	info, err := parseProbeOutput(output)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoInfo{Duration: 1832.48, Width: 1920, Height: 1080, FrameRate: 60, HasAudio: true}, info)

	_, err = parseProbeOutput([]byte("not json"))
	assert.ErrorIs(t, err, domain.ErrInvalidVideo)

	_, err = parseProbeOutput([]byte(`{"streams": [{"codec_type": "audio"}], "format": {"duration": "10"}}`))
	assert.ErrorIs(t, err, domain.ErrInvalidVideo)
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		line   string
		want   float64
		wantOK bool
	}{
		{line: "out_time_us=1500000", want: 1.5, wantOK: true},
		{line: "out_time_ms=2500000", want: 2.5, wantOK: true},
		{line: "out_time=00:01:02.500000", want: 62.5, wantOK: true},
		{line: "out_time_us=N/A", wantOK: false},
		{line: "out_time=-00:00:00.023220", wantOK: false},
		{line: "out_time=-00:00:05.000000", wantOK: false},
		{line: "out_time=00:-01:00.000000", wantOK: false},
		{line: "out_time_us=-23220", wantOK: false},
		{line: "out_time=1:02", wantOK: false},
		{line: "frame=120", wantOK: false},
		{line: "progress=continue", wantOK: false},
		{line: "garbage", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseProgressLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := parseTimestamp("01:02:03.250000")
	require.NoError(t, err)
	assert.InDelta(t, 3723.25, got, 1e-9)

	_, err = parseTimestamp("-00:00:00.5")
	assert.Error(t, err)

	_, err = parseTimestamp("00:xx:00")
	assert.Error(t, err)
}

func TestTailBuffer_KeepsLastLines(t *testing.T) {
	b := newTailBuffer(3)
	_, _ = b.Write([]byte("one\ntwo\nthr"))
	_, _ = b.Write([]byte("ee\nfour\n\nfive"))

	assert.Equal(t, "two\nthree\nfour\nfive", b.String())
}

// writeFakeFFmpeg installs a shell script standing in for ffmpeg.
func writeFakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg script requires a POSIX shell")
	}

	script := `#!/bin/sh
for last; do :; done
case "$*" in
*hang*)
	exec sleep 30
	;;
*fail*)
	echo "Input #0, mov,mp4" >&2
	echo "moov atom not found" >&2
	exit 1
	;;
*stdin*)
	exec cat > "$last"
	;;
esac
echo "frame=1"
echo "out_time_us=500000"
echo "progress=continue"
echo "out_time_us=1000000"
echo "progress=end"
exit 0
`
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestEngine_Run_ReportsProgress(t *testing.T) {
	e := NewEngine(EngineConfig{FFmpegPath: writeFakeFFmpeg(t)})

	var mu sync.Mutex
	var seen []float64
	err := e.Run(context.Background(), port.Invocation{
		Args: []string{"-i", "in.mp4", "out.mp4"},
		OnProgress: func(s float64) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, s)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.0}, seen)
}

func TestEngine_Run_EncodingFailedCarriesDiagnostic(t *testing.T) {
	e := NewEngine(EngineConfig{FFmpegPath: writeFakeFFmpeg(t)})

	err := e.Run(context.Background(), port.Invocation{Args: []string{"-i", "fail.mp4", "out.mp4"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEncodingFailed)
	var encErr *domain.EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Contains(t, encErr.Diagnostic, "moov atom not found")
}

func TestEngine_Run_StreamsStdin(t *testing.T) {
	e := NewEngine(EngineConfig{FFmpegPath: writeFakeFFmpeg(t)})
	out := filepath.Join(t.TempDir(), "frames.raw")

	err := e.Run(context.Background(), port.Invocation{
		Args:  []string{"-f", "rawvideo", "-i", "pipe:0", "stdin", out},
		Stdin: strings.NewReader("frame-bytes"),
	})

	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "frame-bytes", string(data))
}

func TestEngine_Run_CancelStopsProcess(t *testing.T) {
	e := NewEngine(EngineConfig{FFmpegPath: writeFakeFFmpeg(t), KillGrace: 200 * time.Millisecond})

	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(100*time.Millisecond, func() { cancel(domain.ErrCancelled) })

	start := time.Now()
	err := e.Run(ctx, port.Invocation{Args: []string{"hang", "out.mp4"}})

	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestEngine_Run_NoArgs(t *testing.T) {
	e := NewEngine(EngineConfig{})
	assert.Error(t, e.Run(context.Background(), port.Invocation{}))
}

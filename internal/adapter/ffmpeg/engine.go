package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/infrastructure/logger"
	"github.com/bnema/lapclock/internal/port"
)

const (
	DefaultKillGrace = 5 * time.Second
	diagnosticLines  = 40
)

// EngineConfig configures the ffmpeg engine. Zero values fall back to
// "ffmpeg" on PATH and DefaultKillGrace.
type EngineConfig struct {
	FFmpegPath string
	// KillGrace is how long ffmpeg gets to exit after an interrupt before it is killed.
	KillGrace time.Duration
}

// Engine runs ffmpeg as a subprocess and reports its progress.
type Engine struct {
	path      string
	killGrace time.Duration
	log       zerolog.Logger
}

// NewEngine creates an engine that runs the configured ffmpeg binary.
func NewEngine(cfg EngineConfig) *Engine {
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	grace := cfg.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	return &Engine{
		path:      path,
		killGrace: grace,
		log:       logger.WithComponent("ffmpeg"),
	}
}

// Run executes ffmpeg with inv.Args, prefixed with flags that route
// machine-readable progress to stdout. inv.Stdin, when set, becomes the
// process stdin. Cancelling ctx interrupts ffmpeg and kills it after the kill
// grace period; the returned error then wraps the context cause. A non-zero
// exit returns a *domain.EncodingError carrying the stderr tail.
func (e *Engine) Run(ctx context.Context, inv port.Invocation) error {
	if len(inv.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	args := append([]string{"-hide_banner", "-nostats", "-y", "-progress", "pipe:1"}, inv.Args...)
	e.log.Debug().Strs("args", args).Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.Cancel = func() error {
		// ffmpeg finalizes its output on SIGINT; fall back to kill where
		// interrupts are unsupported.
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = e.killGrace
	if inv.Stdin != nil {
		cmd.Stdin = inv.Stdin
	}

	stderr := newTailBuffer(diagnosticLines)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &domain.EncodingError{Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	parseProgress(stdout, inv.OnProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", context.Cause(ctx))
		}
		return &domain.EncodingError{Diagnostic: stderr.String(), Err: err}
	}

	e.log.Debug().Msg("ffmpeg execution completed")
	return nil
}

// parseProgress consumes ffmpeg's -progress key=value stream until EOF.
func parseProgress(r io.Reader, onProgress func(float64)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		seconds, ok := parseProgressLine(scanner.Text())
		if ok && onProgress != nil {
			onProgress(seconds)
		}
	}
	// Drain so ffmpeg never blocks on a full stdout pipe.
	_, _ = io.Copy(io.Discard, r)
}

func parseProgressLine(line string) (float64, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found || value == "N/A" {
		return 0, false
	}

	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports microseconds under both keys.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return float64(us) / 1e6, true
	case "out_time":
		// Early audio priming is printed as -00:00:00.xx; ParseFloat would
		// drop the sign of -00.
		if strings.HasPrefix(value, "-") {
			return 0, false
		}
		seconds, err := parseTimestamp(value)
		if err != nil || seconds < 0 {
			return 0, false
		}
		return seconds, true
	}
	return 0, false
}

// parseTimestamp parses HH:MM:SS.micro as printed by ffmpeg.
func parseTimestamp(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp format: %s", s)
	}
	var total float64
	for i, mult := range []float64{3600, 60, 1} {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil || strings.HasPrefix(parts[i], "-") {
			return 0, fmt.Errorf("invalid timestamp format: %s", s)
		}
		total += v * mult
	}
	return total, nil
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{max: n}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append(b.partial, p...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		b.push(string(bytes.TrimRight(data[:idx], "\r")))
		data = data[idx+1:]
	}
	b.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (b *tailBuffer) push(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.lines
	if len(b.partial) > 0 {
		out = append(append([]string(nil), out...), string(b.partial))
	}
	return strings.Join(out, "\n")
}

var _ port.Transcoder = (*Engine)(nil)

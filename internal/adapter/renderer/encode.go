package renderer

import (
	"math"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bnema/lapclock/internal/infrastructure/logger"
	"github.com/bnema/lapclock/internal/port"
)

const (
	DefaultCRF    = 23
	DefaultPreset = "medium"
)

// EncodeSettings are the H.264 output parameters shared by every strategy.
type EncodeSettings struct {
	CRF     int
	Preset  string
	Threads int
}

// DefaultEncodeSettings is libx264 at CRF 23, preset medium.
func DefaultEncodeSettings() EncodeSettings {
	return EncodeSettings{CRF: DefaultCRF, Preset: DefaultPreset}
}

func (s EncodeSettings) args(outputPath string) []string {
	crf := s.CRF
	if crf <= 0 {
		crf = DefaultCRF
	}
	preset := s.Preset
	if preset == "" {
		preset = DefaultPreset
	}

	args := []string{
		"-c:v", "libx264",
		"-crf", strconv.Itoa(crf),
		"-preset", preset,
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
	}
	if s.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(s.Threads))
	}
	return append(args, outputPath)
}

// Options configures the renderer strategies.
type Options struct {
	Engine port.Transcoder
	Encode EncodeSettings
	// FontFile overrides the embedded overlay font when set.
	FontFile string
	// WorkDir holds temporary frame directories. Empty means os.TempDir.
	WorkDir string
}

func (o Options) logger(mode string) zerolog.Logger {
	return logger.WithComponent("renderer").With().Str("mode", mode).Logger()
}

// progressReporter clamps fractions to [0, 1] and drops anything that would
// move progress backwards.
type progressReporter struct {
	mu   sync.Mutex
	fn   port.ProgressFunc
	last float64
}

func newProgressReporter(fn port.ProgressFunc) *progressReporter {
	return &progressReporter{fn: fn}
}

func (p *progressReporter) report(fraction float64) {
	if p.fn == nil || math.IsNaN(fraction) {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if fraction <= p.last {
		return
	}
	p.last = fraction
	p.fn(fraction)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

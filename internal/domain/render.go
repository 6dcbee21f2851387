package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// RenderMode names a renderer strategy.
type RenderMode string

const (
	RenderModeFilterGraph RenderMode = "filtergraph"
	RenderModeFramePipe   RenderMode = "framepipe"
	RenderModeImageSeq    RenderMode = "imageseq"
)

// ParseMode normalizes a user supplied mode name. Unknown names return ""
// and the caller decides the fallback.
func ParseMode(s string) RenderMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "filtergraph", "filter-graph", "filter", "drawtext":
		return RenderModeFilterGraph
	case "framepipe", "frame-pipe", "pipe":
		return RenderModeFramePipe
	case "imageseq", "image-sequence", "sequence", "images":
		return RenderModeImageSeq
	default:
		return ""
	}
}

// VideoInfo is the subset of probe metadata a render needs.
type VideoInfo struct {
	Duration  float64 `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frame_rate"`
	HasAudio  bool    `json:"has_audio"`
}

// Window is the half-open interval [Start, End) of a lap in source video seconds.
type Window struct {
	Lap   int
	Start float64
	End   float64
}

// RenderContext is the immutable input shared by every renderer strategy.
type RenderContext struct {
	sourcePath   string
	outputPath   string
	video        VideoInfo
	laps         []Lap
	sessionStart float64
}

// NewRenderContext validates the inputs and copies laps so later changes by
// the caller are not visible to renderers. sessionStart is the video time at
// which the first lap begins.
func NewRenderContext(sourcePath, outputPath string, video VideoInfo, laps []Lap, sessionStart float64) (*RenderContext, error) {
	if sourcePath == "" || outputPath == "" {
		return nil, fmt.Errorf("source and output paths are required: %w", ErrInvalidVideo)
	}
	if video.Duration <= 0 || video.FrameRate <= 0 || video.Width <= 0 || video.Height <= 0 {
		return nil, fmt.Errorf("duration=%.3f fps=%.3f size=%dx%d: %w",
			video.Duration, video.FrameRate, video.Width, video.Height, ErrInvalidVideo)
	}
	if sessionStart < 0 || math.IsNaN(sessionStart) {
		return nil, fmt.Errorf("session start %.3f: %w", sessionStart, ErrInvalidLapData)
	}

	owned := make([]Lap, len(laps))
	for i, l := range laps {
		changes := make([]PositionChange, len(l.PositionChanges))
		copy(changes, l.PositionChanges)
		l.PositionChanges = changes
		owned[i] = l
	}

	return &RenderContext{
		sourcePath:   sourcePath,
		outputPath:   outputPath,
		video:        video,
		laps:         owned,
		sessionStart: sessionStart,
	}, nil
}

func (rc *RenderContext) SourcePath() string    { return rc.sourcePath }
func (rc *RenderContext) OutputPath() string    { return rc.outputPath }
func (rc *RenderContext) Video() VideoInfo      { return rc.video }
func (rc *RenderContext) SessionStart() float64 { return rc.sessionStart }
func (rc *RenderContext) LapCount() int         { return len(rc.laps) }

// Laps returns a copy of the timeline.
func (rc *RenderContext) Laps() []Lap {
	out := make([]Lap, len(rc.laps))
	copy(out, rc.laps)
	return out
}

// Lap returns the i-th lap without copying the whole timeline.
func (rc *RenderContext) Lap(i int) Lap {
	return rc.laps[i]
}

// Windows returns each lap's active interval in source video time.
func (rc *RenderContext) Windows() []Window {
	windows := make([]Window, len(rc.laps))
	for i, l := range rc.laps {
		start := rc.sessionStart + l.StartOffset
		windows[i] = Window{Lap: i, Start: start, End: start + l.Duration}
	}
	return windows
}

// FrameCount is the number of output frames for the whole source video.
func (rc *RenderContext) FrameCount() int {
	return int(math.Ceil(rc.video.Duration * rc.video.FrameRate))
}

// FrameTime returns the source video timestamp of frame i.
func (rc *RenderContext) FrameTime(i int) float64 {
	return float64(i) / rc.video.FrameRate
}

// LapAtVideoTime maps a source video timestamp onto the lap being driven.
func (rc *RenderContext) LapAtVideoTime(t float64) (int, bool) {
	return LapAt(rc.laps, t-rc.sessionStart)
}

// windowEpsilon absorbs float error from summing durations.
const windowEpsilon = 1e-9

// ValidateWindows fails with ErrOverlappingWindows when two windows intersect.
func ValidateWindows(windows []Window) error {
	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Start < prev.End-windowEpsilon {
			return fmt.Errorf("lap %d [%.3f, %.3f) overlaps lap %d [%.3f, %.3f): %w",
				prev.Lap, prev.Start, prev.End, cur.Lap, cur.Start, cur.End, ErrOverlappingWindows)
		}
	}
	return nil
}

package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/port"
)

// Prober reads container and stream metadata with ffprobe.
type Prober struct {
	path string
}

// NewProber uses ffprobePath, or "ffprobe" on PATH when empty.
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{path: ffprobePath}
}

// Probe returns the render metadata of inputPath. A missing file is
// domain.ErrInputNotFound; anything ffprobe cannot describe as a video is
// domain.ErrInvalidVideo.
func (p *Prober) Probe(ctx context.Context, inputPath string) (domain.VideoInfo, error) {
	if err := validatePath(inputPath); err != nil {
		return domain.VideoInfo{}, fmt.Errorf("invalid input path: %w: %w", err, domain.ErrInputNotFound)
	}
	if _, err := os.Stat(inputPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.VideoInfo{}, fmt.Errorf("%s: %w", inputPath, domain.ErrInputNotFound)
		}
		return domain.VideoInfo{}, fmt.Errorf("stat input: %w", err)
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}
	output, err := exec.CommandContext(ctx, p.path, args...).Output()
	if err != nil {
		return domain.VideoInfo{}, fmt.Errorf("ffprobe failed: %v: %w", err, domain.ErrInvalidVideo)
	}

	return parseProbeOutput(output)
}

func parseProbeOutput(output []byte) (domain.VideoInfo, error) {
	var probe domain.ProbeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return domain.VideoInfo{}, fmt.Errorf("failed to parse ffprobe output: %v: %w", err, domain.ErrInvalidVideo)
	}
	return probe.VideoInfo()
}

var _ port.Prober = (*Prober)(nil)

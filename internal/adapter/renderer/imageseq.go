package renderer

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/port"
)

const (
	framePattern = "frame_%06d.png"
	// paintShare is the part of the progress bar spent writing frames.
	paintShare = 0.7
)

// ImageSequenceRenderer writes the overlay as a PNG sequence in a temporary
// directory, then has ffmpeg composite it over the source.
type ImageSequenceRenderer struct {
	engine   port.Transcoder
	encode   EncodeSettings
	fontFile string
	workDir  string
	log      zerolog.Logger
}

// NewImageSequence returns a renderer that writes numbered PNG frames to a
// scratch directory and encodes them over the source afterwards.
func NewImageSequence(opts Options) *ImageSequenceRenderer {
	return &ImageSequenceRenderer{
		engine:   opts.Engine,
		encode:   opts.Encode,
		fontFile: opts.FontFile,
		workDir:  opts.WorkDir,
		log:      opts.logger(string(domain.RenderModeImageSeq)),
	}
}

func (r *ImageSequenceRenderer) Mode() domain.RenderMode { return domain.RenderModeImageSeq }

// Render writes the frame sequence, then runs a single overlay encode. The
// scratch directory is removed on every exit path.
func (r *ImageSequenceRenderer) Render(ctx context.Context, rc *domain.RenderContext, onProgress port.ProgressFunc) (string, error) {
	if err := domain.ValidateWindows(rc.Windows()); err != nil {
		return "", fmt.Errorf("imageseq: %w", err)
	}

	dir, err := os.MkdirTemp(r.workDir, "lapclock-frames-*")
	if err != nil {
		return "", fmt.Errorf("imageseq: create frame dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.log.Warn().Err(err).Str("dir", dir).Msg("failed to remove frame directory")
		}
	}()

	progress := newProgressReporter(onProgress)

	if err := r.writeSequence(ctx, dir, rc, progress); err != nil {
		return "", fmt.Errorf("imageseq: %w", err)
	}

	video := rc.Video()
	args := []string{
		"-i", rc.SourcePath(),
		"-framerate", formatRate(video.FrameRate),
		"-i", filepath.Join(dir, framePattern),
		"-filter_complex", "[0:v][1:v]overlay=0:0[v]",
		"-map", "[v]",
		"-map", "0:a?",
	}
	args = append(args, r.encode.args(rc.OutputPath())...)

	err = r.engine.Run(ctx, port.Invocation{
		Args: args,
		OnProgress: func(outTime float64) {
			progress.report(paintShare + (1-paintShare)*outTime/video.Duration)
		},
	})
	if err != nil {
		return "", fmt.Errorf("imageseq: %w", err)
	}
	progress.report(1)
	return rc.OutputPath(), nil
}

func (r *ImageSequenceRenderer) writeSequence(ctx context.Context, dir string, rc *domain.RenderContext, progress *progressReporter) error {
	video := rc.Video()
	painter, err := NewPainter(video.Width, video.Height, r.fontFile)
	if err != nil {
		return err
	}
	defer painter.Close()

	frame := image.NewRGBA(image.Rect(0, 0, video.Width, video.Height))
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	total := rc.FrameCount()

	r.log.Debug().Int("frames", total).Str("dir", dir).Msg("writing frame sequence")

	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		painter.Paint(frame, StateAt(rc, rc.FrameTime(i)))
		if err := writePNG(enc, filepath.Join(dir, fmt.Sprintf(framePattern, i)), frame); err != nil {
			return err
		}
		progress.report(paintShare * float64(i+1) / float64(total))
	}
	return nil
}

func writePNG(enc *png.Encoder, path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame: %w", err)
	}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode frame: %w", err)
	}
	return f.Close()
}

package renderer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/port"
)

var errEngineExited = errors.New("engine exited")

// FramePipeRenderer paints every frame in process and streams raw RGBA into
// ffmpeg, which composites it over the source video.
type FramePipeRenderer struct {
	engine   port.Transcoder
	encode   EncodeSettings
	fontFile string
	log      zerolog.Logger
}

// NewFramePipe returns a renderer that paints every frame in process and
// streams them to ffmpeg as rawvideo on stdin.
func NewFramePipe(opts Options) *FramePipeRenderer {
	return &FramePipeRenderer{
		engine:   opts.Engine,
		encode:   opts.Encode,
		fontFile: opts.FontFile,
		log:      opts.logger(string(domain.RenderModeFramePipe)),
	}
}

func (r *FramePipeRenderer) Mode() domain.RenderMode { return domain.RenderModeFramePipe }

// Render paints and pipes one RGBA frame per output frame while ffmpeg
// overlays them on the source. The painter and the engine run under one
// errgroup, so a failure on either side stops the other.
func (r *FramePipeRenderer) Render(ctx context.Context, rc *domain.RenderContext, onProgress port.ProgressFunc) (string, error) {
	if err := domain.ValidateWindows(rc.Windows()); err != nil {
		return "", fmt.Errorf("framepipe: %w", err)
	}

	video := rc.Video()
	painter, err := NewPainter(video.Width, video.Height, r.fontFile)
	if err != nil {
		return "", fmt.Errorf("framepipe: %w", err)
	}
	defer painter.Close()

	args := []string{
		"-i", rc.SourcePath(),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", video.Width, video.Height),
		"-framerate", formatRate(video.FrameRate),
		"-i", "pipe:0",
		"-filter_complex", "[0:v][1:v]overlay=0:0:shortest=1[v]",
		"-map", "[v]",
		"-map", "0:a?",
	}
	args = append(args, r.encode.args(rc.OutputPath())...)

	progress := newProgressReporter(onProgress)
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := r.engine.Run(gctx, port.Invocation{Args: args, Stdin: pr})
		// Unblock a writer stuck on a frame nobody will read.
		pr.CloseWithError(errEngineExited)
		return err
	})

	g.Go(func() error {
		err := writeFrames(gctx, pw, rc, painter, progress)
		pw.CloseWithError(err)
		if errors.Is(err, errEngineExited) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("framepipe: %w", err)
	}
	progress.report(1)
	return rc.OutputPath(), nil
}

// writeFrames paints and writes one frame at a time. Write blocks until the
// engine has consumed the frame, so generation never runs ahead of encoding.
func writeFrames(ctx context.Context, w io.Writer, rc *domain.RenderContext, painter *Painter, progress *progressReporter) error {
	video := rc.Video()
	frame := image.NewRGBA(image.Rect(0, 0, video.Width, video.Height))
	total := rc.FrameCount()

	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		painter.Paint(frame, StateAt(rc, rc.FrameTime(i)))
		if _, err := w.Write(frame.Pix); err != nil {
			return err
		}
		progress.report(float64(i+1) / float64(total))
	}
	return nil
}

package renderer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/port"
)

// FilterGraphRenderer burns the overlay in with a single ffmpeg drawtext
// chain. No frames are generated in process.
type FilterGraphRenderer struct {
	engine   port.Transcoder
	encode   EncodeSettings
	fontFile string
	log      zerolog.Logger
}

// NewFilterGraph returns the drawtext renderer. opts.FontFile, when set, is
// passed to every drawtext filter.
func NewFilterGraph(opts Options) *FilterGraphRenderer {
	return &FilterGraphRenderer{
		engine:   opts.Engine,
		encode:   opts.Encode,
		fontFile: opts.FontFile,
		log:      opts.logger(string(domain.RenderModeFilterGraph)),
	}
}

func (r *FilterGraphRenderer) Mode() domain.RenderMode { return domain.RenderModeFilterGraph }

// Render encodes rc.SourcePath() to rc.OutputPath() in a single ffmpeg run.
// Progress follows ffmpeg's out_time against the source duration.
func (r *FilterGraphRenderer) Render(ctx context.Context, rc *domain.RenderContext, onProgress port.ProgressFunc) (string, error) {
	graph, err := FilterGraph(rc, r.fontFile)
	if err != nil {
		return "", fmt.Errorf("filtergraph: %w", err)
	}

	args := append([]string{"-i", rc.SourcePath(), "-vf", graph}, r.encode.args(rc.OutputPath())...)
	duration := rc.Video().Duration
	progress := newProgressReporter(onProgress)

	r.log.Debug().Int("laps", rc.LapCount()).Int("graph_len", len(graph)).Msg("starting drawtext render")

	err = r.engine.Run(ctx, port.Invocation{
		Args:       args,
		OnProgress: func(outTime float64) { progress.report(outTime / duration) },
	})
	if err != nil {
		return "", fmt.Errorf("filtergraph: %w", err)
	}
	progress.report(1)
	return rc.OutputPath(), nil
}

// FilterGraph builds the drawtext chain for rc. Each lap gets a label per
// position segment and a running clock, enabled only inside its window.
func FilterGraph(rc *domain.RenderContext, fontFile string) (string, error) {
	windows := rc.Windows()
	if err := domain.ValidateWindows(windows); err != nil {
		return "", err
	}
	if len(windows) == 0 {
		return "null", nil
	}

	style := drawtextStyle(rc.Video().Height, fontFile)
	margin := rc.Video().Height / 24
	lineY := margin + 2*fontSize(rc.Video().Height)

	filters := make([]string, 0, 2*len(windows))
	for i, w := range windows {
		lap := rc.Lap(i)

		for _, seg := range positionSegments(lap, w) {
			text := escapeDrawtext(fmt.Sprintf("LAP %d  P%d", lap.Number, seg.position))
			filters = append(filters, fmt.Sprintf("drawtext=%s:text='%s':x=%d:y=%d:enable='%s'",
				style, text, margin, margin, enableExpr(seg.start, seg.end)))
		}

		filters = append(filters, fmt.Sprintf("drawtext=%s:text='%s':x=%d:y=%d:enable='%s'",
			style, clockText(w.Start), margin, lineY, enableExpr(w.Start, w.End)))
	}
	return strings.Join(filters, ","), nil
}

type segment struct {
	start, end float64
	position   int
}

// positionSegments splits a lap window at each position change.
func positionSegments(lap domain.Lap, w domain.Window) []segment {
	segs := make([]segment, 0, len(lap.PositionChanges)+1)
	cur := segment{start: w.Start, position: lap.StartPosition}
	for _, c := range lap.PositionChanges {
		at := w.Start + c.Offset
		if at > cur.start {
			cur.end = at
			segs = append(segs, cur)
		}
		cur = segment{start: at, position: c.Position}
	}
	if w.End > cur.start {
		cur.end = w.End
		segs = append(segs, cur)
	}
	return segs
}

func enableExpr(start, end float64) string {
	return fmt.Sprintf("gte(t,%s)*lt(t,%s)", formatSeconds(start), formatSeconds(end))
}

// clockText renders M:SS:mmm of the time elapsed since start using drawtext
// expansions.
func clockText(start float64) string {
	e := "t-" + formatSeconds(start)
	return fmt.Sprintf(`%%{eif\:trunc((%s)/60)\:d}\:%%{eif\:mod(trunc(%s)\,60)\:d\:2}\:%%{eif\:mod(trunc((%s)*1000)\,1000)\:d\:3}`, e, e, e)
}

func fontSize(height int) int {
	size := height / 22
	if size < 12 {
		size = 12
	}
	return size
}

func drawtextStyle(height int, fontFile string) string {
	style := fmt.Sprintf("fontcolor=white:fontsize=%d:box=1:boxcolor=black@0.6:boxborderw=%d", fontSize(height), fontSize(height)/3)
	if fontFile != "" {
		style = fmt.Sprintf("fontfile='%s':%s", escapeDrawtext(fontFile), style)
	}
	return style
}

var drawtextEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `'\''`,
	`:`, `\:`,
	`%`, `\%`,
	`,`, `\,`,
)

func escapeDrawtext(s string) string {
	return drawtextEscaper.Replace(s)
}

package renderer

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/bnema/lapclock/internal/domain"
)

// EventFlash is how long, in seconds, a position change stays highlighted.
const EventFlash = 3.0

// OverlayState is what the overlay shows at one instant of the source video.
type OverlayState struct {
	Active   bool
	Lap      int
	Elapsed  float64
	Position int
	// Delta is the number of places gained (positive) or lost (negative) by
	// a change less than EventFlash seconds ago.
	Delta int
}

// StateAt computes the overlay for source video time t.
func StateAt(rc *domain.RenderContext, t float64) OverlayState {
	i, ok := rc.LapAtVideoTime(t)
	if !ok {
		return OverlayState{}
	}

	lap := rc.Lap(i)
	elapsed := t - rc.SessionStart() - lap.StartOffset
	state := OverlayState{
		Active:   true,
		Lap:      lap.Number,
		Elapsed:  elapsed,
		Position: lap.PositionAt(elapsed),
	}
	if change, previous, ok := lap.LastChangeBefore(elapsed); ok && elapsed-change.Offset < EventFlash {
		state.Delta = previous - change.Position
	}
	return state
}

var (
	panelColor = color.RGBA{A: 160}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gainColor  = color.RGBA{R: 64, G: 220, B: 96, A: 255}
	lossColor  = color.RGBA{R: 235, G: 64, B: 52, A: 255}
)

// Painter draws OverlayState onto transparent RGBA frames. A Painter is not
// safe for concurrent use.
type Painter struct {
	face    font.Face
	panel   image.Rectangle
	padding int
	line    fixed.Int26_6
	ascent  fixed.Int26_6
	dirty   bool
}

// NewPainter prepares a painter for width x height frames. An empty fontFile
// uses the embedded Go Regular face; a font that fails to load or parse is an
// error.
func NewPainter(width, height int, fontFile string) (*Painter, error) {
	data := goregular.TTF
	if fontFile != "" {
		b, err := os.ReadFile(fontFile)
		if err != nil {
			return nil, fmt.Errorf("read font: %w", err)
		}
		data = b
	}

	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}

	size := float64(height) / 22
	if size < 12 {
		size = 12
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}

	metrics := face.Metrics()
	padding := int(size / 2)
	panelW := font.MeasureString(face, "00:00:000  +00").Ceil() + 2*padding
	panelH := 3*metrics.Height.Ceil() + 2*padding

	return &Painter{
		face:    face,
		panel:   image.Rect(padding, padding, padding+panelW, padding+panelH).Intersect(image.Rect(0, 0, width, height)),
		padding: padding,
		line:    metrics.Height,
		ascent:  metrics.Ascent,
	}, nil
}

// Close releases the font faces.
func (p *Painter) Close() error {
	return p.face.Close()
}

// Paint replaces the contents of dst with the overlay for st.
func (p *Painter) Paint(dst *image.RGBA, st OverlayState) {
	if !st.Active {
		if p.dirty {
			clear(dst.Pix)
			p.dirty = false
		}
		return
	}

	clear(dst.Pix)
	p.dirty = true
	draw.Draw(dst, p.panel, image.NewUniform(panelColor), image.Point{}, draw.Over)

	x := fixed.I(p.panel.Min.X + p.padding)
	y := fixed.I(p.panel.Min.Y+p.padding) + p.ascent

	p.text(dst, x, y, fmt.Sprintf("LAP %d", st.Lap), textColor)
	y += p.line
	p.text(dst, x, y, domain.FormatLapTime(st.Elapsed), textColor)
	y += p.line
	end := p.text(dst, x, y, fmt.Sprintf("P%d", st.Position), textColor)

	switch {
	case st.Delta > 0:
		p.text(dst, end+fixed.I(p.padding), y, fmt.Sprintf("+%d", st.Delta), gainColor)
	case st.Delta < 0:
		p.text(dst, end+fixed.I(p.padding), y, fmt.Sprintf("%d", st.Delta), lossColor)
	}
}

func (p *Painter) text(dst draw.Image, x, y fixed.Int26_6, s string, c color.Color) fixed.Int26_6 {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: p.face,
		Dot:  fixed.Point26_6{X: x, Y: y},
	}
	d.DrawString(s)
	return d.Dot.X
}

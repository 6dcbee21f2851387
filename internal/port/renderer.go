package port

import (
	"context"

	"github.com/bnema/lapclock/internal/domain"
)

// ProgressFunc receives a render's completion fraction in [0, 1].
type ProgressFunc func(fraction float64)

// Renderer burns a telemetry overlay into the source video described by rc
// and returns the path of the produced file.
type Renderer interface {
	Mode() domain.RenderMode
	Render(ctx context.Context, rc *domain.RenderContext, onProgress ProgressFunc) (string, error)
}

package renderer

import (
	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/port"
)

// Set holds one renderer per mode.
type Set struct {
	byMode map[domain.RenderMode]port.Renderer
}

// NewSet indexes renderers by mode. A later renderer for the same mode
// replaces an earlier one.
func NewSet(renderers ...port.Renderer) *Set {
	s := &Set{byMode: make(map[domain.RenderMode]port.Renderer, len(renderers))}
	for _, r := range renderers {
		s.byMode[r.Mode()] = r
	}
	return s
}

// NewDefaultSet constructs all three strategies around one engine.
func NewDefaultSet(opts Options) *Set {
	return NewSet(NewFilterGraph(opts), NewFramePipe(opts), NewImageSequence(opts))
}

// Select returns the renderer for mode. Unknown or empty modes fall back to
// the filter-graph strategy.
func (s *Set) Select(mode domain.RenderMode) port.Renderer {
	if r, ok := s.byMode[mode]; ok {
		return r
	}
	return s.byMode[domain.RenderModeFilterGraph]
}

// Resolve reports the mode Select would actually use.
func (s *Set) Resolve(mode domain.RenderMode) domain.RenderMode {
	if _, ok := s.byMode[mode]; ok {
		return mode
	}
	return domain.RenderModeFilterGraph
}

// Select is a convenience for one-off lookups without building a Set.
func Select(mode domain.RenderMode, renderers ...port.Renderer) port.Renderer {
	return NewSet(renderers...).Select(mode)
}

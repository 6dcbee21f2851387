package port

import (
	"context"
	"io"

	"github.com/bnema/lapclock/internal/domain"
)

// Invocation is a single run of the external transcoding engine.
type Invocation struct {
	Args []string
	// Stdin, when set, is streamed into the engine's standard input.
	Stdin io.Reader
	// OnProgress receives the output timestamp, in seconds, reached so far.
	OnProgress func(outTime float64)
}

// Transcoder runs one ffmpeg invocation to completion.
type Transcoder interface {
	Run(ctx context.Context, inv Invocation) error
}

// Prober describes a source video.
type Prober interface {
	Probe(ctx context.Context, path string) (domain.VideoInfo, error)
}

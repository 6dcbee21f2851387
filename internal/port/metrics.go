package port

import (
	"time"

	"github.com/bnema/lapclock/internal/domain"
)

type Metrics interface {
	JobSubmitted(mode domain.RenderMode)
	JobFinished(mode domain.RenderMode, status domain.JobStatus, kind domain.ErrorKind, elapsed time.Duration)
	SetQueueDepth(active, queued int)
}

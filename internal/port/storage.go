package port

import "github.com/bnema/lapclock/internal/domain"

// JobStore persists render jobs. Get returns domain.ErrNotFound for unknown ids.
type JobStore interface {
	Create(job *domain.RenderJob) error
	Update(job *domain.RenderJob) error
	Get(id string) (*domain.RenderJob, error)
	List() ([]*domain.RenderJob, error)
	ListByStatus(statuses ...domain.JobStatus) ([]*domain.RenderJob, error)
	Delete(id string) error
}

// UploadStore indexes uploaded session videos.
type UploadStore interface {
	Add(u *domain.Upload) error
	Get(id string) (*domain.Upload, error)
	List() ([]*domain.Upload, error)
	// Remove deletes the uploaded file and its record.
	Remove(id string) error
}

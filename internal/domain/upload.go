package domain

import (
	"time"

	"github.com/google/uuid"
)

// Upload is a raw session video handed over by the upload store.
type Upload struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUpload assigns a fresh id and the current UTC time.
func NewUpload(filename, path string, size int64) *Upload {
	return &Upload{
		ID:        uuid.NewString(),
		Filename:  filename,
		Path:      path,
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}
}

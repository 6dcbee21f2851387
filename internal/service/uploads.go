package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/infrastructure/logger"
	"github.com/bnema/lapclock/internal/port"
)

// UploadService moves incoming session videos into the data directory and
// registers them with the upload store.
type UploadService struct {
	store     port.UploadStore
	uploadDir string
	log       zerolog.Logger
}

// NewUploadService stores files under <dataDir>/uploads.
func NewUploadService(store port.UploadStore, dataDir string) *UploadService {
	return &UploadService{
		store:     store,
		uploadDir: filepath.Join(dataDir, "uploads"),
		log:       logger.WithComponent("uploads"),
	}
}

// Add copies src into the upload directory. filename must already be
// sanitized; it is kept for display and output naming only.
func (s *UploadService) Add(filename string, src io.Reader) (*domain.Upload, error) {
	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		s.log.Error().Err(err).Msg("failed to create upload directory")
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	upload := domain.NewUpload(filename, "", 0)
	upload.Path = filepath.Join(s.uploadDir, upload.ID+strings.ToLower(filepath.Ext(filename)))

	dst, err := os.OpenFile(upload.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}
	size, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(upload.Path)
		s.log.Error().Err(err).Str("filename", logger.SanitizeForLog(filename)).Msg("failed to save upload")
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}
	upload.Size = size

	if err := s.store.Add(upload); err != nil {
		os.Remove(upload.Path)
		s.log.Error().Err(err).Str("upload_id", upload.ID).Msg("failed to save upload metadata")
		return nil, fmt.Errorf("failed to save upload metadata: %w", err)
	}

	s.log.Info().
		Str("upload_id", upload.ID).
		Str("filename", logger.SanitizeForLog(filename)).
		Int64("size", size).
		Msg("upload stored")
	return upload, nil
}

func (s *UploadService) Get(id string) (*domain.Upload, error) {
	return s.store.Get(id)
}

func (s *UploadService) List() ([]*domain.Upload, error) {
	return s.store.List()
}

func (s *UploadService) Remove(id string) error {
	return s.store.Remove(id)
}

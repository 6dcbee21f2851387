package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/port"
)

// UploadStore keeps upload records in uploads.json. Every mutation rewrites
// the file through a temporary file and a rename.
type UploadStore struct {
	mu      sync.RWMutex
	path    string
	uploads map[string]*domain.Upload
}

// NewUploadStore loads <dataDir>/uploads.json. A missing index starts empty.
func NewUploadStore(dataDir string) (*UploadStore, error) {
	path := filepath.Join(dataDir, "uploads.json")

	store := &UploadStore{
		path:    path,
		uploads: make(map[string]*domain.Upload),
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return store, nil
}

func (s *UploadStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	var list []*domain.Upload
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}

	for _, u := range list {
		s.uploads[u.ID] = u
	}

	return nil
}

func (s *UploadStore) save() error {
	tmpPath := s.path + ".tmp"

	data, err := json.MarshalIndent(s.sorted(), "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}

func (s *UploadStore) sorted() []*domain.Upload {
	list := make([]*domain.Upload, 0, len(s.uploads))
	for _, u := range s.uploads {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

func (s *UploadStore) Add(u *domain.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	s.uploads[u.ID] = &cp
	return s.save()
}

func (s *UploadStore) Get(id string) (*domain.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.uploads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	cp := *u
	return &cp, nil
}

func (s *UploadStore) List() ([]*domain.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.sorted()
	out := make([]*domain.Upload, len(list))
	for i, u := range list {
		cp := *u
		out[i] = &cp
	}
	return out, nil
}

// Remove deletes the uploaded file, then its record. A file that is already
// gone is not an error.
func (s *UploadStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[id]
	if !ok {
		return domain.ErrNotFound
	}

	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload file: %w", err)
	}

	delete(s.uploads, id)
	return s.save()
}

var _ port.UploadStore = (*UploadStore)(nil)

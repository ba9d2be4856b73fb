package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/hashicorp/go-multierror"
	"github.com/labstack/gommon/log"
	"github.com/predictform/server/internal/models"
)

// ErrNotFound is returned when an ID does not name a stored file.
var ErrNotFound = errors.New("file not found")

// sniffLen is the header size filetype needs to match every known signature.
const sniffLen = 261

const fallbackContentType = "application/octet-stream"

// Store defines the interface for file storage.
type Store interface {
	Save(name, contentType string, r io.Reader) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	Open(id string) (io.ReadCloser, *models.FileInfo, error)
	Delete(id string) error
	// Sweep retries deletions that failed earlier.
	Sweep() error
}

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
	// pending holds paths whose removal failed; Sweep retries them.
	pending map[string]struct{}
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
		pending:   make(map[string]struct{}),
	}, nil
}

// Save saves a file to the local filesystem. When contentType is empty or
// generic, the type is sniffed from the file header.
func (s *LocalStore) Save(name, contentType string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(r, 512)
	head, _ := br.Peek(sniffLen)
	resolved := ResolveContentType(contentType, head)

	size, err := io.Copy(f, br)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:          id,
		Name:        name,
		ContentType: resolved,
		Size:        size,
		UploadedAt:  time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info

	return info, nil
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return info, nil
}

// Open returns a reader over the stored bytes. The caller closes it.
func (s *LocalStore) Open(id string) (io.ReadCloser, *models.FileInfo, error) {
	s.mu.RLock()
	info, ok := s.files[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	f, err := os.Open(filepath.Join(s.uploadDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	return f, info, nil
}

// Delete removes a file from storage. The ID is forgotten even when the
// removal fails; the path is then kept for Sweep.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.files, id)

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.pending[path] = struct{}{}
		return fmt.Errorf("deleting file: %w", err)
	}

	log.Debugf("deleted %s", id)
	return nil
}

// Sweep retries removal of files whose Delete failed.
func (s *LocalStore) Sweep() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for path := range s.pending {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, fmt.Errorf("deleting file: %w", err))
			continue
		}
		delete(s.pending, path)
		log.Debugf("deleted %s on retry", filepath.Base(path))
	}
	return errs
}

// PendingCount reports how many failed deletions await Sweep.
func (s *LocalStore) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// ResolveContentType keeps a specific supplied type and otherwise sniffs head.
func ResolveContentType(supplied string, head []byte) string {
	if supplied != "" && supplied != fallbackContentType {
		return supplied
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return fallbackContentType
	}
	return kind.MIME.Value
}

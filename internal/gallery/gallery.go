package gallery

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/types"
)

// seedTemplate is an empty pickled (encodings, names) pair.
//
//go:embed seed.pkl
var seedTemplate []byte

// Info describes the gallery blob on disk.
type Info struct {
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time,omitempty"`
	Usable  bool      `json:"usable"`
}

// Store owns the single encoding gallery file. Its content is opaque here;
// only the recognition engine reads or extends it.
type Store struct {
	path     string
	seedPath string
	logger   *zap.Logger
}

// New returns a Store for path. When seedPath is empty the bundled template is used.
func New(path, seedPath string, logger *zap.Logger) *Store {
	return &Store{
		path:     path,
		seedPath: seedPath,
		logger:   logger.Named("gallery"),
	}
}

func (s *Store) Path() string { return s.path }

// Ensure seeds the gallery when it is missing or zero length and returns its path.
// An existing non-empty gallery is left untouched.
func (s *Store) Ensure() (string, error) {
	info, err := os.Stat(s.path)
	switch {
	case err == nil && info.IsDir():
		return "", types.ErrGalleryAccess.WithError(fmt.Errorf("%s is a directory", s.path))
	case err == nil && info.Size() > 0:
		return s.path, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", types.ErrGalleryAccess.WithError(err)
	}

	seed, err := s.seed()
	if err != nil {
		return "", types.ErrGalleryAccess.WithError(err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return "", types.ErrGalleryAccess.WithError(fmt.Errorf("create gallery dir: %w", err))
	}
	if err := os.WriteFile(s.path, seed, 0o644); err != nil {
		return "", types.ErrGalleryAccess.WithError(fmt.Errorf("seed gallery: %w", err))
	}

	s.logger.Info("gallery seeded", zap.String("path", s.path), zap.Int("bytes", len(seed)))
	return s.path, nil
}

// Usable reports whether the gallery is a non-empty regular file that can be
// opened for reading and writing.
func (s *Store) Usable() bool {
	info, err := os.Stat(s.path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false
	}
	f, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		s.logger.Warn("gallery not writable", zap.String("path", s.path), zap.Error(err))
		return false
	}
	f.Close()
	return true
}

// Ready runs Ensure followed by Usable and fails with ErrGalleryAccess when
// the engine could not safely use the file.
func (s *Store) Ready() (string, error) {
	path, err := s.Ensure()
	if err != nil {
		return "", err
	}
	if !s.Usable() {
		return "", types.ErrGalleryAccess.WithError(fmt.Errorf("%s is not readable and writable", path))
	}
	return path, nil
}

func (s *Store) Info() (Info, error) {
	info := Info{Path: s.path}
	st, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return info, nil
	}
	if err != nil {
		return info, types.ErrGalleryAccess.WithError(err)
	}
	info.Exists = true
	info.Size = st.Size()
	info.ModTime = st.ModTime()
	info.Usable = s.Usable()
	return info, nil
}

// Reset deletes the gallery. A missing gallery is not an error.
func (s *Store) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return types.ErrGalleryAccess.WithError(err)
	}
	s.logger.Info("gallery removed", zap.String("path", s.path))
	return nil
}

func (s *Store) seed() ([]byte, error) {
	if s.seedPath == "" {
		return seedTemplate, nil
	}
	data, err := os.ReadFile(s.seedPath)
	if err != nil {
		return nil, fmt.Errorf("read seed template: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("seed template %s is empty", s.seedPath)
	}
	return data, nil
}

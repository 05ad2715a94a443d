package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore writes the mask next to its source image as
// mask.<image file name>.png. Revisions are counted from process start.
type FileStore struct {
	path string

	mu  sync.Mutex
	rev Revision
}

// MaskPath returns the file a FileStore uses for imagePath.
func MaskPath(imagePath string) string {
	dir, name := filepath.Split(imagePath)
	return filepath.Join(dir, fmt.Sprintf("mask.%s.png", name))
}

func OpenFile(imagePath string) (*FileStore, error) {
	if imagePath == "" {
		return nil, fmt.Errorf("empty image path")
	}
	s := &FileStore{path: MaskPath(imagePath)}
	if fi, err := os.Stat(s.path); err == nil {
		s.rev = Revision{Number: 1, At: fi.ModTime(), Size: int(fi.Size())}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return s, nil
}

// Path is the mask file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) ([]byte, Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Revision{}, ErrNoMask
	}
	if err != nil {
		return nil, Revision{}, fmt.Errorf("read mask file: %w", err)
	}
	return b, s.rev, nil
}

func (s *FileStore) Save(_ context.Context, png []byte, session string) (Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".mask-*.png")
	if err != nil {
		return Revision{}, fmt.Errorf("create mask file: %w", err)
	}
	if _, err := tmp.Write(png); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return Revision{}, fmt.Errorf("write mask file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return Revision{}, err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return Revision{}, fmt.Errorf("replace mask file: %w", err)
	}

	s.rev = Revision{Number: s.rev.Number + 1, Session: session, At: time.Now().UTC(), Size: len(png)}
	return s.rev, nil
}

func (s *FileStore) Close() error { return nil }

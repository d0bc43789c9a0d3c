package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store keeps submitted solution artifacts on disk under a single directory.
// Stored names embed a random uuid so resubmissions never collide.
type Store struct {
	Dir string
}

func New(dir string) (Store, error) {
	if dir == "" {
		return Store{}, fmt.Errorf("storage dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Store{}, fmt.Errorf("create storage dir: %w", err)
	}
	return Store{Dir: dir}, nil
}

// Save streams the artifact to disk and returns the stored name to persist
// on the task.
func (s Store) Save(taskID int64, filename string, r io.Reader) (string, error) {
	name := fmt.Sprintf("task_%d_%s_%s", taskID, uuid.New().String(), sanitize(filename))
	path := filepath.Join(s.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return name, nil
}

// Open returns the stored artifact for reading; os.IsNotExist holds for the
// returned error when the file is gone.
func (s Store) Open(name string) (*os.File, error) {
	return os.Open(filepath.Join(s.Dir, filepath.Base(name)))
}

// Remove deletes a stored artifact, ignoring missing files.
func (s Store) Remove(name string) error {
	err := os.Remove(filepath.Join(s.Dir, filepath.Base(name)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func sanitize(filename string) string {
	base := filepath.Base(filename)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
	if base == "" || base == "." {
		base = "artifact"
	}
	return base
}

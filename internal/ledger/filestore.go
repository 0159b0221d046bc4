package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the ledger document as a single file. Writes go to a
// temporary file in the same directory, are synced, then renamed over the
// target, so a crash mid-write never leaves a truncated ledger behind.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at the given path. The file is created on
// the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// ReadAll returns the file contents, or (nil, nil) if the file does not
// exist yet.
func (s *FileStore) ReadAll(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return data, nil
}

// WriteAll atomically replaces the file contents.
func (s *FileStore) WriteAll(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, s.path, err)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "rvbot/pkg/logx"
)

// fileStore keeps each document as <dir>/<name>.json with a sibling
// <dir>/<name>.bak.json. Writes go through a temp file and rename.
type fileStore struct {
	log logx.Logger
	dir string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) paths(kind Kind) (primary, backup string) {
	name := kind.DocName()
	return filepath.Join(s.dir, name+".json"), filepath.Join(s.dir, name+".bak.json")
}

func (s *fileStore) Load(ctx context.Context, kind Kind) ([]byte, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	primary, backup := s.paths(kind)
	b, perr := readDocument(primary, kind)
	if perr == nil {
		return b, nil
	}
	bb, berr := readDocument(backup, kind)
	if berr == nil {
		s.log.Warn("primary document unreadable, using backup", logx.String("kind", string(kind)), logx.Err(perr))
		return bb, nil
	}
	if errors.Is(perr, fs.ErrNotExist) && errors.Is(berr, fs.ErrNotExist) {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrStoreRead, kind, errors.Join(perr, berr))
}

// readDocument returns the file content if it decodes as kind.
func readDocument(path string, kind Kind) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := checkDocument(kind, b); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

func (s *fileStore) Save(ctx context.Context, kind Kind, data []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	primary, backup := s.paths(kind)
	if err := writeAtomic(primary, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreWrite, kind, err)
	}
	if err := writeAtomic(backup, data); err != nil {
		return fmt.Errorf("%w: %s backup: %w", ErrStoreWrite, kind, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) Close() error { return nil }

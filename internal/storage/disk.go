package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore writes images below dir; references look like "/uploads/<name>".
type DiskStore struct {
	dir    string
	prefix string
}

func NewDiskStore(dir, urlPrefix string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = "/uploads"
	}
	return &DiskStore{dir: dir, prefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (s *DiskStore) Dir() string { return s.dir }

func (s *DiskStore) Save(_ context.Context, name string, data []byte) (string, error) {
	name = filepath.Base(name)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", err
	}

	return s.prefix + "/" + name, nil
}

// Delete is idempotent: a file that is already gone is not an error.
func (s *DiskStore) Delete(_ context.Context, ref string) error {
	if !strings.HasPrefix(ref, s.prefix+"/") {
		return ErrUnknownRef
	}

	name := filepath.Base(strings.TrimPrefix(ref, s.prefix+"/"))
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

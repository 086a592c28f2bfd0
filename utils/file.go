package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalFile reads a catalog document from disk.
type LocalFile struct {
	Path string
}

// Fetch returns the file contents.
func (f *LocalFile) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(filepath.Clean(f.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	return body, nil
}

func (f *LocalFile) String() string {
	return "file://" + filepath.Clean(f.Path)
}

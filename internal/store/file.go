package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileKV implements KV as a single JSON document on disk.
type FileKV[T any] struct {
	path string
}

// NewFileKV returns a KV stored at dir/<bucket>.json.
func NewFileKV[T any](dir, bucket string) *FileKV[T] {
	return &FileKV[T]{path: filepath.Join(dir, bucket+".json")}
}

// Path returns the backing file path.
func (f *FileKV[T]) Path() string {
	return f.path
}

// Load reads the document. A missing or malformed file loads as empty.
func (f *FileKV[T]) Load(_ context.Context) (map[string]T, error) {
	data, err := os.ReadFile(f.path) // #nosec G304 - path is built from configured directory
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]T), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var records map[string]T
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("malformed store file, loading as empty", "path", f.path, "error", err)
		return make(map[string]T), nil
	}
	if records == nil {
		records = make(map[string]T)
	}
	return records, nil
}

// ReplaceAll writes records to a temp file and renames it over the document.
func (f *FileKV[T]) ReplaceAll(_ context.Context, records map[string]T) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0750); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	if records == nil {
		records = map[string]T{}
	}

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.path, err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileWriter appends records as JSON lines to a log file. The file is opened
// lazily on first write so a sink with no traffic leaves no file behind.
type FileWriter struct {
	path string
	file *os.File
}

// NewFileWriter creates a writer targeting path. Parent directories are
// created on first write.
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Write appends one record as a single JSON line.
func (w *FileWriter) Write(rec Record) error {
	if w.file == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
			return fmt.Errorf("creating audit log directory: %w", err)
		}
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		w.file = f
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	return nil
}

// Close closes the underlying file if one was opened.
func (w *FileWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

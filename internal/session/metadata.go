package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Metadata is the durable record of a finished session.
type Metadata struct {
	RunID     string    `json:"run_id"`
	Prompt    string    `json:"prompt"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	HARFile   string    `json:"har_file"`

	Strategy string `json:"strategy,omitempty"`
	Driver   string `json:"driver,omitempty"`
	StartURL string `json:"start_url,omitempty"`
}

// WriteMetadata replaces the record at path. Readers never observe a
// partially written file.
func WriteMetadata(path string, m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".metadata-*.json")
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads a record written by WriteMetadata.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return &m, nil
}

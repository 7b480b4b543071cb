package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

const statusFileName = "status.json"

// FileStatusRegistry implements domain.StatusRecorder using a JSON file
// in the data directory.
type FileStatusRegistry struct {
	path string
}

// NewFileStatusRegistry creates a status registry in dataDir.
func NewFileStatusRegistry(dataDir string) *FileStatusRegistry {
	return &FileStatusRegistry{path: filepath.Join(dataDir, statusFileName)}
}

// NewFileStatusRegistryWithPath creates a registry at a specific path (for testing).
func NewFileStatusRegistryWithPath(path string) *FileStatusRegistry {
	return &FileStatusRegistry{path: path}
}

// Path returns the status file path.
func (r *FileStatusRegistry) Path() string {
	return r.path
}

// Record overwrites the snapshot.
func (r *FileStatusRegistry) Record(status domain.AgentStatus) error {
	if status.ActiveApps == nil {
		status.ActiveApps = []string{}
	}
	return atomicWriteJSON(r.path, status)
}

// Load returns the snapshot, or nil if the agent never recorded one.
func (r *FileStatusRegistry) Load() (*domain.AgentStatus, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var status domain.AgentStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("corrupt status file %s: %w", r.path, err)
	}
	return &status, nil
}

// Clear removes the status file.
func (r *FileStatusRegistry) Clear() error {
	err := os.Remove(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// atomicWriteJSON writes v to path atomically (write + rename).
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Unique per process to avoid racing a second instance.
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileStatusRegistry implements domain.StatusRecorder.
var _ domain.StatusRecorder = (*FileStatusRegistry)(nil)

package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

const settingsFileName = "settings.json"

// Settings keys.
const (
	KeyServerIP = "server_ip"
	KeyAgentID  = "agent_id"
)

// FileSettings implements domain.SettingsStore as a flat JSON object,
// rewritten atomically on every Set.
type FileSettings struct {
	mu   sync.Mutex
	path string
}

// NewFileSettings creates a settings store in dataDir.
func NewFileSettings(dataDir string) *FileSettings {
	return &FileSettings{path: filepath.Join(dataDir, settingsFileName)}
}

// NewFileSettingsWithPath creates a settings store at a specific path (for testing).
func NewFileSettingsWithPath(path string) *FileSettings {
	return &FileSettings{path: path}
}

// Path returns the settings file path.
func (s *FileSettings) Path() string {
	return s.path
}

func (s *FileSettings) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (s *FileSettings) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return atomicWriteJSON(s.path, values)
}

func (s *FileSettings) All() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileSettings) Close() error {
	return nil
}

func (s *FileSettings) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("corrupt settings file %s: %w", s.path, err)
	}
	return values, nil
}

// Ensure FileSettings implements domain.SettingsStore.
var _ domain.SettingsStore = (*FileSettings)(nil)

package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

// ExecMode represents the execution mode of the agent.
type ExecMode string

const (
	// ExecModeUser keeps state in the user's profile.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem keeps state machine-wide (Administrator / root).
	ExecModeSystem ExecMode = "system"
)

const appDirName = "kioskd"

// ExecModeConfig holds paths based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // Settings, key, status file
	LogPath    string // Agent log in run mode
	ConfigPath string // Default YAML config location
	IsAdmin    bool
}

// DetectExecMode determines the execution mode from the process privileges.
func DetectExecMode() *ExecModeConfig {
	if isPrivileged() {
		return newExecModeConfig(ExecModeSystem, systemDataDir(), true)
	}
	return GetUserModeConfig()
}

// GetUserModeConfig returns user mode config regardless of privileges.
func GetUserModeConfig() *ExecModeConfig {
	return newExecModeConfig(ExecModeUser, userDataDir(GetRealUserHome()), isPrivileged())
}

// NewExecModeConfigWithDataDir builds a config rooted at dataDir (for
// --data-dir and tests).
func NewExecModeConfigWithDataDir(dataDir string) *ExecModeConfig {
	cfg := DetectExecMode()
	return newExecModeConfig(cfg.Mode, ExpandHome(dataDir), cfg.IsAdmin)
}

func newExecModeConfig(mode ExecMode, dataDir string, admin bool) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       mode,
		DataDir:    dataDir,
		LogPath:    filepath.Join(dataDir, "kioskd.log"),
		ConfigPath: filepath.Join(dataDir, "config.yaml"),
		IsAdmin:    admin,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (machine-wide, administrator)"
	case ExecModeUser:
		return "user (per-user profile)"
	default:
		return "unknown"
	}
}

func systemDataDir() string {
	if runtime.GOOS == "windows" {
		base := os.Getenv("ProgramData")
		if base == "" {
			base = `C:\ProgramData`
		}
		return filepath.Join(base, appDirName)
	}
	return filepath.Join("/var/lib", appDirName)
}

func userDataDir(home string) string {
	if runtime.GOOS == "windows" {
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, appDirName)
		}
	}
	return filepath.Join(home, "."+appDirName)
}

// GetRealUserHome returns the invoking user's home directory, even under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	return expandHomeWith(GetRealUserHome(), path)
}

func expandHomeWith(home, path string) string {
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		return home
	}
	return path
}

// Package policy implements the Strategy pattern for controller client
// profiles. Each profile (plain, login) defines how the agent reaches and
// greets its controller and how it behaves around session boundaries.
package policy

import (
	"time"

	"github.com/eliteGoblin/focusd/kiosk/internal/connection"
	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

// DefaultEnforcementInterval is how often the enforcement loop runs.
const DefaultEnforcementInterval = time.Second

// DefaultBlockedProcesses are the escape hatches hidden whenever they show
// a window: the shell, task manager, command prompts and system editors.
var DefaultBlockedProcesses = []string{
	"explorer.exe",
	"taskmgr.exe",
	"cmd.exe",
	"powershell.exe",
	"regedit.exe",
	"msconfig.exe",
}

// Profile defines the strategy interface for a controller protocol variant.
type Profile interface {
	// ID returns unique identifier (e.g., "plain", "login").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// ConnectionConfig returns the connection settings for host.
	ConnectionConfig(host string) connection.Config

	// Handshaker returns the records sent after each connect.
	Handshaker() connection.Handshaker

	// ReconnectAfterSessionEnd reports whether the agent drops and
	// re-establishes the connection once a session ends.
	ReconnectAfterSessionEnd() bool
}

// BlockList builds the blocked-process set from the defaults plus extra.
// With includeDefaults false only extra is used.
func BlockList(includeDefaults bool, extra ...string) domain.BlockList {
	names := make([]string, 0, len(DefaultBlockedProcesses)+len(extra))
	if includeDefaults {
		names = append(names, DefaultBlockedProcesses...)
	}
	names = append(names, extra...)
	return domain.NewBlockList(names...)
}

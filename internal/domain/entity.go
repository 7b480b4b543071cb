// Package domain contains core kiosk entities and the ports the core drives.
// This is the innermost layer - no external dependencies.
package domain

import (
	"strings"
	"time"
)

// SessionState is the lifecycle state of the kiosk session.
type SessionState string

const (
	StateInactive SessionState = "inactive"
	StateActive   SessionState = "active"
	StatePaused   SessionState = "paused"
	StateEnded    SessionState = "ended"
)

// Session is the externally observable view of the session.
// RemainingSeconds is nil unless State is Active or Paused.
type Session struct {
	State            SessionState
	RemainingSeconds *int
	ClientID         string
}

// Remaining returns the remaining seconds and whether the value is meaningful.
func (s Session) Remaining() (int, bool) {
	if s.RemainingSeconds == nil {
		return 0, false
	}
	return *s.RemainingSeconds, true
}

// ConnectionStatus is the state of the controller link.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "Disconnected"
	StatusConnecting   ConnectionStatus = "Connecting"
	StatusConnected    ConnectionStatus = "Connected"
)

// Connection describes the controller link as seen by the agent.
type Connection struct {
	Status       ConnectionStatus
	AttemptCount int
	LastError    string
	LocalAddr    string // Network-visible address sent in the handshake
}

// AllowedApp is one entry of the controller-supplied allow-list.
type AllowedApp struct {
	Name           string `json:"name"`
	ExecutablePath string `json:"path"`
	IconPath       string `json:"icon_path"`
}

// AllowList is a full-replacement set of allowed apps, unique by name.
type AllowList []AllowedApp

// Find returns the app with the given name.
func (l AllowList) Find(name string) (AllowedApp, bool) {
	for _, app := range l {
		if app.Name == name {
			return app, true
		}
	}
	return AllowedApp{}, false
}

// Names returns app names in list order.
func (l AllowList) Names() []string {
	names := make([]string, len(l))
	for i, app := range l {
		names[i] = app.Name
	}
	return names
}

// WindowHandle is an opaque OS top-level window identifier.
// Zero means "no window".
type WindowHandle uintptr

// TrackedApp is an ActiveAppRegistry entry: a launched allowed app and,
// once the enforcement loop has seen it, its top-level window.
type TrackedApp struct {
	Name       string
	IconPath   string
	PID        int
	Window     WindowHandle
	LaunchedAt time.Time
}

// Bound reports whether the app has been correlated with a window.
func (t TrackedApp) Bound() bool {
	return t.Window != 0
}

// ShowMode selects how a window is shown by WindowManager.Show.
type ShowMode int

const (
	ShowRestore ShowMode = iota
	ShowMinimize
)

// BlockList is a case-insensitive set of process executable names that must
// never have a visible window.
type BlockList map[string]struct{}

// NewBlockList builds a BlockList from process names.
func NewBlockList(names ...string) BlockList {
	b := make(BlockList, len(names))
	for _, n := range names {
		b[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return b
}

// Contains reports whether the process name is blocked.
func (b BlockList) Contains(processName string) bool {
	_, ok := b[strings.ToLower(processName)]
	return ok
}

// EnforcementResult captures what happened during a single enforcement pass.
type EnforcementResult struct {
	HiddenWindows []WindowHandle
	Bound         []string // Tracked apps correlated with a window this pass
	Pruned        []string // Tracked apps whose window disappeared
	VisibilityOps int      // setAppVisible calls issued
	Errors        []error
	ExecutedAt    time.Time
	DurationMs    int64
}

// Changed reports whether the pass had any side effect.
func (r EnforcementResult) Changed() bool {
	return len(r.HiddenWindows) > 0 || len(r.Bound) > 0 || len(r.Pruned) > 0 || r.VisibilityOps > 0
}

// AgentStatus is the snapshot the running agent publishes for the status
// command.
type AgentStatus struct {
	PID          int              `json:"pid"`
	Version      string           `json:"version,omitempty"`
	Profile      string           `json:"profile"`
	Controller   string           `json:"controller"`
	Connection   ConnectionStatus `json:"connection"`
	SessionState SessionState     `json:"session_state"`
	Remaining    *int             `json:"remaining_seconds,omitempty"`
	ActiveApps   []string         `json:"active_apps"`
	Locked       bool             `json:"locked"`
	UpdatedAt    int64            `json:"updated_at"`
}

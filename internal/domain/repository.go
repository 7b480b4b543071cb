package domain

import "context"

// Presenter is the GUI surface (lock screen, launcher grid, fake taskbar)
// driven by the core. Implemented outside the core; calls never block.
type Presenter interface {
	// ShowLocked shows the blank/lock screen with a headline and status line.
	ShowLocked(message, status string)

	// ShowUnlocked hides the lock screen and shows the launcher for the apps.
	ShowUnlocked(apps []AllowedApp)

	// SetAppVisible updates the taskbar button state of a tracked app.
	SetAppVisible(name string, visible bool)

	// AddTrackedApp adds a taskbar button for a launched app.
	AddTrackedApp(name, iconPath string)

	// RemoveTrackedApp removes the taskbar button of an app.
	RemoveTrackedApp(name string)

	// SetCountdownText updates the countdown / status overlay.
	SetCountdownText(text string)

	// Notify shows a notice. Fatal notices are shown before the agent exits.
	Notify(title, text string)
}

// WindowManager handles OS top-level window operations.
// Implementation: user32 via golang.org/x/sys/windows.
type WindowManager interface {
	// Enumerate returns all top-level windows.
	Enumerate() ([]WindowHandle, error)

	// IsVisible reports whether the window is currently visible.
	IsVisible(h WindowHandle) bool

	// Exists reports whether the handle still refers to a window.
	Exists(h WindowHandle) bool

	// OwnerPID returns the PID of the process owning the window.
	OwnerPID(h WindowHandle) (int, error)

	// Hide hides the window.
	Hide(h WindowHandle) error

	// Show restores or minimizes the window; restore also focuses it.
	Show(h WindowHandle, mode ShowMode) error

	// Close posts a graceful close request without waiting for it.
	Close(h WindowHandle) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// Name returns the executable name of a PID (e.g. "cmd.exe").
	Name(pid int) (string, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// Terminate asks a process to exit.
	Terminate(pid int) error
}

// ProcessLauncher starts allowed applications.
type ProcessLauncher interface {
	// Start launches the executable detached and returns its PID.
	Start(ctx context.Context, executablePath string) (int, error)
}

// KeyEvent is a low-level key-down observed by the keyboard interceptor.
type KeyEvent struct {
	VirtualKey uint32
	Ctrl       bool
	Alt        bool
	Shift      bool
}

// KeyInterceptor installs a system-wide low-level keyboard hook.
// The filter runs on the interceptor's own OS thread; returning true
// consumes the key.
type KeyInterceptor interface {
	Hook(filter func(KeyEvent) bool) (unhook func() error, err error)
}

// SettingsStore is the small persisted key-value state of the agent.
type SettingsStore interface {
	// Get returns a value and whether it was present.
	Get(key string) (string, bool, error)

	// Set stores a value.
	Set(key, value string) error

	// All returns all stored values (for the status command).
	All() (map[string]string, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// KeyProvider abstracts the source of the settings encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// StatusRecorder persists the agent's status snapshot.
type StatusRecorder interface {
	// Record overwrites the snapshot.
	Record(status AgentStatus) error

	// Load returns the snapshot, or nil if none was recorded.
	Load() (*AgentStatus, error)

	// Clear removes the snapshot.
	Clear() error

	// Path returns where the snapshot lives.
	Path() string
}

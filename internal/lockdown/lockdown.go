// Package lockdown suppresses the keyboard shortcuts that escape the kiosk
// (Windows key, Start menu, task manager, window close) while the lock
// screen is shown.
package lockdown

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

// ErrUnsupported is returned by interceptors on platforms without a
// system-wide keyboard hook.
var ErrUnsupported = errors.New("keyboard lockdown not supported on this platform")

// Virtual-key codes.
const (
	VKEscape = 0x1B
	VKLWin   = 0x5B
	VKRWin   = 0x5C
	VKF4     = 0x73
)

// ShouldSuppress reports whether a key-down is an escape gesture.
func ShouldSuppress(ev domain.KeyEvent) bool {
	switch ev.VirtualKey {
	case VKLWin, VKRWin:
		return true
	case VKEscape:
		// Ctrl+Esc opens Start, Ctrl+Shift+Esc opens Task Manager.
		return ev.Ctrl
	case VKF4:
		return ev.Alt
	}
	return false
}

// Lockdown owns the keyboard hook. Install and Uninstall are idempotent;
// Close releases the hook and is safe to defer.
type Lockdown struct {
	interceptor domain.KeyInterceptor
	logger      *zap.Logger

	enabled atomic.Bool

	mu     sync.Mutex
	unhook func() error
}

// New creates a Lockdown over the given interceptor.
func New(interceptor domain.KeyInterceptor, logger *zap.Logger) *Lockdown {
	return &Lockdown{interceptor: interceptor, logger: logger}
}

// Install starts suppressing escape gestures.
func (l *Lockdown) Install() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unhook != nil {
		l.enabled.Store(true)
		return nil
	}

	unhook, err := l.interceptor.Hook(l.filter)
	if err != nil {
		return err
	}
	l.unhook = unhook
	l.enabled.Store(true)

	l.logger.Info("input lockdown installed")
	return nil
}

// Uninstall stops suppressing and removes the hook. When the hook cannot
// be removed it is kept, disabled, and the next Uninstall retries.
func (l *Lockdown) Uninstall() error {
	l.enabled.Store(false)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unhook == nil {
		return nil
	}
	if err := l.unhook(); err != nil {
		return err
	}
	l.unhook = nil

	l.logger.Info("input lockdown removed")
	return nil
}

// Close releases the hook.
func (l *Lockdown) Close() error {
	return l.Uninstall()
}

// Installed reports whether the hook is currently in place.
func (l *Lockdown) Installed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unhook != nil
}

// filter runs on the hook thread and only reads the enabled flag.
func (l *Lockdown) filter(ev domain.KeyEvent) bool {
	if !l.enabled.Load() {
		return false
	}
	return ShouldSuppress(ev)
}

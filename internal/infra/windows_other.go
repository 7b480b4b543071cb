//go:build !windows

package infra

import (
	"errors"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

// ErrNoWindowSystem is returned for window operations on platforms without
// a supported window system.
var ErrNoWindowSystem = errors.New("window management not supported on this platform")

// headlessWindowManager reports no windows, so enforcement passes are
// no-ops and the agent can still run its protocol side.
type headlessWindowManager struct{}

// NewWindowManager returns the headless window manager.
func NewWindowManager() domain.WindowManager {
	return headlessWindowManager{}
}

func (headlessWindowManager) Enumerate() ([]domain.WindowHandle, error) { return nil, nil }
func (headlessWindowManager) IsVisible(domain.WindowHandle) bool        { return false }
func (headlessWindowManager) Exists(domain.WindowHandle) bool           { return false }

func (headlessWindowManager) OwnerPID(domain.WindowHandle) (int, error) {
	return 0, ErrNoWindowSystem
}

func (headlessWindowManager) Hide(domain.WindowHandle) error {
	return ErrNoWindowSystem
}

func (headlessWindowManager) Show(domain.WindowHandle, domain.ShowMode) error {
	return ErrNoWindowSystem
}

func (headlessWindowManager) Close(domain.WindowHandle) error {
	return ErrNoWindowSystem
}

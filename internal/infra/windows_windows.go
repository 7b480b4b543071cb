//go:build windows

package infra

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procPostMessageW        = user32.NewProc("PostMessageW")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
)

const (
	swHide     = 0
	swMinimize = 6
	swRestore  = 9
	wmClose    = 0x0010
)

// EnumWindows callbacks are a scarce resource; one is created for the
// process and collects into enumHandles under enumMu.
var (
	enumMu       sync.Mutex
	enumHandles  []domain.WindowHandle
	enumCallback = windows.NewCallback(func(hwnd, _ uintptr) uintptr {
		enumHandles = append(enumHandles, domain.WindowHandle(hwnd))
		return 1 // continue
	})
)

// WindowManagerImpl implements domain.WindowManager with user32.
type WindowManagerImpl struct{}

// NewWindowManager creates the user32 window manager.
func NewWindowManager() domain.WindowManager {
	return &WindowManagerImpl{}
}

func (wm *WindowManagerImpl) Enumerate() ([]domain.WindowHandle, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumHandles = enumHandles[:0]
	if err := windows.EnumWindows(enumCallback, unsafe.Pointer(nil)); err != nil {
		return nil, fmt.Errorf("EnumWindows: %w", err)
	}
	return append([]domain.WindowHandle(nil), enumHandles...), nil
}

func (wm *WindowManagerImpl) IsVisible(h domain.WindowHandle) bool {
	return windows.IsWindowVisible(windows.HWND(h))
}

func (wm *WindowManagerImpl) Exists(h domain.WindowHandle) bool {
	return windows.IsWindow(windows.HWND(h))
}

func (wm *WindowManagerImpl) OwnerPID(h domain.WindowHandle) (int, error) {
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(windows.HWND(h), &pid); err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, errors.New("window has no owner process")
	}
	return int(pid), nil
}

func (wm *WindowManagerImpl) Hide(h domain.WindowHandle) error {
	if !wm.Exists(h) {
		return fmt.Errorf("window %#x no longer exists", uintptr(h))
	}
	windows.ShowWindow(windows.HWND(h), swHide)
	return nil
}

func (wm *WindowManagerImpl) Show(h domain.WindowHandle, mode domain.ShowMode) error {
	if !wm.Exists(h) {
		return fmt.Errorf("window %#x no longer exists", uintptr(h))
	}
	switch mode {
	case domain.ShowMinimize:
		windows.ShowWindow(windows.HWND(h), swMinimize)
	default:
		windows.ShowWindow(windows.HWND(h), swRestore)
		_, _, _ = procSetForegroundWindow.Call(uintptr(h))
	}
	return nil
}

// Close posts WM_CLOSE and returns without waiting for the app.
func (wm *WindowManagerImpl) Close(h domain.WindowHandle) error {
	r, _, err := procPostMessageW.Call(uintptr(h), wmClose, 0, 0)
	if r == 0 {
		return fmt.Errorf("PostMessageW: %w", err)
	}
	return nil
}

// Ensure WindowManagerImpl implements domain.WindowManager.
var _ domain.WindowManager = (*WindowManagerImpl)(nil)

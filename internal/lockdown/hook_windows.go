//go:build windows

package lockdown

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procGetMessageW         = user32.NewProc("GetMessageW")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
	procGetAsyncKeyState    = user32.NewProc("GetAsyncKeyState")
)

const (
	whKeyboardLL = 13
	wmKeyDown    = 0x0100
	wmSysKeyDown = 0x0104
	wmQuit       = 0x0012
	vkShift      = 0x10
	vkControl    = 0x11
	llkhfAltDown = 0x20
)

var errAlreadyHooked = errors.New("keyboard hook already installed")

type kbdllHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type winMsg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	PtX     int32
	PtY     int32
}

// The OS allows one callback per process for our purposes; the active
// filter is swapped atomically.
var (
	activeFilter atomic.Pointer[func(domain.KeyEvent) bool]
	hookCallback = windows.NewCallback(lowLevelKeyboardProc)
)

func lowLevelKeyboardProc(nCode, wParam, lParam uintptr) uintptr {
	if int32(nCode) == 0 && (wParam == wmKeyDown || wParam == wmSysKeyDown) {
		if f := activeFilter.Load(); f != nil {
			kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
			ev := domain.KeyEvent{
				VirtualKey: kb.VkCode,
				Ctrl:       keyDown(vkControl),
				Shift:      keyDown(vkShift),
				Alt:        kb.Flags&llkhfAltDown != 0,
			}
			if (*f)(ev) {
				return 1
			}
		}
	}
	r, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return r
}

func keyDown(vk uintptr) bool {
	r, _, _ := procGetAsyncKeyState.Call(vk)
	return r&0x8000 != 0
}

type windowsInterceptor struct{}

// NewInterceptor returns the WH_KEYBOARD_LL interceptor.
func NewInterceptor() domain.KeyInterceptor {
	return windowsInterceptor{}
}

// Hook installs the low-level keyboard hook on a dedicated, locked OS
// thread running a message loop. unhook stops the loop and waits for it.
func (windowsInterceptor) Hook(filter func(domain.KeyEvent) bool) (func() error, error) {
	if !activeFilter.CompareAndSwap(nil, &filter) {
		return nil, errAlreadyHooked
	}

	started := make(chan error, 1)
	done := make(chan struct{})
	var threadID uint32

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(done)

		threadID = windows.GetCurrentThreadId()

		var module windows.Handle
		if err := windows.GetModuleHandleEx(0, nil, &module); err != nil {
			started <- fmt.Errorf("GetModuleHandleEx: %w", err)
			return
		}

		hook, _, err := procSetWindowsHookExW.Call(whKeyboardLL, hookCallback, uintptr(module), 0)
		if hook == 0 {
			started <- fmt.Errorf("SetWindowsHookExW: %w", err)
			return
		}
		defer procUnhookWindowsHookEx.Call(hook) //nolint:errcheck

		started <- nil

		var m winMsg
		for {
			r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
			if int32(r) <= 0 {
				return
			}
		}
	}()

	if err := <-started; err != nil {
		activeFilter.Store(nil)
		return nil, err
	}

	// A failed post leaves the hook in place and can be retried.
	var mu sync.Mutex
	released := false
	unhook := func() error {
		mu.Lock()
		defer mu.Unlock()

		if released {
			return nil
		}
		r, _, callErr := procPostThreadMessageW.Call(uintptr(threadID), wmQuit, 0, 0)
		if r == 0 {
			return fmt.Errorf("PostThreadMessageW: %w", callErr)
		}
		<-done
		activeFilter.Store(nil)
		released = true
		return nil
	}
	return unhook, nil
}

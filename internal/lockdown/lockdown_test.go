package lockdown

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

// mockInterceptor implements domain.KeyInterceptor for testing
type mockInterceptor struct {
	hooks     int
	unhooks   int
	hookErr   error
	unhookErr error // returned by the next unhook only
	filter    func(domain.KeyEvent) bool
}

func (m *mockInterceptor) Hook(filter func(domain.KeyEvent) bool) (func() error, error) {
	if m.hookErr != nil {
		return nil, m.hookErr
	}
	m.hooks++
	m.filter = filter
	return func() error {
		m.unhooks++
		if err := m.unhookErr; err != nil {
			m.unhookErr = nil
			return err
		}
		m.filter = nil
		return nil
	}, nil
}

func TestShouldSuppress(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.KeyEvent
		want bool
	}{
		{"left win", domain.KeyEvent{VirtualKey: VKLWin}, true},
		{"right win", domain.KeyEvent{VirtualKey: VKRWin}, true},
		{"ctrl+esc", domain.KeyEvent{VirtualKey: VKEscape, Ctrl: true}, true},
		{"ctrl+shift+esc", domain.KeyEvent{VirtualKey: VKEscape, Ctrl: true, Shift: true}, true},
		{"alt+f4", domain.KeyEvent{VirtualKey: VKF4, Alt: true}, true},
		{"plain esc", domain.KeyEvent{VirtualKey: VKEscape}, false},
		{"plain f4", domain.KeyEvent{VirtualKey: VKF4}, false},
		{"letter a", domain.KeyEvent{VirtualKey: 0x41}, false},
		{"ctrl+a", domain.KeyEvent{VirtualKey: 0x41, Ctrl: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldSuppress(tt.ev))
		})
	}
}

func TestLockdown_InstallIsIdempotent(t *testing.T) {
	ic := &mockInterceptor{}
	l := New(ic, zap.NewNop())

	require.NoError(t, l.Install())
	require.NoError(t, l.Install())

	assert.Equal(t, 1, ic.hooks)
	assert.True(t, l.Installed())
	assert.True(t, ic.filter(domain.KeyEvent{VirtualKey: VKLWin}))
	assert.False(t, ic.filter(domain.KeyEvent{VirtualKey: 0x41}))
}

func TestLockdown_UninstallIsIdempotent(t *testing.T) {
	ic := &mockInterceptor{}
	l := New(ic, zap.NewNop())

	require.NoError(t, l.Uninstall())
	require.NoError(t, l.Install())
	require.NoError(t, l.Uninstall())
	require.NoError(t, l.Uninstall())

	assert.Equal(t, 1, ic.unhooks)
	assert.False(t, l.Installed())
}

func TestLockdown_ReinstallAfterUninstall(t *testing.T) {
	ic := &mockInterceptor{}
	l := New(ic, zap.NewNop())
	defer l.Close()

	require.NoError(t, l.Install())
	require.NoError(t, l.Uninstall())
	require.NoError(t, l.Install())

	assert.Equal(t, 2, ic.hooks)
	assert.True(t, ic.filter(domain.KeyEvent{VirtualKey: VKF4, Alt: true}))
}

func TestLockdown_DisabledFilterPassesEverything(t *testing.T) {
	ic := &mockInterceptor{}
	l := New(ic, zap.NewNop())
	require.NoError(t, l.Install())
	filter := ic.filter

	l.enabled.Store(false)

	assert.False(t, filter(domain.KeyEvent{VirtualKey: VKLWin}))
}

func TestLockdown_InstallFailure(t *testing.T) {
	ic := &mockInterceptor{hookErr: errors.New("access denied")}
	l := New(ic, zap.NewNop())

	assert.Error(t, l.Install())
	assert.False(t, l.Installed())
	assert.NoError(t, l.Close())
}

func TestLockdown_FailedUninstallIsRetried(t *testing.T) {
	ic := &mockInterceptor{}
	l := New(ic, zap.NewNop())
	require.NoError(t, l.Install())
	filter := ic.filter

	ic.unhookErr = errors.New("PostThreadMessageW: invalid thread")
	assert.Error(t, l.Uninstall())
	assert.True(t, l.Installed(), "hook is kept for a retry")
	assert.False(t, filter(domain.KeyEvent{VirtualKey: VKLWin}), "kept hook passes keys through")

	// Locking again reuses the kept hook.
	require.NoError(t, l.Install())
	assert.Equal(t, 1, ic.hooks)
	assert.True(t, filter(domain.KeyEvent{VirtualKey: VKLWin}))

	require.NoError(t, l.Close())
	assert.False(t, l.Installed())
	assert.Equal(t, 2, ic.unhooks)

	// A fresh hook can be installed afterwards.
	require.NoError(t, l.Install())
	assert.Equal(t, 2, ic.hooks)
}

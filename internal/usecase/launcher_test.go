package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/clock"
	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

// mockProcessLauncher implements domain.ProcessLauncher for testing
type mockProcessLauncher struct {
	nextPID  int
	startErr error
	started  []string
	pm       *mockProcessManager
}

func (m *mockProcessLauncher) Start(ctx context.Context, path string) (int, error) {
	if m.startErr != nil {
		return 0, m.startErr
	}
	m.nextPID++
	m.started = append(m.started, path)
	if m.pm != nil {
		m.pm.spawn(m.nextPID, path)
	}
	return m.nextPID, nil
}

var allowed = domain.AllowList{
	{Name: "Notepad", ExecutablePath: "notepad.exe", IconPath: "n.ico"},
	{Name: "Calc", ExecutablePath: "calc.exe", IconPath: "c.ico"},
}

type launcherFixture struct {
	*enforcerFixture
	pl       *mockProcessLauncher
	launcher *Launcher
}

func newLauncherFixture() *launcherFixture {
	f := &launcherFixture{enforcerFixture: newEnforcerFixture()}
	f.pl = &mockProcessLauncher{nextPID: 100, pm: f.pm}
	clk := clock.Fake(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	f.launcher = NewLauncher(f.pl, f.wm, f.pm, f.apps, f.presenter, clk, zap.NewNop())
	return f
}

func TestLaunch_RegistersTrackedApp(t *testing.T) {
	f := newLauncherFixture()

	err := f.launcher.Launch(context.Background(), allowed, true, "Notepad")

	require.NoError(t, err)
	assert.Equal(t, []string{"notepad.exe"}, f.pl.started)
	assert.Equal(t, []string{"Notepad"}, f.presenter.added)
	app, ok := f.apps.Get("Notepad")
	require.True(t, ok)
	assert.Equal(t, 101, app.PID)
	assert.False(t, app.Bound())
}

func TestLaunch_RefusedOutsideActiveSession(t *testing.T) {
	f := newLauncherFixture()

	err := f.launcher.Launch(context.Background(), allowed, false, "Notepad")

	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.Empty(t, f.pl.started)
}

func TestLaunch_RefusedWhenNotAllowed(t *testing.T) {
	f := newLauncherFixture()

	err := f.launcher.Launch(context.Background(), allowed, true, "Minesweeper")

	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.Equal(t, 0, f.apps.Len())
}

func TestLaunch_StartError(t *testing.T) {
	f := newLauncherFixture()
	f.pl.startErr = errors.New("file not found")

	err := f.launcher.Launch(context.Background(), allowed, true, "Notepad")

	assert.Error(t, err)
	assert.Equal(t, 0, f.apps.Len())
	assert.Empty(t, f.presenter.added)
}

func TestLaunch_TrackedAppIsActivated(t *testing.T) {
	f := newLauncherFixture()
	require.NoError(t, f.launcher.Launch(context.Background(), allowed, true, "Notepad"))
	f.wm.add(0xC1, 101, false)
	_, err := f.enforcer.Pass(context.Background())
	require.NoError(t, err)

	err = f.launcher.Launch(context.Background(), allowed, true, "Notepad")

	require.Error(t, err, "hidden window is not bound yet")
	assert.ErrorIs(t, err, ErrNoWindow)
	assert.Len(t, f.pl.started, 1)
}

func TestLaunch_ThenEnforcementBinds(t *testing.T) {
	f := newLauncherFixture()
	require.NoError(t, f.launcher.Launch(context.Background(), allowed, true, "Notepad"))
	f.wm.add(0xC1, 101, true)

	result, err := f.enforcer.Pass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"Notepad"}, result.Bound)
	require.NoError(t, f.launcher.Minimize("Notepad"))
	assert.Equal(t, domain.ShowMinimize, f.wm.shown[0xC1])
	require.NoError(t, f.launcher.Restore("Notepad"))
	assert.Equal(t, domain.ShowRestore, f.wm.shown[0xC1])
}

func TestClose_BoundAppPostsClose(t *testing.T) {
	f := newLauncherFixture()
	require.NoError(t, f.launcher.Launch(context.Background(), allowed, true, "Notepad"))
	f.wm.add(0xC1, 101, true)
	_, err := f.enforcer.Pass(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.launcher.Close("Notepad"))

	assert.Equal(t, []domain.WindowHandle{0xC1}, f.wm.closed)
	assert.Equal(t, []string{"Notepad"}, f.presenter.removed)
	assert.Equal(t, 0, f.apps.Len())
}

func TestClose_UnboundAppTerminatesProcess(t *testing.T) {
	f := newLauncherFixture()
	require.NoError(t, f.launcher.Launch(context.Background(), allowed, true, "Calc"))

	require.NoError(t, f.launcher.Close("Calc"))

	assert.Equal(t, []int{101}, f.pm.terminated)
	assert.Empty(t, f.wm.closed)
}

func TestClose_UnknownApp(t *testing.T) {
	f := newLauncherFixture()

	assert.ErrorIs(t, f.launcher.Close("Notepad"), ErrNotTracked)
	assert.ErrorIs(t, f.launcher.Activate("Notepad"), ErrNotTracked)
}

func TestCloseAll(t *testing.T) {
	f := newLauncherFixture()
	require.NoError(t, f.launcher.Launch(context.Background(), allowed, true, "Notepad"))
	require.NoError(t, f.launcher.Launch(context.Background(), allowed, true, "Calc"))

	closed := f.launcher.CloseAll()

	assert.Equal(t, []string{"Calc", "Notepad"}, closed)
	assert.Equal(t, 0, f.apps.Len())
	assert.ElementsMatch(t, []string{"Calc", "Notepad"}, f.presenter.removed)
}

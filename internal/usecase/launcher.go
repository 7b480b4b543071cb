package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/clock"
	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

var (
	// ErrNotAllowed is returned when launching an app outside the allow-list
	// or outside an Active session.
	ErrNotAllowed = errors.New("app not allowed")

	// ErrNotTracked is returned for toolbar actions on unknown apps.
	ErrNotTracked = errors.New("app not tracked")

	// ErrNoWindow is returned for toolbar actions before the app's window
	// has been bound.
	ErrNoWindow = errors.New("app window not yet known")
)

// Launcher starts and closes allowed apps and serves the taskbar actions.
type Launcher struct {
	launcher  domain.ProcessLauncher
	windows   domain.WindowManager
	processes domain.ProcessManager
	apps      *ActiveApps
	presenter domain.Presenter
	clock     clock.Clock
	logger    *zap.Logger
}

// NewLauncher creates a Launcher over the shared ActiveApps registry.
func NewLauncher(
	pl domain.ProcessLauncher,
	wm domain.WindowManager,
	pm domain.ProcessManager,
	apps *ActiveApps,
	presenter domain.Presenter,
	clk clock.Clock,
	logger *zap.Logger,
) *Launcher {
	return &Launcher{
		launcher:  pl,
		windows:   wm,
		processes: pm,
		apps:      apps,
		presenter: presenter,
		clock:     clk,
		logger:    logger,
	}
}

// Launch starts the named app. The caller states whether a session is
// Active; outside one nothing is launched. Launching an app that is already
// tracked activates it instead.
func (l *Launcher) Launch(ctx context.Context, allowed domain.AllowList, active bool, name string) error {
	app, ok := allowed.Find(name)
	if !active || !ok {
		l.logger.Warn("launch refused",
			zap.String("app", name),
			zap.Bool("session_active", active))
		return fmt.Errorf("%w: %s", ErrNotAllowed, name)
	}

	if _, tracked := l.apps.Get(name); tracked {
		return l.Activate(name)
	}

	pid, err := l.launcher.Start(ctx, app.ExecutablePath)
	if err != nil {
		return fmt.Errorf("failed to launch %s: %w", name, err)
	}

	l.apps.Add(domain.TrackedApp{
		Name:       app.Name,
		IconPath:   app.IconPath,
		PID:        pid,
		LaunchedAt: l.clock.Now(),
	})
	l.presenter.AddTrackedApp(app.Name, app.IconPath)

	l.logger.Info("launched app",
		zap.String("app", name),
		zap.String("path", app.ExecutablePath),
		zap.Int("pid", pid))

	return nil
}

// Close posts a graceful close to the app and forgets it immediately.
func (l *Launcher) Close(name string) error {
	app, ok := l.apps.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, name)
	}

	l.apps.Remove(name)
	l.presenter.RemoveTrackedApp(name)

	if err := l.closeApp(app); err != nil {
		l.logger.Warn("failed to close app",
			zap.String("app", name),
			zap.Error(err))
		return err
	}

	l.logger.Info("closed app", zap.String("app", name))
	return nil
}

// CloseAll closes every tracked app and returns their names.
func (l *Launcher) CloseAll() []string {
	names := l.apps.Names()
	for _, name := range names {
		_ = l.Close(name)
	}
	return names
}

// Activate restores and focuses the app's window.
func (l *Launcher) Activate(name string) error {
	return l.show(name, domain.ShowRestore)
}

// Restore restores the app's window.
func (l *Launcher) Restore(name string) error {
	return l.show(name, domain.ShowRestore)
}

// Minimize minimizes the app's window.
func (l *Launcher) Minimize(name string) error {
	return l.show(name, domain.ShowMinimize)
}

func (l *Launcher) show(name string, mode domain.ShowMode) error {
	app, ok := l.apps.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, name)
	}
	if !app.Bound() {
		return fmt.Errorf("%w: %s", ErrNoWindow, name)
	}
	if err := l.windows.Show(app.Window, mode); err != nil {
		return fmt.Errorf("failed to show %s: %w", name, err)
	}
	return nil
}

// closeApp posts WM_CLOSE to a bound window; an unbound app has no window
// yet, so its process is asked to terminate.
func (l *Launcher) closeApp(app domain.TrackedApp) error {
	if app.Bound() {
		return l.windows.Close(app.Window)
	}
	if !l.processes.IsRunning(app.PID) {
		return nil
	}
	return l.processes.Terminate(app.PID)
}

package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

// Enforcer reconciles OS windows with what the kiosk permits.
type Enforcer struct {
	windows   domain.WindowManager
	processes domain.ProcessManager
	blocked   domain.BlockList
	apps      *ActiveApps
	presenter domain.Presenter
	logger    *zap.Logger
}

// NewEnforcer creates a new enforcement loop pass runner.
func NewEnforcer(
	wm domain.WindowManager,
	pm domain.ProcessManager,
	blocked domain.BlockList,
	apps *ActiveApps,
	presenter domain.Presenter,
	logger *zap.Logger,
) *Enforcer {
	return &Enforcer{
		windows:   wm,
		processes: pm,
		blocked:   blocked,
		apps:      apps,
		presenter: presenter,
		logger:    logger,
	}
}

// Pass runs one enforcement pass:
//  1. enumerate top-level windows;
//  2. hide visible windows of blocked processes, whatever the session state;
//  3. bind freshly launched apps to their first visible window and report
//     tracked window visibility to the presenter when it changed;
//  4. prune tracked apps whose window or process is gone.
//
// Per-window OS errors are recorded and skipped; only a failed enumeration
// is returned as an error.
func (e *Enforcer) Pass(ctx context.Context) (*domain.EnforcementResult, error) {
	start := time.Now()

	result := &domain.EnforcementResult{
		HiddenWindows: make([]domain.WindowHandle, 0),
		Bound:         make([]string, 0),
		Pruned:        make([]string, 0),
		Errors:        make([]error, 0),
		ExecutedAt:    start,
	}

	handles, err := e.windows.Enumerate()
	if err != nil {
		return result, err
	}

	unbound := make(map[int]string)
	for _, app := range e.apps.All() {
		if !app.Bound() {
			unbound[app.PID] = app.Name
		}
	}

	seen := make(map[domain.WindowHandle]bool, len(handles))
	for _, h := range handles {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		seen[h] = true

		visible := e.windows.IsVisible(h)
		name, tracked := e.apps.ByWindow(h)

		if visible {
			pid, procName, err := e.owner(h)
			if err != nil {
				// Process lookup races and access denied are expected.
				e.logger.Debug("window owner lookup failed",
					zap.Uint64("hwnd", uint64(h)),
					zap.Error(err))
				result.Errors = append(result.Errors, err)
			} else {
				if e.blocked.Contains(procName) {
					e.hide(h, procName, pid, result)
					continue
				}
				if appName, ok := unbound[pid]; ok && !tracked {
					e.apps.Bind(appName, h)
					delete(unbound, pid)
					name, tracked = appName, true
					result.Bound = append(result.Bound, appName)
					e.logger.Info("tracked app bound to window",
						zap.String("app", appName),
						zap.Int("pid", pid))
				}
			}
		}

		if tracked && e.apps.markReported(name, visible) {
			e.presenter.SetAppVisible(name, visible)
			result.VisibilityOps++
		}
	}

	for _, app := range e.apps.All() {
		if e.gone(app, seen) {
			e.apps.Remove(app.Name)
			e.presenter.RemoveTrackedApp(app.Name)
			result.Pruned = append(result.Pruned, app.Name)
			e.logger.Info("tracked app gone", zap.String("app", app.Name))
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()

	return result, nil
}

func (e *Enforcer) owner(h domain.WindowHandle) (int, string, error) {
	pid, err := e.windows.OwnerPID(h)
	if err != nil {
		return 0, "", err
	}
	name, err := e.processes.Name(pid)
	if err != nil {
		return pid, "", err
	}
	return pid, name, nil
}

func (e *Enforcer) hide(h domain.WindowHandle, procName string, pid int, result *domain.EnforcementResult) {
	if err := e.windows.Hide(h); err != nil {
		e.logger.Warn("failed to hide blocked window",
			zap.String("process", procName),
			zap.Int("pid", pid),
			zap.Error(err))
		result.Errors = append(result.Errors, err)
		return
	}
	e.logger.Info("hid blocked window",
		zap.String("process", procName),
		zap.Int("pid", pid))
	result.HiddenWindows = append(result.HiddenWindows, h)
}

func (e *Enforcer) gone(app domain.TrackedApp, seen map[domain.WindowHandle]bool) bool {
	if app.Bound() {
		return !seen[app.Window] && !e.windows.Exists(app.Window)
	}
	return !e.processes.IsRunning(app.PID)
}

package infra

import (
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

// LogPresenter implements domain.Presenter by logging every surface
// update. It stands in for the GUI shell and keeps the last rendered
// state so the agent can publish it.
type LogPresenter struct {
	logger *zap.Logger

	mu        sync.Mutex
	locked    bool
	message   string
	status    string
	countdown string
	tracked   map[string]bool
}

// NewLogPresenter creates a presenter that logs to logger.
func NewLogPresenter(logger *zap.Logger) *LogPresenter {
	return &LogPresenter{
		logger:  logger.Named("presenter"),
		locked:  true,
		tracked: make(map[string]bool),
	}
}

func (p *LogPresenter) ShowLocked(message, status string) {
	p.mu.Lock()
	p.locked, p.message, p.status = true, message, status
	p.mu.Unlock()

	p.logger.Info("lock screen", zap.String("message", message), zap.String("status", status))
}

func (p *LogPresenter) ShowUnlocked(apps []domain.AllowedApp) {
	p.mu.Lock()
	p.locked = false
	p.mu.Unlock()

	p.logger.Info("launcher shown", zap.Strings("apps", domain.AllowList(apps).Names()))
}

func (p *LogPresenter) SetAppVisible(name string, visible bool) {
	p.mu.Lock()
	p.tracked[name] = visible
	p.mu.Unlock()

	p.logger.Debug("taskbar button", zap.String("app", name), zap.Bool("visible", visible))
}

func (p *LogPresenter) AddTrackedApp(name, iconPath string) {
	p.mu.Lock()
	p.tracked[name] = true
	p.mu.Unlock()

	p.logger.Info("taskbar button added", zap.String("app", name), zap.String("icon", iconPath))
}

func (p *LogPresenter) RemoveTrackedApp(name string) {
	p.mu.Lock()
	delete(p.tracked, name)
	p.mu.Unlock()

	p.logger.Info("taskbar button removed", zap.String("app", name))
}

func (p *LogPresenter) SetCountdownText(text string) {
	p.mu.Lock()
	changed := p.countdown != text
	p.countdown = text
	p.mu.Unlock()

	if changed {
		p.logger.Debug("countdown", zap.String("text", text))
	}
}

func (p *LogPresenter) Notify(title, text string) {
	p.logger.Warn("notice", zap.String("title", title), zap.String("text", text))
}

// Locked reports whether the lock screen is shown.
func (p *LogPresenter) Locked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}

// Status returns the lock screen status line.
func (p *LogPresenter) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Countdown returns the last countdown text.
func (p *LogPresenter) Countdown() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.countdown
}

// Ensure LogPresenter implements domain.Presenter.
var _ domain.Presenter = (*LogPresenter)(nil)

// Package agent runs the kiosk agent: a single event loop that owns the
// session, the tracked apps and the presentation, fed by the controller
// connection, the countdown, the enforcement ticker and UI actions.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/clock"
	"github.com/eliteGoblin/focusd/kiosk/internal/connection"
	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
	"github.com/eliteGoblin/focusd/kiosk/internal/protocol"
	"github.com/eliteGoblin/focusd/kiosk/internal/session"
	"github.com/eliteGoblin/focusd/kiosk/internal/usecase"
)

var (
	// ErrAuthFailed is returned by Run when the controller rejects the login.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRemoved is returned by Run when an administrator removed this kiosk.
	ErrRemoved = errors.New("removed by administrator")

	// ErrStopped is returned by UI actions once Run has returned.
	ErrStopped = errors.New("agent stopped")

	errAdminExit = errors.New("administrator logged in")
)

// Lock screen headlines.
const (
	MessageWaiting = "Waiting for session"
	MessagePaused  = "Session paused"
	MessageEnded   = "Session ended"
	MessageRemoved = "This computer has been removed"
)

// Connector is the controller link. *connection.Manager implements it.
type Connector interface {
	Run(ctx context.Context, events chan<- connection.Event) error
	Send(msg protocol.Message) error
	Reconnect()
	SetClientID(id string)
}

// Locker suppresses escape keys while the lock screen is up.
// *lockdown.Lockdown implements it.
type Locker interface {
	Install() error
	Uninstall() error
	Close() error
}

// Config holds agent configuration.
type Config struct {
	Profile    string
	Controller string
	Version    string

	// AgentID is the outbound client id until the controller assigns one.
	AgentID string

	EnforcementInterval time.Duration

	// ReconnectAfterSessionEnd drops and re-establishes the connection
	// after every session end.
	ReconnectAfterSessionEnd bool
}

// Deps are the collaborators of an Agent. Locker and Recorder are optional.
type Deps struct {
	Connector Connector
	Enforcer  *usecase.Enforcer
	Launcher  *usecase.Launcher
	Apps      *usecase.ActiveApps
	Presenter domain.Presenter
	Locker    Locker
	Recorder  domain.StatusRecorder
	Clock     clock.Clock
}

type actionKind int

const (
	actionLaunch actionKind = iota
	actionClose
	actionActivate
	actionRestore
	actionMinimize
)

type action struct {
	kind   actionKind
	app    string
	result chan error
}

// Agent is the kiosk agent. Run owns every piece of mutable state; the UI
// reaches it through the action methods.
type Agent struct {
	config    Config
	conn      Connector
	enforcer  *usecase.Enforcer
	launcher  *usecase.Launcher
	apps      *usecase.ActiveApps
	presenter domain.Presenter
	locker    Locker
	recorder  domain.StatusRecorder
	clock     clock.Clock
	logger    *zap.Logger

	machine   *session.Machine
	countdown *tickerCountdown
	actions   chan action
	done      chan struct{}

	connection  domain.Connection
	locked      bool
	lockMessage string
	clientID    string
	exit        error
}

// New creates an agent.
func New(config Config, deps Deps, logger *zap.Logger) *Agent {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	a := &Agent{
		config:     config,
		conn:       deps.Connector,
		enforcer:   deps.Enforcer,
		launcher:   deps.Launcher,
		apps:       deps.Apps,
		presenter:  deps.Presenter,
		locker:     deps.Locker,
		recorder:   deps.Recorder,
		clock:      clk,
		logger:     logger,
		countdown:  newTickerCountdown(clk),
		actions:    make(chan action),
		done:       make(chan struct{}),
		connection: domain.Connection{Status: domain.StatusDisconnected},
	}
	a.machine = session.NewMachine(a.countdown, a, logger.Named("session"))
	return a
}

// Run starts the agent loop. It blocks until ctx is canceled or the agent
// must exit: ErrFatalConnectivity, ErrAuthFailed and ErrRemoved are
// returned as is; an administrator login returns nil.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.done)
	defer a.shutdown()

	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	events := make(chan connection.Event, 16)
	connErr := make(chan error, 1)
	a.clientID = a.config.AgentID
	a.conn.SetClientID(a.clientID)
	go func() { connErr <- a.conn.Run(connCtx, events) }()

	a.logger.Info("agent started",
		zap.Int("pid", os.Getpid()),
		zap.String("profile", a.config.Profile),
		zap.String("controller", a.config.Controller))

	a.lock(MessageWaiting)
	a.record()

	// Enforce immediately on startup
	a.runEnforcement(ctx)

	enforceTicker := a.clock.NewTicker(a.config.EnforcementInterval)
	defer enforceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopping")
			return ctx.Err()

		case err := <-connErr:
			return a.connectivityLost(ctx, err)

		case ev := <-events:
			a.handleEvent(ev)

		case <-a.countdown.C():
			a.machine.Tick()

		case <-enforceTicker.C:
			a.runEnforcement(ctx)

		case act := <-a.actions:
			act.result <- a.perform(ctx, act)
		}

		if a.exit != nil {
			if errors.Is(a.exit, errAdminExit) {
				a.logger.Info("administrator logged in, exiting")
				return nil
			}
			return a.exit
		}
	}
}

// Snapshot returns the session as last seen by the loop. Only safe to
// call after Run has returned or from an Observer callback.
func (a *Agent) Snapshot() domain.Session {
	return a.machine.Snapshot()
}

// Launch starts an allowed app.
func (a *Agent) Launch(ctx context.Context, app string) error {
	return a.do(ctx, actionLaunch, app)
}

// Close closes a tracked app.
func (a *Agent) Close(ctx context.Context, app string) error {
	return a.do(ctx, actionClose, app)
}

// Activate focuses a tracked app.
func (a *Agent) Activate(ctx context.Context, app string) error {
	return a.do(ctx, actionActivate, app)
}

// Restore restores a tracked app's window.
func (a *Agent) Restore(ctx context.Context, app string) error {
	return a.do(ctx, actionRestore, app)
}

// Minimize minimizes a tracked app's window.
func (a *Agent) Minimize(ctx context.Context, app string) error {
	return a.do(ctx, actionMinimize, app)
}

func (a *Agent) do(ctx context.Context, kind actionKind, app string) error {
	act := action{kind: kind, app: app, result: make(chan error, 1)}
	select {
	case a.actions <- act:
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-act.result
}

func (a *Agent) perform(ctx context.Context, act action) error {
	switch act.kind {
	case actionLaunch:
		active := a.machine.State() == domain.StateActive
		if err := a.launcher.Launch(ctx, a.machine.AllowList(), active, act.app); err != nil {
			return err
		}
	case actionClose:
		// The app is forgotten even when the close request fails.
		err := a.launcher.Close(act.app)
		if errors.Is(err, usecase.ErrNotTracked) {
			return err
		}
		a.appsChanged()
		return err
	case actionActivate:
		return a.launcher.Activate(act.app)
	case actionRestore:
		return a.launcher.Restore(act.app)
	case actionMinimize:
		return a.launcher.Minimize(act.app)
	default:
		return fmt.Errorf("unknown action %d", act.kind)
	}
	a.appsChanged()
	return nil
}

func (a *Agent) connectivityLost(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	a.logger.Error("controller unreachable", zap.Error(err))
	a.presenter.Notify("Connection failed", err.Error())
	return err
}

func (a *Agent) handleEvent(ev connection.Event) {
	switch e := ev.(type) {
	case connection.StatusEvent:
		a.connectionChanged(e.Connection)
	case connection.MessageEvent:
		a.handleMessage(e.Message)
	}
}

func (a *Agent) connectionChanged(c domain.Connection) {
	a.connection = c
	if a.locked {
		a.presenter.ShowLocked(a.lockMessage, StatusText(c))
	}

	if c.Status == domain.StatusConnected && !a.machine.Await() {
		a.sendStatus()
	}
	a.record()
}

func (a *Agent) handleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Heartbeat:
		a.logger.Debug("controller heartbeat")

	case protocol.HandshakeAck:
		a.logger.Info("login accepted", zap.Int("minutes", m.Minutes))
		a.presenter.Notify("Logged in", fmt.Sprintf("%d minutes available", m.Minutes))

	case protocol.AuthError:
		a.logger.Error("login rejected", zap.String("message", m.Message))
		a.presenter.Notify("Login failed", m.Message)
		a.exit = fmt.Errorf("%w: %s", ErrAuthFailed, m.Message)

	case protocol.AdminAuthSuccess:
		a.presenter.Notify("Administrator", "Administrator logged in")
		a.exit = errAdminExit

	case protocol.Error:
		a.logger.Warn("controller reported an error",
			zap.String("error", m.Error),
			zap.String("details", m.Details))
		a.presenter.Notify("Controller error", m.Error)

	case protocol.Unknown:
		a.logger.Debug("ignoring unknown message", zap.String("type", m.Type))

	default:
		if a.machine.Apply(msg) {
			a.adoptClientID()
		}
	}
}

// adoptClientID switches outbound records to the controller-assigned id.
func (a *Agent) adoptClientID() {
	id := a.machine.ClientID()
	if id == "" || id == a.clientID {
		return
	}
	a.clientID = id
	a.conn.SetClientID(id)
	a.logger.Info("client id assigned", zap.String("client_id", id))
}

// SessionEvent applies the effects of a session change.
func (a *Agent) SessionEvent(e session.Event) {
	switch e.Kind {
	case session.EventStarted, session.EventResumed:
		a.unlock()
		a.presenter.SetCountdownText(session.FormatRemaining(e.Remaining))

	case session.EventPaused:
		a.lock(MessagePaused)

	case session.EventEnded:
		a.launcher.CloseAll()
		a.lock(MessageEnded)

	case session.EventRemoved:
		a.launcher.CloseAll()
		a.lock(MessageRemoved)
		a.presenter.Notify("Removed", MessageRemoved)
		a.exit = ErrRemoved

	case session.EventAwaiting:
		a.lock(MessageWaiting)

	case session.EventExtended:
		a.presenter.SetCountdownText(session.FormatRemaining(e.Remaining))

	case session.EventAllowList:
		if a.machine.State() == domain.StateActive {
			a.presenter.ShowUnlocked(a.machine.AllowList())
		}
		return

	case session.EventTick:
		a.presenter.SetCountdownText(session.FormatRemaining(e.Remaining))
		return

	case session.EventLowTimeWarn:
		a.presenter.Notify("Time running out", fmt.Sprintf("%d minutes remaining", e.Remaining/60))
		return
	}

	a.sendStatus()
	a.record()

	if e.Kind == session.EventEnded && a.config.ReconnectAfterSessionEnd {
		a.conn.Reconnect()
	}
}

func (a *Agent) lock(message string) {
	a.locked = true
	a.lockMessage = message
	a.presenter.ShowLocked(message, StatusText(a.connection))

	if a.locker != nil {
		if err := a.locker.Install(); err != nil {
			a.logger.Warn("failed to install input lockdown", zap.Error(err))
		}
	}
}

func (a *Agent) unlock() {
	a.locked = false
	a.presenter.ShowUnlocked(a.machine.AllowList())

	if a.locker != nil {
		if err := a.locker.Uninstall(); err != nil {
			a.logger.Warn("failed to remove input lockdown", zap.Error(err))
		}
	}
}

// runEnforcement executes one enforcement pass.
func (a *Agent) runEnforcement(ctx context.Context) {
	result, err := a.enforcer.Pass(ctx)
	if err != nil {
		a.logger.Error("enforcement failed", zap.Error(err))
		return
	}

	if result.Changed() {
		a.logger.Debug("enforcement completed",
			zap.Int("windows_hidden", len(result.HiddenWindows)),
			zap.Strings("bound", result.Bound),
			zap.Strings("pruned", result.Pruned),
			zap.Int64("duration_ms", result.DurationMs))
	}
	if len(result.Pruned) > 0 {
		a.appsChanged()
	}
}

func (a *Agent) appsChanged() {
	a.sendStatus()
	a.record()
}

// sendStatus reports state, active apps and remaining time to the
// controller. Nothing is sent while disconnected.
func (a *Agent) sendStatus() {
	if a.connection.Status != domain.StatusConnected {
		return
	}

	snap := a.machine.Snapshot()
	msg := protocol.ClientStatus{
		Header:        protocol.NewHeader(a.clientID, a.clock.Now()),
		State:         snap.State,
		ActiveApps:    a.apps.Names(),
		RemainingTime: snap.RemainingSeconds,
	}
	if err := a.conn.Send(msg); err != nil && !errors.Is(err, connection.ErrNotConnected) {
		a.logger.Warn("failed to send status", zap.Error(err))
	}
}

// record publishes the status snapshot for the status command.
func (a *Agent) record() {
	if a.recorder == nil {
		return
	}

	snap := a.machine.Snapshot()
	status := domain.AgentStatus{
		PID:          os.Getpid(),
		Version:      a.config.Version,
		Profile:      a.config.Profile,
		Controller:   a.config.Controller,
		Connection:   a.connection.Status,
		SessionState: snap.State,
		Remaining:    snap.RemainingSeconds,
		ActiveApps:   a.apps.Names(),
		Locked:       a.locked,
		UpdatedAt:    a.clock.Now().Unix(),
	}
	if err := a.recorder.Record(status); err != nil {
		a.logger.Warn("failed to record status", zap.Error(err))
	}
}

func (a *Agent) shutdown() {
	a.countdown.Stop()

	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			a.logger.Warn("failed to release input lockdown", zap.Error(err))
		}
	}
	if a.recorder != nil {
		if err := a.recorder.Clear(); err != nil {
			a.logger.Warn("failed to clear status", zap.Error(err))
		}
	}
}

// StatusText renders the connection as the lock screen status line.
func StatusText(c domain.Connection) string {
	switch c.Status {
	case domain.StatusConnected:
		if c.LocalAddr != "" {
			return fmt.Sprintf("Status: Connected (%s)", c.LocalAddr)
		}
		return "Status: Connected"
	case domain.StatusConnecting:
		return fmt.Sprintf("Status: Connecting (attempt %d)", c.AttemptCount)
	default:
		return "Status: Disconnected"
	}
}

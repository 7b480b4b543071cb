// Package session implements the kiosk session state machine. It is driven
// only by protocol messages and countdown ticks, and is not safe for
// concurrent use: the agent loop owns it.
package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
	"github.com/eliteGoblin/focusd/kiosk/internal/protocol"
)

// Warning thresholds announced once per session, in seconds remaining.
var WarningThresholds = []int{300, 60}

// EventKind classifies an Event.
type EventKind string

const (
	EventStarted     EventKind = "started"
	EventPaused      EventKind = "paused"
	EventResumed     EventKind = "resumed"
	EventEnded       EventKind = "ended"
	EventExtended    EventKind = "extended"
	EventAllowList   EventKind = "allow_list"
	EventRemoved     EventKind = "removed"
	EventAwaiting    EventKind = "awaiting"
	EventTick        EventKind = "tick"
	EventLowTimeWarn EventKind = "low_time"
)

// EndReason says why a session ended.
type EndReason string

const (
	ReasonController EndReason = "controller"
	ReasonExpired    EndReason = "expired"
	ReasonRemoved    EndReason = "removed"
)

// Event is emitted to the Observer after the machine has changed.
type Event struct {
	Kind      EventKind
	From      domain.SessionState
	To        domain.SessionState
	Remaining int
	Reason    EndReason
}

// Observer receives session events. Calls happen synchronously inside
// Apply/Tick/Await.
type Observer interface {
	SessionEvent(Event)
}

// Countdown is the once-per-second driver of Tick.
type Countdown interface {
	Start()
	Stop()
}

// Machine holds the Session, the allow-list and the countdown.
type Machine struct {
	state     domain.SessionState
	remaining int
	clientID  string
	allowed   domain.AllowList
	counting  bool
	warned    map[int]bool

	countdown Countdown
	observer  Observer
	logger    *zap.Logger
}

// NewMachine creates a machine in the Inactive state.
func NewMachine(countdown Countdown, observer Observer, logger *zap.Logger) *Machine {
	return &Machine{
		state:     domain.StateInactive,
		warned:    make(map[int]bool),
		countdown: countdown,
		observer:  observer,
		logger:    logger,
	}
}

// Snapshot returns the externally observable session.
func (m *Machine) Snapshot() domain.Session {
	s := domain.Session{State: m.state, ClientID: m.clientID}
	if m.state == domain.StateActive || m.state == domain.StatePaused {
		r := m.remaining
		s.RemainingSeconds = &r
	}
	return s
}

// State returns the current state.
func (m *Machine) State() domain.SessionState { return m.state }

// AllowList returns the current allow-list.
func (m *Machine) AllowList() domain.AllowList { return m.allowed }

// ClientID returns the controller-assigned client id, if any.
func (m *Machine) ClientID() string { return m.clientID }

// Apply applies a protocol message. It returns false when the message is
// not a session message or is invalid for the current state; in that case
// nothing changed.
func (m *Machine) Apply(msg protocol.Message) bool {
	applied := m.apply(msg)
	if applied {
		if id := msg.Head().ClientID; id != "" {
			m.clientID = id
		}
	} else {
		m.logger.Debug("session message ignored",
			zap.String("kind", string(msg.Kind())),
			zap.String("state", string(m.state)))
	}
	return applied
}

func (m *Machine) apply(msg protocol.Message) bool {
	switch v := msg.(type) {
	case protocol.SessionStart:
		m.start(v)
		return true

	case protocol.SessionPause:
		if m.state != domain.StateActive {
			return false
		}
		m.stopCountdown()
		m.transition(domain.StatePaused, EventPaused, "")
		return true

	case protocol.SessionResume:
		if m.state != domain.StatePaused {
			return false
		}
		m.startCountdown()
		m.transition(domain.StateActive, EventResumed, "")
		return true

	case protocol.SessionEnd:
		if m.state != domain.StateActive && m.state != domain.StatePaused {
			return false
		}
		m.end(ReasonController)
		return true

	case protocol.SessionExtend:
		if (m.state != domain.StateActive && m.state != domain.StatePaused) || v.Duration <= 0 {
			return false
		}
		m.remaining += v.Duration
		for _, threshold := range WarningThresholds {
			if m.remaining > threshold {
				delete(m.warned, threshold)
			}
		}
		m.emit(Event{Kind: EventExtended, From: m.state, To: m.state, Remaining: m.remaining})
		return true

	case protocol.AllowedApps:
		if len(v.Apps) == 0 {
			return false
		}
		m.allowed = domain.AllowList(v.Apps)
		m.emit(Event{Kind: EventAllowList, From: m.state, To: m.state, Remaining: m.remaining})
		return true

	case protocol.RemoveClient:
		m.end(ReasonRemoved)
		return true
	}
	return false
}

func (m *Machine) start(msg protocol.SessionStart) {
	duration := msg.Duration
	if duration < 0 {
		duration = 0
	}
	if len(msg.Apps) > 0 {
		m.allowed = domain.AllowList(msg.Apps)
	}
	m.remaining = duration
	m.warned = make(map[int]bool)
	m.startCountdown()
	m.transition(domain.StateActive, EventStarted, "")
}

// end moves to Ended from any state. Removal also comes through here.
func (m *Machine) end(reason EndReason) {
	m.stopCountdown()
	m.remaining = 0
	kind := EventEnded
	if reason == ReasonRemoved {
		kind = EventRemoved
	}
	m.transition(domain.StateEnded, kind, reason)
}

// Tick advances the countdown by one second. Reaching zero ends the
// session in the same tick, so a session started with N seconds ends on
// the Nth tick and the remaining time is never negative.
func (m *Machine) Tick() {
	if m.state != domain.StateActive || !m.counting {
		return
	}

	m.remaining--
	if m.remaining <= 0 {
		m.end(ReasonExpired)
		return
	}

	m.emit(Event{Kind: EventTick, From: m.state, To: m.state, Remaining: m.remaining})

	for _, threshold := range WarningThresholds {
		if m.remaining == threshold && !m.warned[threshold] {
			m.warned[threshold] = true
			m.emit(Event{Kind: EventLowTimeWarn, From: m.state, To: m.state, Remaining: m.remaining})
		}
	}
}

// Await moves an Ended session back to Inactive, waiting for a new start.
func (m *Machine) Await() bool {
	if m.state != domain.StateEnded {
		return false
	}
	m.transition(domain.StateInactive, EventAwaiting, "")
	return true
}

// startCountdown stops any prior driver before starting a new one.
func (m *Machine) startCountdown() {
	m.stopCountdown()
	m.counting = true
	if m.countdown != nil {
		m.countdown.Start()
	}
}

func (m *Machine) stopCountdown() {
	if !m.counting {
		return
	}
	m.counting = false
	if m.countdown != nil {
		m.countdown.Stop()
	}
}

func (m *Machine) transition(to domain.SessionState, kind EventKind, reason EndReason) {
	from := m.state
	m.state = to
	m.logger.Info("session transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("event", string(kind)),
		zap.Int("remaining", m.remaining))
	m.emit(Event{Kind: kind, From: from, To: to, Remaining: m.remaining, Reason: reason})
}

func (m *Machine) emit(e Event) {
	if m.observer != nil {
		m.observer.SessionEvent(e)
	}
}

// FormatRemaining renders seconds as the countdown overlay text.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("Time left: %02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

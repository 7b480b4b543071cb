// Package protocol implements the controller wire protocol: newline-delimited
// JSON records decoded into a closed set of message types.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

// Kind is the wire discriminator carried in the "type" field.
type Kind string

const (
	KindHeartbeat     Kind = "heartbeat"
	KindSessionStart  Kind = "session_start"
	KindSessionPause  Kind = "session_pause"
	KindSessionResume Kind = "session_resume"
	KindSessionEnd    Kind = "session_end"
	KindSessionExtend Kind = "session_extend"
	KindAllowedApps   Kind = "allowed_apps"
	KindClientStatus  Kind = "client_status"
	KindError         Kind = "error"
	KindRemoveClient  Kind = "remove_client"

	// Login profile variants.
	KindAuth             Kind = "auth"
	KindHandshakeAck     Kind = "auth_success"
	KindAuthError        Kind = "auth_error"
	KindAdminAuthSuccess Kind = "admin_auth_success"
	KindSessionStarted   Kind = "session_started" // decodes to SessionStart
	KindSessionError     Kind = "session_error"   // decodes to Error
)

// TimestampLayout is the layout of the timestamp field (ISO 8601, UTC).
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Header carries the fields common to every message.
type Header struct {
	Timestamp string
	ClientID  string
}

// NewHeader stamps a header with the given time.
func NewHeader(clientID string, now time.Time) Header {
	return Header{Timestamp: now.UTC().Format(TimestampLayout), ClientID: clientID}
}

// Message is the closed union of protocol messages. Only types in this
// package implement it; consumers switch on the concrete type.
type Message interface {
	Kind() Kind
	Head() Header
	isMessage()
}

type Heartbeat struct{ Header }

// SessionStart begins a session. Apps is nil when the record carried no list.
type SessionStart struct {
	Header
	Duration int
	Apps     []domain.AllowedApp
}

type SessionPause struct{ Header }

type SessionResume struct{ Header }

type SessionEnd struct{ Header }

// SessionExtend adds Duration seconds to a running or paused session.
type SessionExtend struct {
	Header
	Duration int
}

// AllowedApps replaces the allow-list when non-empty.
type AllowedApps struct {
	Header
	Apps []domain.AllowedApp
}

// ClientStatus is reported by the agent to the controller.
type ClientStatus struct {
	Header
	State         domain.SessionState
	ActiveApps    []string
	RemainingTime *int
	Error         string
}

// Error reports a controller or session error.
type Error struct {
	Header
	Error   string
	Details string
}

// RemoveClient tells the agent it has been removed by an administrator.
type RemoveClient struct{ Header }

// Auth carries login credentials (login profile, agent to controller).
type Auth struct {
	Header
	Username string
	Password string
}

// HandshakeAck acknowledges a login. Minutes is the available time.
type HandshakeAck struct {
	Header
	Minutes int
}

// AuthError rejects a login.
type AuthError struct {
	Header
	Message string
}

// AdminAuthSuccess signals that an administrator logged in at the kiosk.
type AdminAuthSuccess struct{ Header }

// Unknown is any well-formed record whose kind this agent does not know.
type Unknown struct {
	Header
	Type string
	Raw  json.RawMessage
}

func (Heartbeat) Kind() Kind        { return KindHeartbeat }
func (SessionStart) Kind() Kind     { return KindSessionStart }
func (SessionPause) Kind() Kind     { return KindSessionPause }
func (SessionResume) Kind() Kind    { return KindSessionResume }
func (SessionEnd) Kind() Kind       { return KindSessionEnd }
func (SessionExtend) Kind() Kind    { return KindSessionExtend }
func (AllowedApps) Kind() Kind      { return KindAllowedApps }
func (ClientStatus) Kind() Kind     { return KindClientStatus }
func (Error) Kind() Kind            { return KindError }
func (RemoveClient) Kind() Kind     { return KindRemoveClient }
func (Auth) Kind() Kind             { return KindAuth }
func (HandshakeAck) Kind() Kind     { return KindHandshakeAck }
func (AuthError) Kind() Kind        { return KindAuthError }
func (AdminAuthSuccess) Kind() Kind { return KindAdminAuthSuccess }
func (u Unknown) Kind() Kind        { return Kind(u.Type) }

func (h Header) Head() Header { return h }

func (Heartbeat) isMessage()        {}
func (SessionStart) isMessage()     {}
func (SessionPause) isMessage()     {}
func (SessionResume) isMessage()    {}
func (SessionEnd) isMessage()       {}
func (SessionExtend) isMessage()    {}
func (AllowedApps) isMessage()      {}
func (ClientStatus) isMessage()     {}
func (Error) isMessage()            {}
func (RemoveClient) isMessage()     {}
func (Auth) isMessage()             {}
func (HandshakeAck) isMessage()     {}
func (AuthError) isMessage()        {}
func (AdminAuthSuccess) isMessage() {}
func (Unknown) isMessage()          {}

// Handshake is the first record sent after connecting. It has no type field.
type Handshake struct {
	ClientIP string `json:"client_ip"`
}

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

var (
	// ErrMissingType is returned for records without a "type" field.
	ErrMissingType = errors.New("missing type field")

	// ErrMissingAppName is returned for app entries without a name.
	ErrMissingAppName = errors.New("app entry without name")

	// ErrLineTooLong is returned for records exceeding the reader limit.
	ErrLineTooLong = errors.New("record exceeds maximum line length")
)

// DecodeError is a malformed record. The caller logs and discards it;
// the stream stays open.
type DecodeError struct {
	Record string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed record %q: %v", e.Record, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// record is the union of all fields that can appear on the wire.
// Decoding is single-pass into this shape, then narrowed by Type.
type record struct {
	Type          string    `json:"type"`
	Timestamp     string    `json:"timestamp,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	Duration      *int      `json:"duration,omitempty"`
	State         string    `json:"state,omitempty"`
	Apps          []wireApp `json:"apps,omitempty"`
	ActiveApps    *[]string `json:"active_apps,omitempty"`
	RemainingTime *int      `json:"remaining_time,omitempty"`
	Error         string    `json:"error,omitempty"`
	Details       string    `json:"details,omitempty"`
	Message       string    `json:"message,omitempty"`
	Minutes       *int      `json:"minutes,omitempty"`
	Username      string    `json:"username,omitempty"`
	Password      string    `json:"password,omitempty"`
}

type wireApp struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	IconPath string `json:"icon_path"`
}

// Encode serializes a message as one newline-terminated record.
func Encode(m Message) ([]byte, error) {
	h := m.Head()
	rec := record{Type: string(m.Kind()), Timestamp: h.Timestamp, ClientID: h.ClientID}

	switch v := m.(type) {
	case Heartbeat, SessionPause, SessionResume, SessionEnd, RemoveClient, AdminAuthSuccess:
	case SessionStart:
		rec.Duration = intPtr(v.Duration)
		rec.State = string(domain.StateActive)
		rec.Apps = toWireApps(v.Apps)
	case SessionExtend:
		rec.Duration = intPtr(v.Duration)
	case AllowedApps:
		rec.Apps = toWireApps(v.Apps)
	case ClientStatus:
		active := v.ActiveApps
		if active == nil {
			active = []string{}
		}
		rec.State = string(v.State)
		rec.ActiveApps = &active
		rec.RemainingTime = v.RemainingTime
		rec.Error = v.Error
	case Error:
		rec.Error = v.Error
		rec.Details = v.Details
	case Auth:
		rec.Username = v.Username
		rec.Password = v.Password
	case HandshakeAck:
		rec.Minutes = intPtr(v.Minutes)
	case AuthError:
		rec.Message = v.Message
	case Unknown:
		if len(v.Raw) > 0 {
			return append(bytes.TrimSpace(v.Raw), '\n'), nil
		}
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", m)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return append(data, '\n'), nil
}

// EncodeHandshake serializes the connect-time handshake record.
func EncodeHandshake(h Handshake) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses one record. Unknown kinds decode to Unknown; malformed
// records return a *DecodeError.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)

	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, &DecodeError{Record: truncate(line), Err: err}
	}
	if rec.Type == "" {
		return nil, &DecodeError{Record: truncate(line), Err: ErrMissingType}
	}

	h := Header{Timestamp: rec.Timestamp, ClientID: rec.ClientID}

	switch Kind(rec.Type) {
	case KindHeartbeat:
		return Heartbeat{Header: h}, nil
	case KindSessionStart, KindSessionStarted:
		apps, err := fromWireApps(rec.Apps)
		if err != nil {
			return nil, &DecodeError{Record: truncate(line), Err: err}
		}
		return SessionStart{Header: h, Duration: deref(rec.Duration), Apps: apps}, nil
	case KindSessionPause:
		return SessionPause{Header: h}, nil
	case KindSessionResume:
		return SessionResume{Header: h}, nil
	case KindSessionEnd:
		return SessionEnd{Header: h}, nil
	case KindSessionExtend:
		return SessionExtend{Header: h, Duration: deref(rec.Duration)}, nil
	case KindAllowedApps:
		apps, err := fromWireApps(rec.Apps)
		if err != nil {
			return nil, &DecodeError{Record: truncate(line), Err: err}
		}
		return AllowedApps{Header: h, Apps: apps}, nil
	case KindClientStatus:
		var active []string
		if rec.ActiveApps != nil {
			active = *rec.ActiveApps
		}
		return ClientStatus{
			Header:        h,
			State:         domain.SessionState(rec.State),
			ActiveApps:    active,
			RemainingTime: rec.RemainingTime,
			Error:         rec.Error,
		}, nil
	case KindError:
		return Error{Header: h, Error: rec.Error, Details: rec.Details}, nil
	case KindSessionError:
		msg := rec.Message
		if msg == "" {
			msg = "Session error"
		}
		return Error{Header: h, Error: msg, Details: rec.Details}, nil
	case KindRemoveClient:
		return RemoveClient{Header: h}, nil
	case KindAuth:
		return Auth{Header: h, Username: rec.Username, Password: rec.Password}, nil
	case KindHandshakeAck:
		return HandshakeAck{Header: h, Minutes: deref(rec.Minutes)}, nil
	case KindAuthError:
		msg := rec.Message
		if msg == "" {
			msg = "Authentication failed"
		}
		return AuthError{Header: h, Message: msg}, nil
	case KindAdminAuthSuccess:
		return AdminAuthSuccess{Header: h}, nil
	default:
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		return Unknown{Header: h, Type: rec.Type, Raw: raw}, nil
	}
}

func toWireApps(apps []domain.AllowedApp) []wireApp {
	if len(apps) == 0 {
		return nil
	}
	out := make([]wireApp, len(apps))
	for i, a := range apps {
		out[i] = wireApp{Name: a.Name, Path: a.ExecutablePath, IconPath: a.IconPath}
	}
	return out
}

// fromWireApps converts wire entries, dropping later duplicates by name.
func fromWireApps(apps []wireApp) ([]domain.AllowedApp, error) {
	if apps == nil {
		return nil, nil
	}
	out := make([]domain.AllowedApp, 0, len(apps))
	seen := make(map[string]bool, len(apps))
	for _, a := range apps {
		if a.Name == "" {
			return nil, ErrMissingAppName
		}
		if seen[a.Name] {
			continue
		}
		seen[a.Name] = true
		out = append(out, domain.AllowedApp{Name: a.Name, ExecutablePath: a.Path, IconPath: a.IconPath})
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func truncate(line []byte) string {
	const max = 200
	if len(line) > max {
		return string(line[:max]) + "..."
	}
	return string(line)
}

package policy

import (
	"github.com/eliteGoblin/focusd/kiosk/internal/connection"
)

// PlainProfile implements Profile for the controller that identifies
// agents by address only and expects heartbeats.
type PlainProfile struct{}

// NewPlainProfile creates the plain controller profile.
func NewPlainProfile() *PlainProfile {
	return &PlainProfile{}
}

func (p *PlainProfile) ID() string {
	return "plain"
}

func (p *PlainProfile) Name() string {
	return "Plain controller"
}

// ConnectionConfig uses port 5000, five attempts two seconds apart and a
// five second heartbeat.
func (p *PlainProfile) ConnectionConfig(host string) connection.Config {
	cfg := connection.DefaultConfig()
	cfg.Host = host
	return cfg
}

func (p *PlainProfile) Handshaker() connection.Handshaker {
	return connection.AddressHandshake{}
}

func (p *PlainProfile) ReconnectAfterSessionEnd() bool {
	return false
}

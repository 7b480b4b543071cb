package policy

import (
	"errors"
	"time"

	"github.com/eliteGoblin/focusd/kiosk/internal/clock"
	"github.com/eliteGoblin/focusd/kiosk/internal/connection"
	"github.com/eliteGoblin/focusd/kiosk/internal/protocol"
)

// LoginPort is the controller port of the login protocol.
const LoginPort = 8765

// ErrNoCredentials is returned when the login profile has no username.
var ErrNoCredentials = errors.New("login profile requires a username")

// Credentials identify the kiosk user to a login controller.
type Credentials struct {
	Username string
	Password string
}

// LoginProfile implements Profile for the controller that authenticates a
// user on connect. It retries forever and has no heartbeat.
type LoginProfile struct {
	creds Credentials
	clock clock.Clock
}

// NewLoginProfile creates the login controller profile.
func NewLoginProfile(creds Credentials) *LoginProfile {
	return &LoginProfile{creds: creds, clock: clock.Real()}
}

// NewLoginProfileWithClock creates a login profile with a custom clock (for testing).
func NewLoginProfileWithClock(creds Credentials, clk clock.Clock) *LoginProfile {
	return &LoginProfile{creds: creds, clock: clk}
}

func (p *LoginProfile) ID() string {
	return "login"
}

func (p *LoginProfile) Name() string {
	return "Login controller"
}

// ConnectionConfig uses port 8765 and retries every three seconds without
// an attempt ceiling.
func (p *LoginProfile) ConnectionConfig(host string) connection.Config {
	cfg := connection.DefaultConfig()
	cfg.Host = host
	cfg.Port = LoginPort
	cfg.ReconnectAttempts = 0
	cfg.ReconnectDelay = 3 * time.Second
	cfg.HeartbeatInterval = 0
	cfg.WriteTimeout = 5 * time.Second
	cfg.DebounceDelay = 300 * time.Millisecond
	return cfg
}

func (p *LoginProfile) Handshaker() connection.Handshaker {
	return p
}

// HandshakeRecords sends the address record followed by the auth record.
func (p *LoginProfile) HandshakeRecords(localAddr string) ([][]byte, error) {
	if p.creds.Username == "" {
		return nil, ErrNoCredentials
	}

	records, err := connection.AddressHandshake{}.HandshakeRecords(localAddr)
	if err != nil {
		return nil, err
	}

	auth, err := protocol.Encode(protocol.Auth{
		Header:   protocol.NewHeader("", p.clock.Now()),
		Username: p.creds.Username,
		Password: p.creds.Password,
	})
	if err != nil {
		return nil, err
	}
	return append(records, auth), nil
}

func (p *LoginProfile) ReconnectAfterSessionEnd() bool {
	return true
}

//go:build !windows

package lockdown

import "github.com/eliteGoblin/focusd/kiosk/internal/domain"

type unsupportedInterceptor struct{}

// NewInterceptor returns an interceptor that always fails with
// ErrUnsupported; the agent then runs without input lockdown.
func NewInterceptor() domain.KeyInterceptor {
	return unsupportedInterceptor{}
}

func (unsupportedInterceptor) Hook(func(domain.KeyEvent) bool) (func() error, error) {
	return nil, ErrUnsupported
}

package agent

import (
	"time"

	"github.com/eliteGoblin/focusd/kiosk/internal/clock"
	"github.com/eliteGoblin/focusd/kiosk/internal/session"
)

var _ session.Countdown = (*tickerCountdown)(nil)

// tickerCountdown drives session ticks from a one-second clock ticker. It is
// started and stopped by the machine, which only runs on the agent loop, so
// it needs no locking.
type tickerCountdown struct {
	clock  clock.Clock
	ticker *clock.Ticker
}

func newTickerCountdown(clk clock.Clock) *tickerCountdown {
	return &tickerCountdown{clock: clk}
}

func (c *tickerCountdown) Start() {
	c.Stop()
	c.ticker = c.clock.NewTicker(time.Second)
}

func (c *tickerCountdown) Stop() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.ticker = nil
}

// C returns the tick channel, or nil while stopped so a select on it blocks.
func (c *tickerCountdown) C() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C
}

package sim

import (
	"fmt"
	"time"
)

// Clock tracks monotonic simulated time. One Tick advances the clock by the
// configured interval; when RealtimeFactor > 0 the clock also sleeps the
// scaled wall-time so a dashboard can watch the run live.
type Clock struct {
	CurrentTime    float64 // simulated seconds since start
	TickCount      int64
	TickIntervalS  float64
	RealtimeFactor float64
}

// NewClock creates a Clock at time zero.
func NewClock(tickIntervalS, realtimeFactor float64) *Clock {
	return &Clock{
		TickIntervalS:  tickIntervalS,
		RealtimeFactor: realtimeFactor,
	}
}

// Tick advances simulated time by one interval. Sleeping happens here and
// only here; it is the sole voluntary suspension point in the engine.
func (c *Clock) Tick() {
	c.CurrentTime += c.TickIntervalS
	c.TickCount++
	if c.RealtimeFactor > 0 {
		time.Sleep(time.Duration(c.TickIntervalS * c.RealtimeFactor * float64(time.Second)))
	}
}

// Reset returns the clock to time zero without touching the configuration.
func (c *Clock) Reset() {
	c.CurrentTime = 0
	c.TickCount = 0
}

// Elapsed formats the simulated time since start as HH:MM:SS.
func (c *Clock) Elapsed() string {
	total := int64(c.CurrentTime)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// HourOfDay maps simulated time to a wall-clock hour. Runs start at 08:00
// by convention so diurnal profiles line up with a working day.
func (c *Clock) HourOfDay() float64 {
	return hourOfDay(c.CurrentTime)
}

func hourOfDay(simTime float64) float64 {
	h := simTime/3600.0 + 8.0
	h -= float64(int(h/24.0)) * 24.0
	if h < 0 {
		h += 24.0
	}
	return h
}

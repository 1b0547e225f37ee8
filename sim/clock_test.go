package sim

import (
	"testing"
)

// === Clock Tests ===

func TestClock_TickAdvancesTime(t *testing.T) {
	c := NewClock(60, 0)

	for i := 0; i < 5; i++ {
		c.Tick()
	}

	if c.TickCount != 5 {
		t.Errorf("TickCount = %d, want 5", c.TickCount)
	}
	if c.CurrentTime != 300 {
		t.Errorf("CurrentTime = %v, want 300", c.CurrentTime)
	}
}

func TestClock_Reset(t *testing.T) {
	c := NewClock(60, 0)
	c.Tick()
	c.Tick()

	c.Reset()

	if c.TickCount != 0 || c.CurrentTime != 0 {
		t.Errorf("after Reset: tick=%d time=%v, want 0/0", c.TickCount, c.CurrentTime)
	}
	if c.TickIntervalS != 60 {
		t.Errorf("Reset changed TickIntervalS to %v", c.TickIntervalS)
	}
}

func TestClock_Elapsed(t *testing.T) {
	tests := []struct {
		name  string
		timeS float64
		want  string
	}{
		{"zero", 0, "00:00:00"},
		{"one minute", 60, "00:01:00"},
		{"mixed", 3723, "01:02:03"},
		{"over a day", 90000, "25:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClock(60, 0)
			c.CurrentTime = tt.timeS
			if got := c.Elapsed(); got != tt.want {
				t.Errorf("Elapsed() = %q, want %q", got, tt.want)
			}
		})
	}
}

// === HourOfDay Tests ===

func TestClock_HourOfDay(t *testing.T) {
	// BDD: Simulated time zero maps to 08:00 and wraps at midnight
	tests := []struct {
		name  string
		timeS float64
		want  float64
	}{
		{"start of run", 0, 8.0},
		{"one hour in", 3600, 9.0},
		{"half hour in", 1800, 8.5},
		{"sixteen hours in wraps to midnight", 16 * 3600, 0.0},
		{"twenty hours in", 20 * 3600, 4.0},
		{"full day wraps to start", 24 * 3600, 8.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClock(60, 0)
			c.CurrentTime = tt.timeS
			got := c.HourOfDay()
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("HourOfDay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClock_HourOfDayInRange(t *testing.T) {
	c := NewClock(60, 0)
	for i := 0; i < 3000; i++ {
		c.Tick()
		h := c.HourOfDay()
		if h < 0 || h >= 24 {
			t.Fatalf("tick %d: HourOfDay() = %v, want [0, 24)", i, h)
		}
	}
}

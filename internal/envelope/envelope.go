// Package envelope schedules ADSR automation against backend parameters and
// allocates monophonic note-control voices, with portamento and stealing.
// Nothing here renders audio; the package emits timed automation calls only.
package envelope

import (
	"math"

	"github.com/cbegin/patchbay-go/render"
)

// Floor is the smallest value exponential ramps target. Exponential
// automation cannot reach zero; landing here is inaudible.
const Floor = 1e-4

// Curve selects the attack/release ramp shape.
type Curve int

const (
	CurveLinear Curve = iota
	CurveExponential
)

func (c Curve) String() string {
	if c == CurveExponential {
		return "exponential"
	}
	return "linear"
}

// Config holds ADSR stage parameters. Times are seconds, Sustain is the
// fraction of peak level held after decay.
type Config struct {
	Attack  float64
	Decay   float64
	Sustain float64
	Release float64
	Curve   Curve
}

// DefaultConfig is a short pluck with a musical release tail.
func DefaultConfig() Config {
	return Config{Attack: 0.01, Decay: 0.1, Sustain: 0.7, Release: 0.3, Curve: CurveExponential}
}

func (c Config) clamped() Config {
	c.Attack = math.Max(c.Attack, 0)
	c.Decay = math.Max(c.Decay, 0)
	c.Release = math.Max(c.Release, 0)
	c.Sustain = clamp(c.Sustain, 0, 1)
	return c
}

// ADSR drives one backend parameter with gate-shaped ramps. Retriggering is
// safe at any time: every trigger cancels automation scheduled at or after
// its own start.
type ADSR struct {
	target render.Param
	cfg    Config
	level  float64 // sustain level of the most recent trigger
}

// NewADSR wraps target. The config is clamped to valid ranges.
func NewADSR(target render.Param, cfg Config) *ADSR {
	return &ADSR{target: target, cfg: cfg.clamped()}
}

// Config returns the active (clamped) configuration.
func (a *ADSR) Config() Config { return a.cfg }

// SetConfig swaps stage parameters. Already-scheduled ramps keep their old
// shape; the next trigger uses the new one.
func (a *ADSR) SetConfig(cfg Config) { a.cfg = cfg.clamped() }

// Trigger schedules the full envelope at time at: attack to velocity, decay
// to velocity*sustain, then, when duration is positive, a hold anchored at
// at+duration-release (never before decay end) and a release ramp. A zero or
// negative duration leaves the gate held until Release.
func (a *ADSR) Trigger(velocity, at, duration float64) {
	vel := clamp(velocity, 0, 1)
	p := a.target
	attackEnd := at + a.cfg.Attack
	decayEnd := attackEnd + a.cfg.Decay
	sustainLevel := vel * a.cfg.Sustain

	p.CancelScheduledValues(at)
	if a.cfg.Curve == CurveExponential {
		p.SetValueAtTime(Floor, at)
		p.ExponentialRampToValueAtTime(math.Max(vel, Floor), attackEnd)
		p.ExponentialRampToValueAtTime(math.Max(sustainLevel, Floor), decayEnd)
	} else {
		p.SetValueAtTime(0, at)
		p.LinearRampToValueAtTime(vel, attackEnd)
		p.LinearRampToValueAtTime(sustainLevel, decayEnd)
	}
	a.level = sustainLevel

	if duration <= 0 {
		return
	}
	releaseStart := at + duration - a.cfg.Release
	if releaseStart < decayEnd {
		releaseStart = decayEnd
	}
	a.scheduleRelease(sustainLevel, releaseStart)
}

// Release schedules only the release ramp from the parameter's current
// value, for manual gate-off use.
func (a *ADSR) Release(at float64) {
	a.target.CancelScheduledValues(at)
	a.scheduleRelease(a.target.Value(), at)
}

func (a *ADSR) scheduleRelease(from, at float64) {
	p := a.target
	if a.cfg.Curve == CurveExponential {
		p.SetValueAtTime(math.Max(from, Floor), at)
		p.ExponentialRampToValueAtTime(Floor, at+a.cfg.Release)
	} else {
		p.SetValueAtTime(from, at)
		p.LinearRampToValueAtTime(0, at+a.cfg.Release)
	}
}

// NoteHz converts a MIDI note number to frequency (A4 = 69 = 440 Hz).
func NoteHz(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

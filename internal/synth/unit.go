package synth

import (
	"fmt"
	"math"

	"github.com/cbegin/patchbay-go/render"
)

// unit is one processing node inside the engine. All mutation happens under
// the engine lock; the render path reads it under the same lock.
type unit struct {
	eng  *Engine
	id   int
	kind render.UnitKind
	dsp  dsp

	inputs []*unit
	params map[string]*ParamTimeline
	pbufs  map[string][]float64

	startAt  float64
	stopAt   float64
	startGen int // bumped per Start, lets sample playback retrigger

	inL, inR   []float64
	outL, outR []float64
	closed     bool
}

func (u *unit) addParam(name string, def float64) {
	u.params[name] = newTimeline(&u.eng.mu, u.eng.Now, def)
	u.pbufs[name] = make([]float64, blockFrames)
}

// Connect adds an audio-rate connection into dst. Duplicate connections
// collapse; a foreign or closed endpoint is an error the graph layer treats
// as a transient.
func (u *unit) Connect(dst render.Unit) error {
	d, ok := dst.(*unit)
	if !ok || d.eng != u.eng {
		return fmt.Errorf("connect: unit belongs to a different backend")
	}
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	if u.closed || d.closed {
		return fmt.Errorf("connect: unit is closed")
	}
	for _, in := range d.inputs {
		if in == u {
			return nil
		}
	}
	d.inputs = append(d.inputs, u)
	u.eng.dirty = true
	return nil
}

// ConnectParam sums this unit's output into a parameter's effective value.
func (u *unit) ConnectParam(p render.Param) error {
	tl, ok := p.(*ParamTimeline)
	if !ok {
		return fmt.Errorf("connect: parameter belongs to a different backend")
	}
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	if u.closed {
		return fmt.Errorf("connect: unit is closed")
	}
	tl.addTap(u)
	u.eng.dirty = true
	return nil
}

// Disconnect removes every outgoing connection. Incoming connections stay.
func (u *unit) Disconnect() error {
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	u.eng.detachLocked(u)
	return nil
}

// Start schedules signal onset. Restarting is allowed and clears a pending
// stop; sample units rewind at the new start time.
func (u *unit) Start(at float64) error {
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	if u.closed {
		return fmt.Errorf("start: unit is closed")
	}
	u.startAt = math.Max(at, 0)
	u.stopAt = math.Inf(1)
	u.startGen++
	return nil
}

// Stop schedules signal end.
func (u *unit) Stop(at float64) error {
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	if u.closed {
		return fmt.Errorf("stop: unit is closed")
	}
	u.stopAt = math.Max(at, 0)
	return nil
}

// Param looks up an automatable parameter by name.
func (u *unit) Param(name string) (render.Param, bool) {
	tl, ok := u.params[name]
	return tl, ok
}

// Close releases the unit. Outgoing and incoming connections are dropped.
func (u *unit) Close() error {
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	u.eng.removeLocked(u)
	return nil
}

func (u *unit) activeAt(t float64) bool {
	return t >= u.startAt && t < u.stopAt
}

// prepare sums audio inputs and fills parameter blocks ahead of dsp.render.
// Delay units skip input summing; they ingest after the full pass so feedback
// loops resolve with one block of latency.
func (u *unit) prepare(n int, t0, dt float64) {
	if _, isDelay := u.dsp.(*delayDSP); !isDelay {
		u.sumInputs(n)
	}
	for name, tl := range u.params {
		tl.fill(u.pbufs[name][:n], t0, dt)
	}
}

func (u *unit) sumInputs(n int) {
	for k := 0; k < n; k++ {
		u.inL[k], u.inR[k] = 0, 0
	}
	for _, in := range u.inputs {
		for k := 0; k < n; k++ {
			u.inL[k] += in.outL[k]
			u.inR[k] += in.outR[k]
		}
	}
}

// SetBuffer installs sample data on a sample unit; other kinds ignore it.
func (u *unit) SetBuffer(data []float64) {
	s, ok := u.dsp.(*sampleDSP)
	if !ok {
		return
	}
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	s.buf = append([]float64(nil), data...)
}

// BufferReady reports whether a sample unit has data to play.
func (u *unit) BufferReady() bool {
	s, ok := u.dsp.(*sampleDSP)
	if !ok {
		return false
	}
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	return len(s.buf) > 0
}

// SetImpulse installs the convolution kernel on a convolver unit.
func (u *unit) SetImpulse(kernel []float64) {
	c, ok := u.dsp.(*convolverDSP)
	if !ok {
		return
	}
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	if err := c.setKernel(kernel); err != nil {
		logger.Warningf("convolver kernel rejected: %v", err)
	}
}

// SetWave selects the oscillator waveform.
func (u *unit) SetWave(w render.Wave) {
	o, ok := u.dsp.(*oscillatorDSP)
	if !ok {
		return
	}
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	o.wave = w
}

// SetFilterType selects the biquad response shape.
func (u *unit) SetFilterType(t render.FilterType) {
	f, ok := u.dsp.(*filterDSP)
	if !ok {
		return
	}
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	f.typ = t
	f.lastFreq = math.NaN() // force redesign on the next block
}

// Spectrum returns the magnitude spectrum of the most recent analysis
// window; nil for non-analyser units.
func (u *unit) Spectrum() []float64 {
	a, ok := u.dsp.(*analyserDSP)
	if !ok {
		return nil
	}
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	return a.spectrum()
}

// RMS returns the root-mean-square level of the most recent analysis window.
func (u *unit) RMS() float64 {
	a, ok := u.dsp.(*analyserDSP)
	if !ok {
		return 0
	}
	u.eng.mu.Lock()
	defer u.eng.mu.Unlock()
	return a.rms()
}

// Package param implements the modulatable parameter layer: one wrapper per
// automatable backend parameter, resolving either a plain value or a
// modulation source plus a base.
package param

import "github.com/cbegin/patchbay-go/render"

// SmoothTime is the ramp constant applied to live value edits so they land
// without clicks.
const SmoothTime = 0.02

// Source is a modulation generator (an LFO chain, in practice) whose live
// output the backend sums into the target parameter. The source is told what
// value to center around; this layer never adds the base itself.
type Source interface {
	SetCenter(v, now float64)
}

// Param wraps one automatable backend parameter.
type Param struct {
	target render.Param
	base   float64
	source Source
}

// New wraps target and anchors it at initial.
func New(target render.Param, initial, now float64) *Param {
	target.SetValueAtTime(initial, now)
	return &Param{target: target, base: initial}
}

// Target exposes the underlying backend parameter for schedulers (envelopes,
// gate pulses) that emit their own automation against it.
func (p *Param) Target() render.Param { return p.target }

// Base returns the configured static value, which doubles as the modulation
// center while a source is attached.
func (p *Param) Base() float64 { return p.base }

// Value reads the backend's current notion of the parameter value.
func (p *Param) Value() float64 { return p.target.Value() }

// Attached reports whether a modulation source currently drives the target.
func (p *Param) Attached() bool { return p.source != nil }

// Set applies v. With no source attached, prior future automation is
// cancelled and the backend value ramps to v over SmoothTime. With a source
// attached, only the center moves; the static value stays at zero.
func (p *Param) Set(v, now float64) {
	p.base = v
	if p.source != nil {
		p.source.SetCenter(v, now)
		return
	}
	cur := p.target.Value()
	p.target.CancelScheduledValues(now)
	p.target.SetValueAtTime(cur, now)
	p.target.LinearRampToValueAtTime(v, now+SmoothTime)
}

// AttachSource gives src full authority over the target: the static value is
// zeroed (an override, not an additive sum) and src is centered on the base.
func (p *Param) AttachSource(src Source, now float64) {
	p.source = src
	p.target.CancelScheduledValues(now)
	p.target.SetValueAtTime(0, now)
	src.SetCenter(p.base, now)
}

// Override zeroes the static value for an incoming dynamic connection that
// manages no center of its own (an audio-rate or control-rate unit wired
// straight into the parameter).
func (p *Param) Override(now float64) {
	p.target.CancelScheduledValues(now)
	p.target.SetValueAtTime(0, now)
}

// DetachSource drops the source. The static value stays at zero until the
// next Set, mirroring the attach override.
func (p *Param) DetachSource() {
	p.source = nil
}

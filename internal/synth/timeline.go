package synth

import (
	"math"
	"sort"
	"sync"
)

type autoKind uint8

const (
	autoSet autoKind = iota
	autoLinear
	autoExponential
)

type autoEvent struct {
	kind autoKind
	val  float64
	at   float64
}

// ParamTimeline is the automation schedule behind one unit parameter. Writers
// are the control thread (graph, envelopes, transport-driven triggers);
// readers are the render path, sample by sample. Both sides share the engine
// lock.
type ParamTimeline struct {
	mu     *sync.Mutex
	now    func() float64
	def    float64
	events []autoEvent
	taps   []*unit // unit outputs summed into the effective value
}

func newTimeline(mu *sync.Mutex, now func() float64, def float64) *ParamTimeline {
	return &ParamTimeline{mu: mu, now: now, def: def}
}

// Value reads the scheduled value at the engine's current render time.
func (p *ParamTimeline) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valueAt(p.now())
}

// SetValueAtTime holds v from time at until the next event.
func (p *ParamTimeline) SetValueAtTime(v, at float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insert(autoEvent{kind: autoSet, val: v, at: at})
}

// LinearRampToValueAtTime ramps linearly from the previous event to v at at.
func (p *ParamTimeline) LinearRampToValueAtTime(v, at float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insert(autoEvent{kind: autoLinear, val: v, at: at})
}

// ExponentialRampToValueAtTime ramps geometrically from the previous event to
// v at at. Both endpoints must be positive for a true exponential; a
// non-positive start holds its value until the ramp's end time.
func (p *ParamTimeline) ExponentialRampToValueAtTime(v, at float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insert(autoEvent{kind: autoExponential, val: v, at: at})
}

// CancelScheduledValues drops every event scheduled at or after at.
func (p *ParamTimeline) CancelScheduledValues(at float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.events[:0]
	for _, ev := range p.events {
		if ev.at < at {
			kept = append(kept, ev)
		}
	}
	p.events = kept
}

// insert keeps events time-sorted; among equal times the newest wins, so it
// lands last.
func (p *ParamTimeline) insert(ev autoEvent) {
	i := sort.Search(len(p.events), func(k int) bool { return p.events[k].at > ev.at })
	p.events = append(p.events, autoEvent{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = ev
}

// valueAt evaluates the schedule. Caller holds the lock.
func (p *ParamTimeline) valueAt(t float64) float64 {
	i := sort.Search(len(p.events), func(k int) bool { return p.events[k].at > t }) - 1
	if i < 0 {
		return p.def
	}
	cur := p.events[i]
	if i+1 < len(p.events) {
		next := p.events[i+1]
		span := next.at - cur.at
		switch {
		case next.kind == autoLinear && span > 0:
			return cur.val + (next.val-cur.val)*(t-cur.at)/span
		case next.kind == autoExponential && span > 0:
			if cur.val <= 0 || next.val <= 0 {
				return cur.val
			}
			return cur.val * math.Pow(next.val/cur.val, (t-cur.at)/span)
		}
	}
	return cur.val
}

// fill writes one block of scheduled values plus any tap contributions.
// Caller holds the lock. Events wholly in the past are pruned once the list
// grows, keeping the block's governing event as the new head.
func (p *ParamTimeline) fill(dst []float64, t0, dt float64) {
	if len(p.events) > 256 {
		i := sort.Search(len(p.events), func(k int) bool { return p.events[k].at > t0 }) - 1
		if i > 0 {
			p.events = append(p.events[:0], p.events[i:]...)
		}
	}
	for k := range dst {
		dst[k] = p.valueAt(t0 + float64(k)*dt)
	}
	for _, tap := range p.taps {
		for k := range dst {
			dst[k] += (tap.outL[k] + tap.outR[k]) * 0.5
		}
	}
}

func (p *ParamTimeline) addTap(u *unit) {
	for _, t := range p.taps {
		if t == u {
			return
		}
	}
	p.taps = append(p.taps, u)
}

func (p *ParamTimeline) removeTap(u *unit) {
	kept := p.taps[:0]
	for _, t := range p.taps {
		if t != u {
			kept = append(kept, t)
		}
	}
	p.taps = kept
}

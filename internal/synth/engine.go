// Package synth is the reference native backend: a block-based stereo
// synthesis engine with sample-accurate parameter automation. It satisfies
// render.Backend plus the optional Renderer and LivePlayer surfaces, so the
// same engine drives offline bounces and the live output device.
package synth

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/juju/loggo"

	"github.com/cbegin/patchbay-go/render"
)

var logger = loggo.GetLogger("patchbay.synth")

// blockFrames is the render quantum. Parameter automation is evaluated per
// sample inside a block; connection changes take effect on block boundaries.
const blockFrames = 128

// DefaultSampleRate is used when a caller asks for a non-positive rate.
const DefaultSampleRate = 44100

// Engine renders the unit graph in topological order, one block at a time.
// A single mutex guards the graph, every parameter timeline, and the render
// pass itself; automation writes interleave with renders but never tear them.
type Engine struct {
	mu     sync.Mutex
	sr     int
	frames int64 // total frames rendered, read atomically by Now

	nextID int
	units  []*unit
	dest   *unit

	order []*unit
	dirty bool

	live   *liveOutput
	closed bool
}

// New builds an engine at the given sample rate.
func New(sampleRate int) *Engine {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	e := &Engine{sr: sampleRate}
	e.dest = e.newUnitLocked(render.UnitGain, mixDSP{})
	return e
}

// Now reports the render clock in seconds. Safe without the engine lock.
func (e *Engine) Now() float64 {
	return float64(atomic.LoadInt64(&e.frames)) / float64(e.sr)
}

func (e *Engine) SampleRate() int {
	return e.sr
}

// Destination is the terminal mix bus. It sums whatever connects to it.
func (e *Engine) Destination() render.Unit {
	return e.dest
}

// CreateUnit allocates a processing unit of the given kind. Source kinds
// stay silent until Start.
func (e *Engine) CreateUnit(kind render.UnitKind) (render.Unit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("create %v unit: engine is closed", kind)
	}
	var u *unit
	switch kind {
	case render.UnitOscillator:
		u = e.newUnitLocked(kind, &oscillatorDSP{})
		u.addParam("frequency", 440)
		u.addParam("detune", 0)
	case render.UnitSample:
		u = e.newUnitLocked(kind, &sampleDSP{})
		u.addParam("gain", 1)
		u.addParam("rate", 1)
	case render.UnitConstant:
		u = e.newUnitLocked(kind, constantDSP{})
		u.addParam("offset", 1)
	case render.UnitGain:
		u = e.newUnitLocked(kind, gainDSP{})
		u.addParam("gain", 1)
	case render.UnitFilter:
		u = e.newUnitLocked(kind, newFilterDSP(float64(e.sr)))
		u.addParam("frequency", 1000)
		u.addParam("q", 0.707)
		u.addParam("gain", 0)
	case render.UnitDelay:
		d, err := newDelayDSP(float64(e.sr))
		if err != nil {
			return nil, fmt.Errorf("create delay unit: %w", err)
		}
		u = e.newUnitLocked(kind, d)
		u.addParam("time", 0.25)
	case render.UnitPan:
		u = e.newUnitLocked(kind, panDSP{})
		u.addParam("pan", 0)
	case render.UnitCompressor:
		c, err := newCompressorDSP(float64(e.sr))
		if err != nil {
			return nil, fmt.Errorf("create compressor unit: %w", err)
		}
		u = e.newUnitLocked(kind, c)
		u.addParam("threshold", -24)
		u.addParam("ratio", 4)
		u.addParam("attack", 0.003)
		u.addParam("release", 0.25)
	case render.UnitConvolver:
		u = e.newUnitLocked(kind, newConvolverDSP())
	case render.UnitAnalyser:
		a, err := newAnalyserDSP(float64(e.sr))
		if err != nil {
			return nil, fmt.Errorf("create analyser unit: %w", err)
		}
		u = e.newUnitLocked(kind, a)
	default:
		return nil, fmt.Errorf("create unit: unknown kind %v", kind)
	}
	return u, nil
}

func (e *Engine) newUnitLocked(kind render.UnitKind, d dsp) *unit {
	u := &unit{
		eng:     e,
		id:      e.nextID,
		kind:    kind,
		dsp:     d,
		params:  make(map[string]*ParamTimeline),
		pbufs:   make(map[string][]float64),
		startAt: math.Inf(1),
		stopAt:  math.Inf(1),
		inL:     make([]float64, blockFrames),
		inR:     make([]float64, blockFrames),
		outL:    make([]float64, blockFrames),
		outR:    make([]float64, blockFrames),
	}
	e.nextID++
	e.units = append(e.units, u)
	e.dirty = true
	return u
}

// Close tears down the engine. Further unit and render calls fail or no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	live := e.live
	e.live = nil
	if !e.closed {
		e.closed = true
		for _, u := range e.units {
			u.closed = true
		}
		e.units = nil
		e.order = nil
	}
	e.mu.Unlock()
	if live != nil {
		return live.close()
	}
	return nil
}

// detachLocked drops u's outgoing connections: audio inputs it feeds and
// parameter taps it modulates.
func (e *Engine) detachLocked(u *unit) {
	for _, d := range e.units {
		kept := d.inputs[:0]
		for _, in := range d.inputs {
			if in != u {
				kept = append(kept, in)
			}
		}
		d.inputs = kept
		for _, tl := range d.params {
			tl.removeTap(u)
		}
	}
	e.dirty = true
}

func (e *Engine) removeLocked(u *unit) {
	e.detachLocked(u)
	kept := e.units[:0]
	for _, v := range e.units {
		if v != u {
			kept = append(kept, v)
		}
	}
	e.units = kept
}

// reorder rebuilds the render order. Audio edges into delay units are left
// out because delays read line state written on the previous block, which is
// what lets feedback wiring settle instead of deadlocking the sort. Parameter
// taps always order the modulator first. Units caught in a remaining cycle
// render in creation order.
func (e *Engine) reorder() {
	indeg := make(map[*unit]int, len(e.units))
	succ := make(map[*unit][]*unit, len(e.units))
	for _, u := range e.units {
		indeg[u] = 0
	}
	addEdge := func(from, to *unit) {
		if _, ok := indeg[from]; !ok {
			return
		}
		succ[from] = append(succ[from], to)
		indeg[to]++
	}
	for _, d := range e.units {
		if _, isDelay := d.dsp.(*delayDSP); !isDelay {
			for _, in := range d.inputs {
				addEdge(in, d)
			}
		}
		for _, tl := range d.params {
			for _, tap := range tl.taps {
				addEdge(tap, d)
			}
		}
	}
	order := make([]*unit, 0, len(e.units))
	queue := make([]*unit, 0, len(e.units))
	for _, u := range e.units {
		if indeg[u] == 0 {
			queue = append(queue, u)
		}
	}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		order = append(order, u)
		for _, d := range succ[u] {
			indeg[d]--
			if indeg[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if len(order) < len(e.units) {
		for _, u := range e.units {
			if indeg[u] > 0 {
				order = append(order, u)
				logger.Debugf("unit %d (%v) is part of a cycle, rendering in creation order", u.id, u.kind)
			}
		}
	}
	e.order = order
}

// renderBlock advances the engine by n frames. Caller holds the lock.
func (e *Engine) renderBlock(n int) {
	if e.dirty {
		e.reorder()
		e.dirty = false
	}
	t0 := float64(atomic.LoadInt64(&e.frames)) / float64(e.sr)
	dt := 1 / float64(e.sr)
	for _, u := range e.order {
		u.prepare(n, t0, dt)
		u.dsp.render(u, n, t0, dt)
	}
	for _, u := range e.order {
		if d, ok := u.dsp.(*delayDSP); ok {
			d.ingest(u, n)
		}
	}
	atomic.AddInt64(&e.frames, int64(n))
}

// Render fills dst with interleaved stereo float32 frames and advances the
// clock. The live stream and offline bounces both come through here.
func (e *Engine) Render(dst []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	frames := len(dst) / 2
	if e.closed {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	off := 0
	for frames > 0 {
		n := frames
		if n > blockFrames {
			n = blockFrames
		}
		e.renderBlock(n)
		for k := 0; k < n; k++ {
			dst[off+2*k] = clip32(e.dest.outL[k])
			dst[off+2*k+1] = clip32(e.dest.outR[k])
		}
		off += 2 * n
		frames -= n
	}
}

func clip32(v float64) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return float32(v)
}

package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cbegin/patchbay-go/internal/envelope"
	"github.com/cbegin/patchbay-go/internal/midiout"
	"github.com/cbegin/patchbay-go/internal/param"
	"github.com/cbegin/patchbay-go/internal/pattern"
	"github.com/cbegin/patchbay-go/render"
)

// Control output port names on voice-like nodes. Poly voices append the pool
// index ("gate0", "frequency2"); unqualified names fan out over the pool.
const (
	PortFrequency = "frequency"
	PortGate      = "gate"
	PortVelocity  = "velocity"
)

// Node is one live graph entry: the declarative spec it was built from plus
// the backend units realizing it.
type Node struct {
	id   string
	kind Kind
	spec NodeSpec

	units  []render.Unit           // every unit owned by the node
	main   render.Unit             // default audio in/out, nil for control nodes
	params map[string]*param.Param // render-backed parameters by name

	// kind-specific behavior
	fb      render.Unit // delay feedback gain
	pat     pattern.Pattern
	env     *envelope.ADSR
	voice   *envelope.Voice
	poly    *envelope.PolyVoice
	vcUnits [][3]render.Unit // per-voice frequency/gate/velocity constants
	lfo     *lfoSource
	midi    *midiout.Port

	pending []pattern.TriggerEvent // sample triggers deferred on buffer load
}

// ID returns the node's document id.
func (n *Node) ID() string { return n.id }

// Kind returns the node's kind.
func (n *Node) Kind() Kind { return n.kind }

// Pattern returns the node's trigger pattern, nil for non-pattern kinds.
func (n *Node) Pattern() pattern.Pattern { return n.pat }

// Param looks up a render-backed modulatable parameter by name.
func (n *Node) Param(name string) (*param.Param, bool) {
	p, ok := n.params[name]
	return p, ok
}

// lfoSource manages an LFO's center constant for the param layer. The
// oscillator-through-depth chain and the center constant are both summed
// into the target parameter by the backend.
type lfoSource struct {
	osc    render.Unit
	depth  render.Unit
	center render.Unit
	offset render.Param
}

// SetCenter ramps the center constant to v, keeping live retunes clickless.
func (l *lfoSource) SetCenter(v, now float64) {
	cur := l.offset.Value()
	l.offset.CancelScheduledValues(now)
	l.offset.SetValueAtTime(cur, now)
	l.offset.LinearRampToValueAtTime(v, now+param.SmoothTime)
}

func (g *Graph) buildNode(spec NodeSpec, kind Kind) (*Node, error) {
	now := g.backend.Now()
	n := &Node{id: spec.ID, kind: kind, spec: spec, params: make(map[string]*param.Param)}
	if n.spec.Params == nil {
		n.spec.Params = make(map[string]float64)
	}

	switch kind {
	case KindOscillator:
		u, err := n.addUnit(g.backend, render.UnitOscillator)
		if err != nil {
			return nil, err
		}
		n.main = u
		applyWave(u, spec.Wave)
		n.wrapParam(u, "frequency", 440, now)
		n.wrapParam(u, "detune", 0, now)
		startQuiet(u, now)

	case KindSample:
		u, err := n.addUnit(g.backend, render.UnitSample)
		if err != nil {
			return nil, err
		}
		n.main = u
		n.wrapParam(u, "gain", 1, now)
		n.wrapParam(u, "rate", 1, now)
		if len(spec.Buffer) > 0 {
			if ss, ok := u.(render.SampleSetter); ok {
				ss.SetBuffer(spec.Buffer)
			}
		}

	case KindConstant:
		u, err := n.addUnit(g.backend, render.UnitConstant)
		if err != nil {
			return nil, err
		}
		n.main = u
		n.wrapParam(u, "offset", 1, now)
		startQuiet(u, now)

	case KindGain:
		u, err := n.addUnit(g.backend, render.UnitGain)
		if err != nil {
			return nil, err
		}
		n.main = u
		n.wrapParam(u, "gain", 1, now)

	case KindFilter:
		u, err := n.addUnit(g.backend, render.UnitFilter)
		if err != nil {
			return nil, err
		}
		n.main = u
		applyFilterType(u, spec.Filter)
		n.wrapParam(u, "frequency", 1000, now)
		n.wrapParam(u, "q", 0.707, now)
		n.wrapParam(u, "gain", 0, now)

	case KindDelay:
		u, err := n.addUnit(g.backend, render.UnitDelay)
		if err != nil {
			return nil, err
		}
		fb, err := n.addUnit(g.backend, render.UnitGain)
		if err != nil {
			return nil, err
		}
		n.main, n.fb = u, fb
		n.wrapParam(u, "time", 0.25, now)
		n.wrapParamAs(fb, "gain", "feedback", 0.35, now)

	case KindPan:
		u, err := n.addUnit(g.backend, render.UnitPan)
		if err != nil {
			return nil, err
		}
		n.main = u
		n.wrapParam(u, "pan", 0, now)

	case KindCompressor:
		u, err := n.addUnit(g.backend, render.UnitCompressor)
		if err != nil {
			return nil, err
		}
		n.main = u
		n.wrapParam(u, "threshold", -24, now)
		n.wrapParam(u, "ratio", 4, now)
		n.wrapParam(u, "attack", 0.003, now)
		n.wrapParam(u, "release", 0.25, now)

	case KindConvolver:
		u, err := n.addUnit(g.backend, render.UnitConvolver)
		if err != nil {
			return nil, err
		}
		n.main = u
		if len(spec.Impulse) > 0 {
			if is, ok := u.(render.ImpulseSetter); ok {
				is.SetImpulse(spec.Impulse)
			}
		}

	case KindADSR:
		u, err := n.addUnit(g.backend, render.UnitGain)
		if err != nil {
			return nil, err
		}
		n.main = u
		cfg := envelope.DefaultConfig()
		if spec.Envelope != nil {
			cfg = spec.Envelope.config()
		}
		gain, ok := u.Param("gain")
		if !ok {
			return nil, fmt.Errorf("adsr gain unit exposes no gain parameter")
		}
		gain.SetValueAtTime(0, now) // closed until triggered
		n.env = envelope.NewADSR(gain, cfg)
		n.spec.Envelope = envelopeSpec(n.env.Config())

	case KindAnalyser:
		u, err := n.addUnit(g.backend, render.UnitAnalyser)
		if err != nil {
			return nil, err
		}
		n.main = u

	case KindOut:
		u, err := n.addUnit(g.backend, render.UnitGain)
		if err != nil {
			return nil, err
		}
		n.main = u
		n.wrapParam(u, "gain", 0.8, now)

	case KindMIDIOut:
		n.midi = midiout.New(g.backend, uint8(spec.Channel), g.midiSender)

	case KindStepSeq:
		n.pat = &pattern.StepPattern{Steps: append([]pattern.Step(nil), spec.Steps...)}

	case KindPianoRoll:
		length := spec.Length
		if length <= 0 {
			length = 16
		}
		notes := make([]pattern.Note, len(spec.Notes))
		for i, note := range spec.Notes {
			if note.Velocity <= 0 {
				note.Velocity = pattern.DefaultVelocity
			}
			notes[i] = note
		}
		n.pat = &pattern.PianoRoll{Length: length, Notes: notes}
		n.spec.Length = length
		n.spec.Notes = notes

	case KindVoice:
		outs, err := n.addVoiceUnits(g.backend, 1, now)
		if err != nil {
			return nil, err
		}
		n.voice = envelope.NewVoice(outs[0], voiceConfig(spec.Voice))

	case KindPolyVoice:
		pool := 4
		if spec.Voice != nil && spec.Voice.Pool > 0 {
			pool = spec.Voice.Pool
		}
		outs, err := n.addVoiceUnits(g.backend, pool, now)
		if err != nil {
			return nil, err
		}
		n.poly = envelope.NewPolyVoice(outs, voiceConfig(spec.Voice))
		if n.spec.Voice == nil {
			n.spec.Voice = &VoiceSpec{}
		}
		n.spec.Voice.Pool = pool

	case KindLFO:
		osc, err := n.addUnit(g.backend, render.UnitOscillator)
		if err != nil {
			return nil, err
		}
		depth, err := n.addUnit(g.backend, render.UnitGain)
		if err != nil {
			return nil, err
		}
		center, err := n.addUnit(g.backend, render.UnitConstant)
		if err != nil {
			return nil, err
		}
		applyWave(osc, spec.Wave)
		n.wrapParamAs(osc, "frequency", "rate", 2, now)
		n.wrapParamAs(depth, "gain", "depth", 1, now)
		offset, ok := center.Param("offset")
		if !ok {
			return nil, fmt.Errorf("lfo center unit exposes no offset parameter")
		}
		offset.SetValueAtTime(0, now)
		n.lfo = &lfoSource{osc: osc, depth: depth, center: center, offset: offset}
		startQuiet(osc, now)
		startQuiet(center, now)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
	return n, nil
}

// addUnit creates and tracks one backend unit.
func (n *Node) addUnit(b render.Backend, kind render.UnitKind) (render.Unit, error) {
	u, err := b.CreateUnit(kind)
	if err != nil {
		return nil, fmt.Errorf("create %v unit: %w", kind, err)
	}
	n.units = append(n.units, u)
	return u, nil
}

func (n *Node) addVoiceUnits(b render.Backend, count int, now float64) ([]envelope.VoiceOutputs, error) {
	outs := make([]envelope.VoiceOutputs, count)
	n.vcUnits = make([][3]render.Unit, count)
	for i := 0; i < count; i++ {
		var trio [3]render.Unit
		var ps [3]render.Param
		for j := 0; j < 3; j++ {
			u, err := n.addUnit(b, render.UnitConstant)
			if err != nil {
				return nil, err
			}
			p, ok := u.Param("offset")
			if !ok {
				return nil, fmt.Errorf("constant unit exposes no offset parameter")
			}
			p.SetValueAtTime(0, now)
			startQuiet(u, now)
			trio[j], ps[j] = u, p
		}
		n.vcUnits[i] = trio
		outs[i] = envelope.VoiceOutputs{Frequency: ps[0], Gate: ps[1], Velocity: ps[2]}
	}
	return outs, nil
}

// wrapParam exposes a unit parameter under its own name with a default that
// the spec's Params map may override. The effective value is written back to
// the spec so Describe reports explicit documents.
func (n *Node) wrapParam(u render.Unit, name string, def, now float64) {
	n.wrapParamAs(u, name, name, def, now)
}

func (n *Node) wrapParamAs(u render.Unit, unitName, name string, def, now float64) {
	rp, ok := u.Param(unitName)
	if !ok {
		return
	}
	v := def
	if sv, ok := n.spec.Params[name]; ok {
		v = sv
	}
	n.params[name] = param.New(rp, v, now)
	n.spec.Params[name] = v
}

func voiceConfig(spec *VoiceSpec) envelope.VoiceConfig {
	if spec == nil {
		return envelope.VoiceConfig{}
	}
	return spec.config()
}

func applyWave(u render.Unit, wave string) {
	ws, ok := u.(render.WaveSetter)
	if !ok {
		return
	}
	switch wave {
	case "square":
		ws.SetWave(render.WaveSquare)
	case "sawtooth", "saw":
		ws.SetWave(render.WaveSawtooth)
	case "triangle":
		ws.SetWave(render.WaveTriangle)
	default:
		ws.SetWave(render.WaveSine)
	}
}

func applyFilterType(u render.Unit, t string) {
	fs, ok := u.(render.FilterTypeSetter)
	if !ok {
		return
	}
	switch t {
	case "highpass":
		fs.SetFilterType(render.FilterHighpass)
	case "bandpass":
		fs.SetFilterType(render.FilterBandpass)
	case "notch":
		fs.SetFilterType(render.FilterNotch)
	case "peak", "peaking":
		fs.SetFilterType(render.FilterPeak)
	default:
		fs.SetFilterType(render.FilterLowpass)
	}
}

// startQuiet starts a source unit, ignoring errors from backends that treat
// restarts as misuse.
func startQuiet(u render.Unit, now float64) {
	_ = u.Start(now)
}

// disconnectOutputs drops every outgoing backend connection and detaches
// modulation sources so a following reconnect starts clean.
func (n *Node) disconnectOutputs() {
	for _, u := range n.units {
		_ = u.Disconnect()
	}
	for _, p := range n.params {
		if p.Attached() {
			p.DetachSource()
		}
	}
}

// connectInternal rebuilds node-internal auxiliary paths after a full
// disconnect: the delay feedback loop and the LFO's oscillator-to-depth leg.
func (n *Node) connectInternal() {
	switch n.kind {
	case KindDelay:
		if n.main != nil && n.fb != nil {
			_ = n.main.Connect(n.fb)
			_ = n.fb.Connect(n.main)
		}
	case KindLFO:
		if n.lfo != nil {
			_ = n.lfo.osc.Connect(n.lfo.depth)
		}
	}
}

// close stops and releases everything the node owns.
func (n *Node) close(now float64) {
	for _, u := range n.units {
		_ = u.Stop(now)
		_ = u.Disconnect()
		_ = u.Close()
	}
	n.units = nil
	if n.midi != nil {
		n.midi.Close()
	}
}

// controlPort reports whether the port names a voice control output rather
// than an audio output.
func (n *Node) controlPort(port string) bool {
	if n.kind != KindVoice && n.kind != KindPolyVoice {
		return false
	}
	base, _ := splitPortIndex(port)
	switch base {
	case PortFrequency, PortGate, PortVelocity, "note":
		return true
	}
	return false
}

// outputsFor resolves a source port to backend units. ok is false when the
// port does not exist on this node; an existing port may still resolve to no
// units (voice default output, trigger-only).
func (n *Node) outputsFor(port string) ([]render.Unit, bool) {
	switch n.kind {
	case KindVoice, KindPolyVoice:
		if port == "" {
			return nil, true
		}
		base, idx := splitPortIndex(port)
		var slot int
		switch base {
		case PortFrequency, "note":
			slot = 0
		case PortGate:
			slot = 1
		case PortVelocity:
			slot = 2
		default:
			return nil, false
		}
		if idx >= 0 {
			if idx >= len(n.vcUnits) {
				return nil, false
			}
			return []render.Unit{n.vcUnits[idx][slot]}, true
		}
		units := make([]render.Unit, 0, len(n.vcUnits))
		for _, trio := range n.vcUnits {
			units = append(units, trio[slot])
		}
		return units, true
	case KindLFO:
		if port != "" {
			return nil, false
		}
		return []render.Unit{n.lfo.depth, n.lfo.center}, true
	default:
		if port != "" && port != "out" {
			return nil, false
		}
		if n.main == nil {
			return nil, true // pattern and midi nodes: trigger-only source
		}
		return []render.Unit{n.main}, true
	}
}

// TriggerOnlyPort reports whether a source port carries trigger events with
// no backend signal path behind it (pattern and midi default outputs, the
// voice default output). Such edges exist purely for the router.
func (n *Node) TriggerOnlyPort(port string) bool {
	units, ok := n.outputsFor(port)
	return ok && len(units) == 0
}

// audioIn resolves the default audio input.
func (n *Node) audioIn() (render.Unit, bool) {
	switch n.kind {
	case KindGain, KindFilter, KindDelay, KindPan, KindCompressor,
		KindConvolver, KindADSR, KindAnalyser, KindOut:
		return n.main, n.main != nil
	}
	return nil, false
}

func splitPortIndex(port string) (string, int) {
	trimmed := strings.TrimRightFunc(port, func(r rune) bool { return r >= '0' && r <= '9' })
	if trimmed == port {
		return port, -1
	}
	idx, err := strconv.Atoi(port[len(trimmed):])
	if err != nil {
		return port, -1
	}
	return trimmed, idx
}

// ConsumeTrigger dispatches a delivered event by kind. The returned flag
// asks the router to re-emit the derived event along this node's outgoing
// edges; only voice-shaped nodes re-emit.
func (n *Node) ConsumeTrigger(ev pattern.TriggerEvent) (pattern.TriggerEvent, bool) {
	switch n.kind {
	case KindVoice:
		return n.voice.Consume(ev), true
	case KindPolyVoice:
		return n.poly.Consume(ev), true
	case KindADSR:
		n.env.Trigger(ev.Velocity, ev.Time, ev.Duration)
		return ev, false
	case KindSample:
		n.triggerSample(ev)
		return ev, false
	case KindMIDIOut:
		n.midi.Consume(ev)
		return ev, false
	}
	return ev, false
}

func (n *Node) triggerSample(ev pattern.TriggerEvent) {
	if ss, ok := n.main.(render.SampleSetter); ok && !ss.BufferReady() {
		n.pending = append(n.pending, ev)
		logger.Debugf("node %s: buffer not ready, deferring trigger at %f", n.id, ev.Time)
		return
	}
	if p, ok := n.params["gain"]; ok {
		p.Target().SetValueAtTime(ev.Velocity, ev.Time)
	}
	_ = n.main.Start(ev.Time)
}

// setBuffer installs sample data and replays triggers deferred while the
// buffer was loading.
func (n *Node) setBuffer(data []float64) {
	ss, ok := n.main.(render.SampleSetter)
	if !ok {
		return
	}
	ss.SetBuffer(data)
	pending := n.pending
	n.pending = nil
	for _, ev := range pending {
		n.triggerSample(ev)
	}
	if len(pending) > 0 {
		logger.Debugf("node %s: replayed %d deferred triggers", n.id, len(pending))
	}
}

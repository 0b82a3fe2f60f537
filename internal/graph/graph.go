// Package graph owns the node/edge topology and keeps the backend wired to
// match it. Rewiring is full-rebuild: disconnect everything, reconnect
// everything. O(E) per edit, which is fine for human-edited graphs, and it
// keeps repeated SetEdges calls idempotent.
package graph

import (
	"errors"
	"fmt"

	"github.com/juju/loggo"

	"github.com/cbegin/patchbay-go/internal/envelope"
	"github.com/cbegin/patchbay-go/internal/midiout"
	"github.com/cbegin/patchbay-go/internal/pattern"
	"github.com/cbegin/patchbay-go/render"
)

var logger = loggo.GetLogger("patchbay.graph")

var (
	// ErrUnknownKind rejects node specs whose kind is not in the vocabulary.
	ErrUnknownKind = errors.New("unknown node kind")
	// ErrDuplicateID rejects AddNode with an id already live.
	ErrDuplicateID = errors.New("duplicate node id")
)

// Graph is the live topology plus the backend units realizing it. Not safe
// for concurrent use; the engine serializes access.
type Graph struct {
	backend    render.Backend
	midiSender midiout.Sender
	nodes      map[string]*Node
	order      []string // insertion order for stable iteration
	edges      []Edge
	nextID     int
}

// New builds an empty graph over the backend. sender may be nil; midiout
// nodes are then inert.
func New(backend render.Backend, sender midiout.Sender) *Graph {
	return &Graph{
		backend:    backend,
		midiSender: sender,
		nodes:      make(map[string]*Node),
	}
}

// Len reports the live node count.
func (g *Graph) Len() int { return len(g.nodes) }

// Node looks up a live node.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// PatternNodes returns pattern-bearing nodes in insertion order.
func (g *Graph) PatternNodes() []*Node {
	var out []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.pat != nil {
			out = append(out, n)
		}
	}
	return out
}

// EdgesFrom returns the live edges leaving a node.
func (g *Graph) EdgesFrom(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// Edges returns a copy of the live edge list.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// AddNode validates kind and id, allocates backend units, and wires the
// node's internal paths. Sinks connect to the destination immediately so a
// minimal add-only session makes sound. Empty ids are generated.
func (g *Graph) AddNode(spec NodeSpec) (string, error) {
	kind, err := ParseKind(spec.Kind)
	if err != nil {
		return "", err
	}
	if spec.ID == "" {
		spec.ID = g.generateID(kind)
	} else if _, exists := g.nodes[spec.ID]; exists {
		return "", fmt.Errorf("%w: %q", ErrDuplicateID, spec.ID)
	}
	spec.Kind = kind.String()

	n, err := g.buildNode(spec, kind)
	if err != nil {
		return "", err
	}
	g.nodes[spec.ID] = n
	g.order = append(g.order, spec.ID)
	n.connectInternal()
	if kind == KindOut {
		g.connectSink(n)
	}
	logger.Debugf("added node %s (%v)", spec.ID, kind)
	return spec.ID, nil
}

// RemoveNode tears a node down and drops every edge that touches it.
// Unknown ids are a logged no-op.
func (g *Graph) RemoveNode(id string) {
	n, ok := g.nodes[id]
	if !ok {
		logger.Warningf("remove: no node %q", id)
		return
	}
	n.close(g.backend.Now())
	delete(g.nodes, id)
	for i, oid := range g.order {
		if oid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	logger.Debugf("removed node %s", id)
}

// SetEdges replaces the whole edge set and rebuilds backend wiring from
// scratch: filter invalid edges, disconnect every output, restore node
// internals, connect every edge, reconnect sinks. Calling it twice with the
// same set lands on the same connections.
func (g *Graph) SetEdges(edges []Edge) {
	now := g.backend.Now()
	g.edges = g.filterEdges(edges)

	for _, id := range g.order {
		g.nodes[id].disconnectOutputs()
	}
	for _, id := range g.order {
		g.nodes[id].connectInternal()
	}
	for _, e := range g.edges {
		g.connectEdge(e, now)
	}
	for _, id := range g.order {
		if n := g.nodes[id]; n.kind == KindOut {
			g.connectSink(n)
		}
	}
}

// filterEdges drops edges with dead endpoints or unknown ports. A partially
// valid set still wires; a dropped edge leaves silence where it pointed.
func (g *Graph) filterEdges(edges []Edge) []Edge {
	valid := make([]Edge, 0, len(edges))
	for _, e := range edges {
		src, ok := g.nodes[e.Source]
		if !ok {
			logger.Warningf("edge %s->%s: no source node", e.Source, e.Target)
			continue
		}
		dst, ok := g.nodes[e.Target]
		if !ok {
			logger.Warningf("edge %s->%s: no target node", e.Source, e.Target)
			continue
		}
		if _, ok := src.outputsFor(e.SourcePort); !ok {
			logger.Warningf("edge %s->%s: no source port %q", e.Source, e.Target, e.SourcePort)
			continue
		}
		if !g.validTarget(dst, e.TargetPort) {
			logger.Warningf("edge %s->%s: no target port %q", e.Source, e.Target, e.TargetPort)
			continue
		}
		valid = append(valid, e)
	}
	return valid
}

func (g *Graph) validTarget(dst *Node, port string) bool {
	if port == "" || port == "in" {
		if _, ok := dst.audioIn(); ok {
			return true
		}
		return dst.kind.TriggerCapable()
	}
	_, ok := dst.params[port]
	return ok
}

// connectEdge wires one validated edge. Audio goes unit-to-unit; parameter
// targets get their static value overridden to zero before the dynamic
// signal is summed in. Backend errors here are hot-rewire transients and are
// logged at debug, never surfaced.
func (g *Graph) connectEdge(e Edge, now float64) {
	src := g.nodes[e.Source]
	dst := g.nodes[e.Target]

	if e.TargetPort == "" || e.TargetPort == "in" {
		if src.controlPort(e.SourcePort) {
			return // trigger-only routing, no backend wiring
		}
		in, ok := dst.audioIn()
		if !ok {
			return // trigger-capable target without an audio input
		}
		units, _ := src.outputsFor(e.SourcePort)
		for _, u := range units {
			if err := u.Connect(in); err != nil {
				logger.Debugf("connect %s->%s: %v", e.Source, e.Target, err)
			}
		}
		return
	}

	p := dst.params[e.TargetPort]
	if src.kind == KindLFO && e.SourcePort == "" {
		p.AttachSource(src.lfo, now)
	} else {
		p.Override(now)
	}
	units, _ := src.outputsFor(e.SourcePort)
	for _, u := range units {
		if err := u.ConnectParam(p.Target()); err != nil {
			logger.Debugf("connect %s->%s.%s: %v", e.Source, e.Target, e.TargetPort, err)
		}
	}
}

func (g *Graph) connectSink(n *Node) {
	if n.main == nil {
		return
	}
	if err := n.main.Connect(g.backend.Destination()); err != nil {
		logger.Debugf("sink %s: %v", n.id, err)
	}
}

// UpdateNodeParam routes a value to a render-backed parameter (smoothed) or
// a kind-specific config field. Unknown targets are a logged no-op.
func (g *Graph) UpdateNodeParam(id, name string, v float64) {
	n, ok := g.nodes[id]
	if !ok {
		logger.Warningf("update %s.%s: no such node", id, name)
		return
	}
	now := g.backend.Now()
	if p, ok := n.params[name]; ok {
		p.Set(v, now)
		n.spec.Params[name] = v
		return
	}
	if n.updateConfigValue(name, v) {
		return
	}
	logger.Warningf("update %s.%s: no such parameter", id, name)
}

// updateConfigValue handles non-render numeric config: envelope stages and
// voice portamento.
func (n *Node) updateConfigValue(name string, v float64) bool {
	switch n.kind {
	case KindADSR:
		cfg := n.env.Config()
		switch name {
		case "attack":
			cfg.Attack = v
		case "decay":
			cfg.Decay = v
		case "sustain":
			cfg.Sustain = v
		case "release":
			cfg.Release = v
		default:
			return false
		}
		n.env.SetConfig(cfg)
		n.spec.Envelope = envelopeSpec(n.env.Config())
		return true
	case KindVoice, KindPolyVoice:
		if name != "portamento" {
			return false
		}
		if n.spec.Voice == nil {
			n.spec.Voice = &VoiceSpec{}
		}
		n.spec.Voice.Portamento = v
		cfg := n.spec.Voice.config()
		if n.voice != nil {
			n.voice.SetConfig(cfg)
		}
		if n.poly != nil {
			n.poly.SetConfig(cfg)
		}
		return true
	}
	return false
}

// SetNodeBuffer installs sample data on a sample node, releasing any
// deferred triggers. Other kinds ignore it with a diagnostic.
func (g *Graph) SetNodeBuffer(id string, data []float64) {
	n, ok := g.nodes[id]
	if !ok || n.kind != KindSample {
		logger.Warningf("set buffer: no sample node %q", id)
		return
	}
	n.setBuffer(data)
	n.spec.Buffer = data
}

// Apply reconciles the live graph against a whole document: vanished nodes
// are removed, new ones created, survivors updated in place (or rebuilt when
// their kind changed), then the edge set is replaced. Per-node failures are
// logged and skipped so a partially valid document still runs.
func (g *Graph) Apply(doc Document) {
	desired := make(map[string]NodeSpec, len(doc.Nodes))
	for _, spec := range doc.Nodes {
		if spec.ID == "" {
			logger.Warningf("apply: dropping node spec without id (kind %q)", spec.Kind)
			continue
		}
		desired[spec.ID] = spec
	}

	for _, id := range append([]string(nil), g.order...) {
		if _, keep := desired[id]; !keep {
			g.RemoveNode(id)
		}
	}

	for _, spec := range doc.Nodes {
		if spec.ID == "" {
			continue
		}
		live, exists := g.nodes[spec.ID]
		if exists && g.needsRebuild(live, spec) {
			g.RemoveNode(spec.ID)
			exists = false
		}
		if !exists {
			if _, err := g.AddNode(spec); err != nil {
				logger.Warningf("apply: node %s: %v", spec.ID, err)
			}
			continue
		}
		g.updateNode(live, spec)
	}

	g.SetEdges(doc.Edges)
}

func (g *Graph) needsRebuild(live *Node, spec NodeSpec) bool {
	if live.kind.String() != spec.Kind {
		return true
	}
	if live.kind == KindPolyVoice && spec.Voice != nil && spec.Voice.Pool > 0 &&
		spec.Voice.Pool != len(live.vcUnits) {
		return true
	}
	return false
}

// updateNode mutates a live node in place from a fresh spec.
func (g *Graph) updateNode(n *Node, spec NodeSpec) {
	now := g.backend.Now()
	for name, v := range spec.Params {
		if p, ok := n.params[name]; ok {
			p.Set(v, now)
			n.spec.Params[name] = v
		} else if !n.updateConfigValue(name, v) {
			logger.Warningf("apply: node %s has no parameter %q", n.id, name)
		}
	}
	if spec.Wave != "" && spec.Wave != n.spec.Wave {
		switch n.kind {
		case KindOscillator:
			applyWave(n.main, spec.Wave)
		case KindLFO:
			applyWave(n.lfo.osc, spec.Wave)
		}
		n.spec.Wave = spec.Wave
	}
	if spec.Filter != "" && spec.Filter != n.spec.Filter {
		applyFilterType(n.main, spec.Filter)
		n.spec.Filter = spec.Filter
	}
	if spec.Steps != nil {
		if sp, ok := n.pat.(*pattern.StepPattern); ok {
			sp.Steps = append([]pattern.Step(nil), spec.Steps...)
			n.spec.Steps = sp.Steps
		}
	}
	if spec.Notes != nil || spec.Length > 0 {
		if pr, ok := n.pat.(*pattern.PianoRoll); ok {
			if spec.Length > 0 {
				pr.Length = spec.Length
				n.spec.Length = spec.Length
			}
			if spec.Notes != nil {
				notes := make([]pattern.Note, len(spec.Notes))
				for i, note := range spec.Notes {
					if note.Velocity <= 0 {
						note.Velocity = pattern.DefaultVelocity
					}
					notes[i] = note
				}
				pr.Notes = notes
				n.spec.Notes = notes
			}
		}
	}
	if spec.Envelope != nil && n.env != nil {
		n.env.SetConfig(spec.Envelope.config())
		n.spec.Envelope = envelopeSpec(n.env.Config())
	}
	if spec.Voice != nil {
		cfg := spec.Voice.config()
		if n.voice != nil {
			n.voice.SetConfig(cfg)
		}
		if n.poly != nil {
			n.poly.SetConfig(cfg)
		}
		pool := 0
		if n.spec.Voice != nil {
			pool = n.spec.Voice.Pool
		}
		v := *spec.Voice
		v.Notes = append([]int(nil), spec.Voice.Notes...)
		if n.kind == KindPolyVoice {
			v.Pool = pool
		}
		n.spec.Voice = &v
	}
	if len(spec.Buffer) > 0 && n.kind == KindSample {
		n.setBuffer(spec.Buffer)
		n.spec.Buffer = spec.Buffer
	}
	if len(spec.Impulse) > 0 && n.kind == KindConvolver {
		if is, ok := n.main.(render.ImpulseSetter); ok {
			is.SetImpulse(spec.Impulse)
			n.spec.Impulse = spec.Impulse
		}
	}
}

// Describe returns the equivalent declarative description of the live graph.
// Pure: no backend calls, deep-copied, safe to serialize.
func (g *Graph) Describe() ([]NodeSpec, []Edge) {
	nodes := make([]NodeSpec, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, copySpec(g.nodes[id].spec))
	}
	return nodes, append([]Edge(nil), g.edges...)
}

func copySpec(s NodeSpec) NodeSpec {
	out := s
	if s.Params != nil {
		out.Params = make(map[string]float64, len(s.Params))
		for k, v := range s.Params {
			out.Params[k] = v
		}
	}
	out.Steps = append([]pattern.Step(nil), s.Steps...)
	out.Notes = append([]pattern.Note(nil), s.Notes...)
	out.Buffer = append([]float64(nil), s.Buffer...)
	out.Impulse = append([]float64(nil), s.Impulse...)
	if s.Envelope != nil {
		e := *s.Envelope
		out.Envelope = &e
	}
	if s.Voice != nil {
		v := *s.Voice
		v.Notes = append([]int(nil), s.Voice.Notes...)
		out.Voice = &v
	}
	return out
}

// Close tears down every node. The graph is unusable afterwards.
func (g *Graph) Close() {
	now := g.backend.Now()
	for _, id := range g.order {
		g.nodes[id].close(now)
	}
	g.nodes = make(map[string]*Node)
	g.order = nil
	g.edges = nil
}

func (g *Graph) generateID(kind Kind) string {
	for {
		g.nextID++
		id := fmt.Sprintf("%s-%d", kind, g.nextID)
		if _, exists := g.nodes[id]; !exists {
			return id
		}
	}
}

// Envelope returns a node's ADSR engine for manual release use; nil for
// other kinds.
func (n *Node) Envelope() *envelope.ADSR { return n.env }

// Package route propagates trigger events from pattern-bearing nodes through
// the graph. Delivery is synchronous and depth-first; by the time Fire
// returns, every reachable consumer has scheduled its automation for the
// event's absolute time.
package route

import (
	"github.com/juju/loggo"

	"github.com/cbegin/patchbay-go/internal/graph"
	"github.com/cbegin/patchbay-go/internal/pattern"
)

var logger = loggo.GetLogger("patchbay.route")

// Router walks the live graph on behalf of the transport. It owns no state
// beyond the graph reference; the engine serializes calls.
type Router struct {
	g *graph.Graph
}

// New builds a router over the graph.
func New(g *graph.Graph) *Router {
	return &Router{g: g}
}

// Fire evaluates every pattern node at the logical step and delivers the
// resulting events. at is the absolute render-clock time the step is due,
// stepDur the nominal step length in seconds. Returns the number of events
// that fired, for diagnostics.
func (r *Router) Fire(step int64, at, stepDur float64) int {
	fired := 0
	for _, n := range r.g.PatternNodes() {
		for _, ev := range n.Pattern().EventsAt(step, at, stepDur) {
			ev.SourceID = n.ID()
			visited := map[string]bool{n.ID(): true}
			r.deliver(n.ID(), ev, visited)
			fired++
		}
	}
	return fired
}

// deliver pushes one event along a node's outgoing edges. Each propagation
// consumes a node at most once, so cyclic control wiring terminates.
func (r *Router) deliver(from string, ev pattern.TriggerEvent, visited map[string]bool) {
	src, ok := r.g.Node(from)
	if !ok {
		return
	}
	for _, e := range r.g.EdgesFrom(from) {
		target, ok := r.g.Node(e.Target)
		if !ok {
			continue
		}
		if e.TargetPort != "" && e.TargetPort != "in" {
			if src.TriggerOnlyPort(e.SourcePort) {
				pulse(target, e.TargetPort, ev)
			}
			continue
		}
		if !target.Kind().TriggerCapable() {
			continue // audio edge, nothing to consume
		}
		if visited[e.Target] {
			logger.Debugf("event from %s already consumed by %s, skipping", ev.SourceID, e.Target)
			continue
		}
		visited[e.Target] = true
		derived, reemit := target.ConsumeTrigger(ev)
		if reemit {
			r.deliver(e.Target, derived, visited)
		}
	}
}

// pulse drives a raw parameter wired to a trigger-only source port: value at
// the event time, back to zero when the event's duration elapses. Param edges
// with a backend signal path carry their own level and are never pulsed.
func pulse(target *graph.Node, port string, ev pattern.TriggerEvent) {
	p, ok := target.Param(port)
	if !ok {
		return
	}
	t := p.Target()
	t.CancelScheduledValues(ev.Time)
	t.SetValueAtTime(ev.Velocity, ev.Time)
	if ev.Duration > 0 {
		t.SetValueAtTime(0, ev.Time+ev.Duration)
	}
}

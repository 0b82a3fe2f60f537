// Package patchbay is the timing and signal-routing core of a declarative
// audio-graph toolkit. An Engine owns a live-rewirable graph of processing
// nodes over a native rendering backend, a lookahead transport that schedules
// pattern steps against the backend clock, and a router that turns pattern
// steps into envelope, voice, sample, and MIDI activity. The engine performs
// no signal processing itself; the bundled reference backend does.
package patchbay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/loggo"

	intgraph "github.com/cbegin/patchbay-go/internal/graph"
	intmidi "github.com/cbegin/patchbay-go/internal/midiout"
	intpattern "github.com/cbegin/patchbay-go/internal/pattern"
	introute "github.com/cbegin/patchbay-go/internal/route"
	intsynth "github.com/cbegin/patchbay-go/internal/synth"
	inttransport "github.com/cbegin/patchbay-go/internal/transport"
	"github.com/cbegin/patchbay-go/render"
)

// ErrClosed is returned by every operation on a closed engine.
var ErrClosed = errors.New("engine is closed")

// Document and graph types, re-exported so embedders only import this
// package and render.
type (
	NodeSpec     = intgraph.NodeSpec
	Edge         = intgraph.Edge
	Document     = intgraph.Document
	EnvelopeSpec = intgraph.EnvelopeSpec
	VoiceSpec    = intgraph.VoiceSpec
	Step         = intpattern.Step
	Note         = intpattern.Note
	TriggerEvent = intpattern.TriggerEvent

	// MIDISender delivers one wire-format MIDI message. Inject via
	// WithMIDISender; typically a gomidi out-port send function.
	MIDISender = intmidi.Sender
)

type Option func(*config)

type config struct {
	backend      render.Backend
	sampleRate   int
	bpm          float64
	stepsPerBeat int
	lookahead    float64
	pollEvery    time.Duration
	midiSender   intmidi.Sender
	liveOutput   bool
	logSpec      string
}

func defaultConfig() config {
	return config{
		sampleRate:   intsynth.DefaultSampleRate,
		bpm:          inttransport.DefaultBPM,
		stepsPerBeat: inttransport.DefaultStepsPerBeat,
		lookahead:    inttransport.DefaultLookahead,
		pollEvery:    25 * time.Millisecond,
	}
}

// WithBackend substitutes a custom rendering backend. The engine then skips
// building the reference synth; offline rendering and live output require the
// backend to implement render.Renderer and render.LivePlayer respectively.
func WithBackend(b render.Backend) Option {
	return func(cfg *config) { cfg.backend = b }
}

// WithSampleRate sets the reference backend's sample rate. Ignored when a
// custom backend is supplied.
func WithSampleRate(rate int) Option {
	return func(cfg *config) { cfg.sampleRate = rate }
}

// WithTempo sets the initial tempo in beats per minute.
func WithTempo(bpm float64) Option {
	return func(cfg *config) { cfg.bpm = bpm }
}

// WithStepsPerBeat sets the step grid resolution.
func WithStepsPerBeat(n int) Option {
	return func(cfg *config) { cfg.stepsPerBeat = n }
}

// WithLookahead sets the scheduling window in seconds.
func WithLookahead(seconds float64) Option {
	return func(cfg *config) { cfg.lookahead = seconds }
}

// WithPollInterval sets how often the running transport wakes to top up the
// scheduling window. Must stay well under the lookahead.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) { cfg.pollEvery = d }
}

// WithMIDISender wires midiout nodes to a message sink. Without it they are
// inert.
func WithMIDISender(send MIDISender) Option {
	return func(cfg *config) { cfg.midiSender = send }
}

// WithLiveOutput opens the real-time output device at construction. The
// backend keeps rendering whether or not the transport runs, so drones and
// manual parameter moves are audible immediately.
func WithLiveOutput() Option {
	return func(cfg *config) { cfg.liveOutput = true }
}

// WithLogger applies a loggo configuration to the patchbay.* loggers,
// e.g. "patchbay=DEBUG" or "patchbay.transport=TRACE".
func WithLogger(spec string) Option {
	return func(cfg *config) { cfg.logSpec = spec }
}

// Engine is the public entry point. One mutex serializes every public
// operation and the transport poll; step subscribers run under that lock, so
// they must not call back into the engine.
type Engine struct {
	mu        sync.Mutex
	backend   render.Backend
	graph     *intgraph.Graph
	router    *introute.Router
	transport *inttransport.Transport
	pollEvery time.Duration
	stopPoll  chan struct{}
	closed    bool
}

// New builds an engine. With no options it carries the reference synth
// backend at 44.1 kHz, 120 BPM, 4 steps per beat, and stays silent until
// nodes are added; nothing touches an audio device unless WithLiveOutput is
// given.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logSpec != "" {
		if err := loggo.ConfigureLoggers(cfg.logSpec); err != nil {
			return nil, fmt.Errorf("configure loggers: %w", err)
		}
	}
	if cfg.pollEvery <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	backend := cfg.backend
	if backend == nil {
		backend = intsynth.New(cfg.sampleRate)
	}

	e := &Engine{
		backend:   backend,
		graph:     intgraph.New(backend, cfg.midiSender),
		pollEvery: cfg.pollEvery,
	}
	e.router = introute.New(e.graph)
	e.transport = inttransport.New(e.router)
	if err := e.transport.SetTempo(cfg.bpm); err != nil {
		return nil, err
	}
	if err := e.transport.SetStepsPerBeat(cfg.stepsPerBeat); err != nil {
		return nil, err
	}
	e.transport.SetLookahead(cfg.lookahead)

	if cfg.liveOutput {
		lp, ok := backend.(render.LivePlayer)
		if !ok {
			return nil, errors.New("backend has no live output")
		}
		if err := lp.Play(); err != nil {
			return nil, fmt.Errorf("open live output: %w", err)
		}
	}
	return e, nil
}

// Backend exposes the rendering backend, mainly so embedders with a custom
// backend can reach their own extensions.
func (e *Engine) Backend() render.Backend { return e.backend }

// AddNode creates a node from its spec and returns the node id, generating
// one if the spec leaves it empty.
func (e *Engine) AddNode(spec NodeSpec) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrClosed
	}
	return e.graph.AddNode(spec)
}

// RemoveNode stops, disconnects, and releases a node and every edge touching
// it. Removing an unknown id is a no-op.
func (e *Engine) RemoveNode(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.graph.RemoveNode(id)
	return nil
}

// SetEdges replaces the whole edge set. Invalid edges are dropped with a
// diagnostic; calling twice with the same set is idempotent.
func (e *Engine) SetEdges(edges []Edge) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.graph.SetEdges(edges)
	return nil
}

// UpdateNodeParam adjusts one named value on a live node: render parameters
// move with a short smoothing ramp, config values (envelope times, voice
// portamento) take effect on the next trigger. Unknown names are ignored.
func (e *Engine) UpdateNodeParam(id, name string, v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.graph.UpdateNodeParam(id, name, v)
	return nil
}

// SetNodeBuffer installs sample data on a sample node. Triggers that arrived
// while the buffer was empty replay immediately.
func (e *Engine) SetNodeBuffer(id string, data []float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.graph.SetNodeBuffer(id, data)
	return nil
}

// Apply reconciles the engine against a whole document. Nodes are matched
// by id (new ids are created, missing ids removed, changed ones rebuilt or
// updated in place), then the edge set and transport settings are replaced.
func (e *Engine) Apply(doc Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if doc.Tempo > 0 {
		if err := e.transport.SetTempo(doc.Tempo); err != nil {
			return err
		}
	}
	if doc.StepsPerBeat > 0 {
		if err := e.transport.SetStepsPerBeat(doc.StepsPerBeat); err != nil {
			return err
		}
	}
	e.graph.Apply(doc)
	return nil
}

// Start anchors the transport at the current backend clock and begins
// polling. Steps fire from step 0.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.transport.Running() {
		return nil
	}
	e.transport.Start(e.backend.Now())
	e.transport.Poll(e.backend.Now())
	e.stopPoll = make(chan struct{})
	go e.pollLoop(e.stopPoll)
	return nil
}

// Stop halts stepping. Automation already scheduled inside the lookahead
// window still plays out; RemoveNode is the hard cancel.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.stopLocked()
	return nil
}

func (e *Engine) stopLocked() {
	if e.stopPoll != nil {
		close(e.stopPoll)
		e.stopPoll = nil
	}
	e.transport.Stop()
}

func (e *Engine) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if !e.closed && e.transport.Running() {
				e.transport.Poll(e.backend.Now())
			}
			e.mu.Unlock()
		}
	}
}

// Playing reports whether the transport is running.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Running()
}

// SetTempo changes the tempo for steps not yet scheduled; already-scheduled
// step times never move.
func (e *Engine) SetTempo(bpm float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.transport.SetTempo(bpm)
}

// Tempo reports the current tempo in BPM.
func (e *Engine) Tempo() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Tempo()
}

// SetStepsPerBeat changes the step grid for steps not yet scheduled.
func (e *Engine) SetStepsPerBeat(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.transport.SetStepsPerBeat(n)
}

// Step reports the latest step whose scheduled time has been reached, -1
// before any. Display quality; scheduling runs ahead of it.
func (e *Engine) Step() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Step()
}

// SubscribeStep registers a callback invoked as step times are reached.
// Callbacks run under the engine lock: do not call back into the engine,
// hand off to a channel or goroutine instead. The returned func
// unsubscribes.
func (e *Engine) SubscribeStep(fn func(step int64)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	unsub := e.transport.SubscribeStep(fn)
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		unsub()
	}
}

// Close stops the transport, releases every node, and closes the backend.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.stopLocked()
	e.graph.Close()
	e.closed = true
	return e.backend.Close()
}

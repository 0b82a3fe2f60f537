// Package midiout bridges trigger events to MIDI note messages. Delivery is
// timer-based and best-effort: MIDI carries no sample accuracy to preserve,
// so events due in the future wait on ordinary timers against the render
// clock rather than on backend automation.
package midiout

import (
	"sync"
	"time"

	"github.com/juju/loggo"
	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/patchbay-go/internal/pattern"
	"github.com/cbegin/patchbay-go/render"
)

var logger = loggo.GetLogger("patchbay.midiout")

// Sender delivers one raw MIDI message. gomidi's SendTo(port) returns a
// compatible func; tests and loggers inject their own.
type Sender func(gomidi.Message) error

// Port is one outgoing MIDI lane with a fixed channel. A nil sender makes
// the port inert, which keeps documents loadable on hosts without MIDI.
type Port struct {
	mu      sync.Mutex
	clock   render.Clock
	send    Sender
	channel uint8
	timers  map[int]*time.Timer
	nextID  int
	closed  bool
}

// New builds a port delivering on the given channel (0-15).
func New(clock render.Clock, channel uint8, send Sender) *Port {
	return &Port{
		clock:   clock,
		send:    send,
		channel: channel & 0x0f,
		timers:  make(map[int]*time.Timer),
	}
}

// Consume schedules NoteOn at the event time and NoteOff at time+duration.
// Events with no duration send NoteOn only. Events with no pitch default to
// middle C, the usual single-drum-lane convention.
func (p *Port) Consume(ev pattern.TriggerEvent) {
	if p.send == nil {
		return
	}
	note := ev.Note
	if note <= 0 {
		note = 60
	}
	key := uint8(clampInt(note, 0, 127))
	vel := uint8(clampInt(int(ev.Velocity*127+0.5), 1, 127))
	now := p.clock.Now()

	p.after(ev.Time-now, func() {
		if err := p.send(gomidi.NoteOn(p.channel, key, vel)); err != nil {
			logger.Debugf("note on send failed: %v", err)
		}
	})
	if ev.Duration > 0 {
		p.after(ev.Time+ev.Duration-now, func() {
			if err := p.send(gomidi.NoteOff(p.channel, key)); err != nil {
				logger.Debugf("note off send failed: %v", err)
			}
		})
	}
}

// Close cancels every pending delivery. Closed ports drop further events.
func (p *Port) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}

func (p *Port) after(delaySec float64, f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if delaySec < 0 {
		delaySec = 0
	}
	id := p.nextID
	p.nextID++
	p.timers[id] = time.AfterFunc(time.Duration(delaySec*float64(time.Second)), func() {
		p.mu.Lock()
		delete(p.timers, id)
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			f()
		}
	})
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

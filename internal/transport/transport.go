// Package transport advances the logical step counter against the render
// clock. It follows the two-clock lookahead pattern: a coarse poll, driven by
// the engine's ticker, schedules every step that falls inside the lookahead
// window at its exact render-clock time, so timing precision comes from the
// backend rather than the poll rate.
package transport

import (
	"errors"
	"fmt"

	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("patchbay.transport")

// ErrTempo rejects non-positive tempo or step-rate values.
var ErrTempo = errors.New("tempo values must be positive")

const (
	// DefaultBPM is the tempo used until SetTempo is called.
	DefaultBPM = 120
	// DefaultStepsPerBeat subdivides each beat into sixteenth notes at 4/4.
	DefaultStepsPerBeat = 4
	// DefaultLookahead is how far ahead of the render clock steps are
	// scheduled. Generous against poll jitter, short enough that tempo
	// changes feel immediate.
	DefaultLookahead = 0.1
)

// Firer receives each scheduled step. The router implements it.
type Firer interface {
	Fire(step int64, at, stepDur float64) int
}

type stepTime struct {
	step int64
	at   float64
}

// Transport owns the schedule window. It runs no goroutine of its own; the
// engine calls Poll from its ticker (live) or between render chunks
// (offline), always under the engine lock.
type Transport struct {
	firer        Firer
	bpm          float64
	stepsPerBeat int
	lookahead    float64

	running   bool
	step      int64 // next logical step to schedule, monotonic
	next      float64
	due       []stepTime // scheduled, not yet reached by the poll clock
	displayed int64

	subs    map[int]func(step int64)
	nextSub int
}

// New builds a stopped transport at the default tempo.
func New(firer Firer) *Transport {
	return &Transport{
		firer:        firer,
		bpm:          DefaultBPM,
		stepsPerBeat: DefaultStepsPerBeat,
		lookahead:    DefaultLookahead,
		displayed:    -1,
		subs:         make(map[int]func(int64)),
	}
}

// Running reports whether Start has been called without a following Stop.
func (t *Transport) Running() bool { return t.running }

// Tempo returns the current tempo in beats per minute.
func (t *Transport) Tempo() float64 { return t.bpm }

// StepsPerBeat returns the step grid resolution.
func (t *Transport) StepsPerBeat() int { return t.stepsPerBeat }

// StepDur returns the current step length in seconds.
func (t *Transport) StepDur() float64 {
	return (60 / t.bpm) / float64(t.stepsPerBeat)
}

// Step returns the most recent step whose scheduled time the poll clock has
// passed, -1 before the first. Display-only: poll-approximated, not
// sample-accurate.
func (t *Transport) Step() int64 { return t.displayed }

// SetTempo changes the tempo for steps not yet scheduled. Event times already
// handed to the firer are never revised.
func (t *Transport) SetTempo(bpm float64) error {
	if bpm <= 0 {
		return fmt.Errorf("%w: bpm %g", ErrTempo, bpm)
	}
	t.bpm = bpm
	return nil
}

// SetStepsPerBeat changes the beat subdivision for steps not yet scheduled.
func (t *Transport) SetStepsPerBeat(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: steps per beat %d", ErrTempo, n)
	}
	t.stepsPerBeat = n
	return nil
}

// SetLookahead adjusts the scheduling window.
func (t *Transport) SetLookahead(seconds float64) {
	if seconds > 0 {
		t.lookahead = seconds
	}
}

// Start begins advancing from step 0, anchored at the given render-clock
// reading. Calling it while running re-anchors from scratch.
func (t *Transport) Start(now float64) {
	t.running = true
	t.step = 0
	t.next = now
	t.due = t.due[:0]
	t.displayed = -1
	logger.Debugf("transport started at %.3f, %.1f bpm", now, t.bpm)
}

// Stop halts polling and resets counters. Automation already scheduled with
// the backend stays scheduled; removing nodes is the authoritative cancel.
func (t *Transport) Stop() {
	t.running = false
	t.step = 0
	t.next = 0
	t.due = t.due[:0]
	t.displayed = -1
	logger.Debugf("transport stopped")
}

// Poll schedules every step whose time falls inside the lookahead window and
// then reports display progress to subscribers. A stalled caller is caught up
// in one burst: overdue steps still fire, in order, at their original times.
func (t *Transport) Poll(now float64) {
	if !t.running {
		return
	}
	stepDur := t.StepDur()
	if t.next < now-stepDur {
		logger.Warningf("scheduling window violated: step %d is %.3fs overdue", t.step, now-t.next)
	}
	for t.next < now+t.lookahead {
		t.firer.Fire(t.step, t.next, stepDur)
		t.due = append(t.due, stepTime{step: t.step, at: t.next})
		t.step++
		t.next += stepDur
	}
	t.notifyDue(now)
}

// SubscribeStep registers a display callback and returns its unsubscribe
// func. Callbacks run synchronously inside Poll.
func (t *Transport) SubscribeStep(cb func(step int64)) func() {
	id := t.nextSub
	t.nextSub++
	t.subs[id] = cb
	return func() { delete(t.subs, id) }
}

func (t *Transport) notifyDue(now float64) {
	reached := 0
	for reached < len(t.due) && t.due[reached].at <= now {
		reached++
	}
	if reached == 0 {
		return
	}
	t.displayed = t.due[reached-1].step
	t.due = append(t.due[:0], t.due[reached:]...)
	for _, cb := range t.subs {
		cb(t.displayed)
	}
}

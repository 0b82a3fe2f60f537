// Package pattern holds the trigger event type and the two pattern variants
// the router evaluates: fixed-length step grids and piano-roll note lists.
package pattern

// DefaultVelocity is applied when a document leaves a piano-roll note
// velocity unset. Applied at document conversion, not during evaluation, so
// patterns always carry explicit values. Step grids get no such default; an
// active step with zero velocity stays silent.
const DefaultVelocity = 0.8

// TriggerEvent is a timestamped instruction that a step or note is due.
// Values are immutable once built; derived events (voice re-emission) are
// copies with fields replaced.
type TriggerEvent struct {
	Step     int64
	Velocity float64 // 0..1
	Time     float64 // absolute render-clock seconds
	Duration float64 // seconds until the logical gate-off
	SourceID string  // node that emitted the event
	Note     int     // MIDI note number, 0 = unset
	Voice    int     // pool index on poly-derived events, -1 otherwise
}

// Pattern is one evaluable trigger source. Implementations wrap their own
// length; the scheduler's step counter grows without bound.
type Pattern interface {
	// EventsAt returns the events due at the logical step, stamped with the
	// absolute time at and the nominal step duration.
	EventsAt(step int64, at, stepDur float64) []TriggerEvent
	Len() int
}

// Step is one cell of a StepPattern. Active and Velocity are kept separate:
// an active step with zero velocity stays silent.
type Step struct {
	Active   bool    `json:"active"`
	Velocity float64 `json:"velocity,omitempty"`
	Note     int     `json:"note,omitempty"` // optional per-step pitch, 0 = unset
}

// StepPattern is a drum-machine style grid that wraps via modulo.
type StepPattern struct {
	Steps []Step
}

func (p *StepPattern) Len() int { return len(p.Steps) }

func (p *StepPattern) EventsAt(step int64, at, stepDur float64) []TriggerEvent {
	if len(p.Steps) == 0 {
		return nil
	}
	s := p.Steps[int(step%int64(len(p.Steps)))]
	if !s.Active || s.Velocity <= 0 {
		return nil
	}
	return []TriggerEvent{{
		Step:     step,
		Velocity: s.Velocity,
		Time:     at,
		Duration: stepDur,
		Note:     s.Note,
		Voice:    -1,
	}}
}

// Note is one piano-roll entry. Start and Duration are in steps.
type Note struct {
	Key      int     `json:"key"`
	Start    int     `json:"start"`
	Duration int     `json:"duration,omitempty"`
	Velocity float64 `json:"velocity,omitempty"`
}

// PianoRoll fires every note whose Start matches the wrapped step. Duration
// converts to seconds against the nominal step duration; zero or negative
// durations fall back to one step.
type PianoRoll struct {
	Length int
	Notes  []Note
}

func (p *PianoRoll) Len() int { return p.Length }

func (p *PianoRoll) EventsAt(step int64, at, stepDur float64) []TriggerEvent {
	if p.Length <= 0 {
		return nil
	}
	pos := int(step % int64(p.Length))
	var events []TriggerEvent
	for _, n := range p.Notes {
		if n.Start != pos || n.Velocity <= 0 {
			continue
		}
		dur := float64(n.Duration) * stepDur
		if n.Duration <= 0 {
			dur = stepDur
		}
		events = append(events, TriggerEvent{
			Step:     step,
			Velocity: n.Velocity,
			Time:     at,
			Duration: dur,
			Note:     n.Key,
			Voice:    -1,
		})
	}
	return events
}

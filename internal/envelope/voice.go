package envelope

import (
	"math"

	"github.com/cbegin/patchbay-go/internal/pattern"
	"github.com/cbegin/patchbay-go/render"
)

// VoiceOutputs are the three constant-source parameters a voice drives. The
// graph layer owns the backing units; the voice only schedules values.
type VoiceOutputs struct {
	Frequency render.Param
	Gate      render.Param
	Velocity  render.Param
}

// VoiceConfig is shared by every voice in a pool.
type VoiceConfig struct {
	// Portamento glides frequency over this many seconds; zero jumps.
	Portamento float64
	// Notes is a row indexed by step modulo its length when an event carries
	// no pitch of its own.
	Notes []int
	// DefaultNote answers when both the event and the row are silent on
	// pitch. Zero means A4 (69).
	DefaultNote int
}

// ResolveNote picks the pitch for an event: explicit note first, then the
// configured row, then the default.
func (c VoiceConfig) ResolveNote(ev pattern.TriggerEvent) int {
	if ev.Note > 0 {
		return ev.Note
	}
	if len(c.Notes) > 0 {
		return c.Notes[int(ev.Step%int64(len(c.Notes)))]
	}
	if c.DefaultNote > 0 {
		return c.DefaultNote
	}
	return 69
}

// Voice is one monophonic note-control signal set.
type Voice struct {
	out     VoiceOutputs
	cfg     VoiceConfig
	note    int     // held pitch, -1 when never triggered
	freq    float64 // last scheduled frequency, portamento origin
	gateOff float64 // when the current gate closes; +Inf for held notes
	alloc   int64   // allocation sequence stamped by the pool
}

// NewVoice builds an idle voice over the given outputs.
func NewVoice(out VoiceOutputs, cfg VoiceConfig) *Voice {
	return &Voice{out: out, cfg: cfg, note: -1}
}

// Consume resolves the event's pitch and schedules frequency, gate, and
// velocity at the event time. It returns the derived event (resolved note)
// for recursive re-emission along the voice's outgoing edges.
func (v *Voice) Consume(ev pattern.TriggerEvent) pattern.TriggerEvent {
	note := v.cfg.ResolveNote(ev)
	freq := NoteHz(note)
	at := ev.Time

	v.out.Frequency.CancelScheduledValues(at)
	if v.cfg.Portamento > 0 && v.freq > 0 {
		v.out.Frequency.SetValueAtTime(v.freq, at)
		v.out.Frequency.LinearRampToValueAtTime(freq, at+v.cfg.Portamento)
	} else {
		v.out.Frequency.SetValueAtTime(freq, at)
	}

	v.out.Gate.CancelScheduledValues(at)
	v.out.Gate.SetValueAtTime(1, at)
	if ev.Duration > 0 {
		v.out.Gate.SetValueAtTime(0, at+ev.Duration)
		v.gateOff = at + ev.Duration
	} else {
		v.gateOff = math.Inf(1)
	}
	v.out.Velocity.SetValueAtTime(ev.Velocity, at)

	v.note = note
	v.freq = freq

	derived := ev
	derived.Note = note
	return derived
}

// SetConfig applies new portamento/note-row settings to future triggers.
func (v *Voice) SetConfig(cfg VoiceConfig) { v.cfg = cfg }

// PolyVoice allocates events onto a fixed pool of voices. Reuse order: the
// voice already holding the same pitch (legato), then any free voice, then
// steal the globally oldest allocation.
type PolyVoice struct {
	voices []*Voice
	cfg    VoiceConfig
	seq    int64
}

// NewPolyVoice builds a pool over one VoiceOutputs set per voice. The pool
// size is fixed at len(outs).
func NewPolyVoice(outs []VoiceOutputs, cfg VoiceConfig) *PolyVoice {
	p := &PolyVoice{voices: make([]*Voice, len(outs)), cfg: cfg}
	for i, out := range outs {
		p.voices[i] = NewVoice(out, cfg)
	}
	return p
}

// Size reports the fixed pool size.
func (p *PolyVoice) Size() int { return len(p.voices) }

// Consume routes the event onto a pool voice and returns the derived event
// stamped with the chosen voice index.
func (p *PolyVoice) Consume(ev pattern.TriggerEvent) pattern.TriggerEvent {
	if len(p.voices) == 0 {
		return ev
	}
	idx := p.allocate(p.cfg.ResolveNote(ev), ev.Time)
	p.seq++
	v := p.voices[idx]
	v.alloc = p.seq
	derived := v.Consume(ev)
	derived.Voice = idx
	return derived
}

// SetConfig applies new settings to the pool and every voice in it.
func (p *PolyVoice) SetConfig(cfg VoiceConfig) {
	p.cfg = cfg
	for _, v := range p.voices {
		v.SetConfig(cfg)
	}
}

func (p *PolyVoice) allocate(note int, at float64) int {
	// Legato: an allocated voice already holding this pitch.
	for i, v := range p.voices {
		if v.alloc > 0 && v.note == note {
			return i
		}
	}
	// Free: never allocated, or gate already closed by the event time.
	for i, v := range p.voices {
		if v.alloc == 0 || v.gateOff <= at {
			return i
		}
	}
	// Steal the oldest allocation.
	oldest := 0
	for i, v := range p.voices {
		if v.alloc < p.voices[oldest].alloc {
			oldest = i
		}
	}
	return oldest
}

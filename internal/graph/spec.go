package graph

import (
	"github.com/cbegin/patchbay-go/internal/envelope"
	"github.com/cbegin/patchbay-go/internal/pattern"
)

// NodeSpec is the declarative description of one node. Fields beyond ID,
// Kind, and Params apply only to the kinds that read them; strays are
// ignored so documents stay forward-compatible.
type NodeSpec struct {
	ID     string             `json:"id,omitempty"`
	Kind   string             `json:"kind"`
	Params map[string]float64 `json:"params,omitempty"`

	Wave   string `json:"wave,omitempty"`   // oscillator, lfo: sine|square|sawtooth|triangle
	Filter string `json:"filter,omitempty"` // filter: lowpass|highpass|bandpass|notch|peak

	Steps  []pattern.Step `json:"steps,omitempty"`  // stepseq
	Length int            `json:"length,omitempty"` // pianoroll
	Notes  []pattern.Note `json:"notes,omitempty"`  // pianoroll

	Envelope *EnvelopeSpec `json:"envelope,omitempty"` // adsr
	Voice    *VoiceSpec    `json:"voice,omitempty"`    // voice, polyvoice

	Buffer  []float64 `json:"buffer,omitempty"`  // sample
	Impulse []float64 `json:"impulse,omitempty"` // convolver
	Channel int       `json:"channel,omitempty"` // midiout
}

// EnvelopeSpec is the document form of an ADSR configuration.
type EnvelopeSpec struct {
	Attack  float64 `json:"attack"`
	Decay   float64 `json:"decay"`
	Sustain float64 `json:"sustain"`
	Release float64 `json:"release"`
	Curve   string  `json:"curve,omitempty"` // linear|exponential
}

func (s *EnvelopeSpec) config() envelope.Config {
	cfg := envelope.Config{
		Attack:  s.Attack,
		Decay:   s.Decay,
		Sustain: s.Sustain,
		Release: s.Release,
	}
	if s.Curve == "exponential" {
		cfg.Curve = envelope.CurveExponential
	}
	return cfg
}

func envelopeSpec(cfg envelope.Config) *EnvelopeSpec {
	return &EnvelopeSpec{
		Attack:  cfg.Attack,
		Decay:   cfg.Decay,
		Sustain: cfg.Sustain,
		Release: cfg.Release,
		Curve:   cfg.Curve.String(),
	}
}

// VoiceSpec is the document form of a voice or voice-pool configuration.
type VoiceSpec struct {
	Pool        int     `json:"pool,omitempty"` // polyvoice size, default 4
	Portamento  float64 `json:"portamento,omitempty"`
	Notes       []int   `json:"notes,omitempty"`
	DefaultNote int     `json:"defaultNote,omitempty"`
}

func (s *VoiceSpec) config() envelope.VoiceConfig {
	return envelope.VoiceConfig{
		Portamento:  s.Portamento,
		Notes:       s.Notes,
		DefaultNote: s.DefaultNote,
	}
}

// Edge connects a source node output to a target node input. An empty
// TargetPort means the default audio input; otherwise it names a parameter.
// An empty SourcePort means the default output.
type Edge struct {
	Source     string `json:"source"`
	SourcePort string `json:"sourcePort,omitempty"`
	Target     string `json:"target"`
	TargetPort string `json:"targetPort,omitempty"`
}

// Document is the serializable description of a whole session: the graph
// plus transport settings. Produced by Describe, consumed by Apply.
type Document struct {
	Tempo        float64    `json:"tempo,omitempty"`
	StepsPerBeat int        `json:"stepsPerBeat,omitempty"`
	Nodes        []NodeSpec `json:"nodes"`
	Edges        []Edge     `json:"edges"`
}

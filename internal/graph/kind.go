package graph

import "fmt"

// Kind is the closed vocabulary of node types. Dispatch on it is exhaustive
// everywhere; string forms exist only at the document boundary.
type Kind int

const (
	KindOscillator Kind = iota
	KindSample
	KindConstant
	KindGain
	KindFilter
	KindDelay
	KindPan
	KindCompressor
	KindConvolver
	KindADSR
	KindAnalyser
	KindOut
	KindMIDIOut
	KindStepSeq
	KindPianoRoll
	KindVoice
	KindPolyVoice
	KindLFO
)

var kindNames = map[Kind]string{
	KindOscillator: "oscillator",
	KindSample:     "sample",
	KindConstant:   "constant",
	KindGain:       "gain",
	KindFilter:     "filter",
	KindDelay:      "delay",
	KindPan:        "pan",
	KindCompressor: "compressor",
	KindConvolver:  "convolver",
	KindADSR:       "adsr",
	KindAnalyser:   "analyser",
	KindOut:        "out",
	KindMIDIOut:    "midiout",
	KindStepSeq:    "stepseq",
	KindPianoRoll:  "pianoroll",
	KindVoice:      "voice",
	KindPolyVoice:  "polyvoice",
	KindLFO:        "lfo",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps a document kind string to the enum.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Role groups kinds by their place in the signal flow.
type Role int

const (
	RoleSource Role = iota
	RoleProcessor
	RoleSink
	RoleControl
)

func (k Kind) Role() Role {
	switch k {
	case KindOscillator, KindSample, KindConstant:
		return RoleSource
	case KindGain, KindFilter, KindDelay, KindPan, KindCompressor,
		KindConvolver, KindADSR, KindAnalyser:
		return RoleProcessor
	case KindOut, KindMIDIOut:
		return RoleSink
	case KindStepSeq, KindPianoRoll, KindVoice, KindPolyVoice, KindLFO:
		return RoleControl
	}
	return RoleProcessor
}

// TriggerCapable reports whether the kind consumes trigger events.
func (k Kind) TriggerCapable() bool {
	switch k {
	case KindVoice, KindPolyVoice, KindADSR, KindSample, KindMIDIOut:
		return true
	}
	return false
}

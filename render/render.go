// Package render defines the contract between the patchbay core and a native
// rendering backend. The core schedules automation and timing against this
// interface; it never performs signal processing itself. A reference
// implementation lives in internal/synth, but any engine with unit factories,
// connect/disconnect, timed parameter automation, and a monotonic clock can
// sit behind it.
package render

// Clock reports the backend's monotonic rendering time in seconds. Readings
// must never go backwards while the backend is open.
type Clock interface {
	Now() float64
}

// UnitKind selects which native processing unit CreateUnit allocates.
type UnitKind int

const (
	UnitOscillator UnitKind = iota
	UnitSample
	UnitConstant
	UnitGain
	UnitFilter
	UnitDelay
	UnitPan
	UnitCompressor
	UnitConvolver
	UnitAnalyser
)

func (k UnitKind) String() string {
	switch k {
	case UnitOscillator:
		return "oscillator"
	case UnitSample:
		return "sample"
	case UnitConstant:
		return "constant"
	case UnitGain:
		return "gain"
	case UnitFilter:
		return "filter"
	case UnitDelay:
		return "delay"
	case UnitPan:
		return "pan"
	case UnitCompressor:
		return "compressor"
	case UnitConvolver:
		return "convolver"
	case UnitAnalyser:
		return "analyser"
	}
	return "unknown"
}

// Wave selects an oscillator shape.
type Wave int

const (
	WaveSine Wave = iota
	WaveSquare
	WaveSawtooth
	WaveTriangle
)

// FilterType selects the response of a filter unit.
type FilterType int

const (
	FilterLowpass FilterType = iota
	FilterHighpass
	FilterBandpass
	FilterNotch
	FilterPeak
)

// Param is one automatable numeric input on a unit. All times are absolute
// seconds on the backend clock. Scheduling a ramp without a preceding anchor
// event ramps from whatever the backend considers the current value, matching
// the usual audio-graph automation model.
type Param interface {
	// Value returns the most recently computed value. Display quality only;
	// the backend evaluates the schedule sample-accurately on its own clock.
	Value() float64
	SetValueAtTime(value, time float64)
	LinearRampToValueAtTime(value, time float64)
	// ExponentialRampToValueAtTime requires a strictly positive target;
	// backends may clamp to a small floor rather than reject.
	ExponentialRampToValueAtTime(value, time float64)
	// CancelScheduledValues removes every scheduled event at or after time.
	CancelScheduledValues(time float64)
}

// Unit is an opaque processing unit owned by the backend. Connect and
// Disconnect errors are advisory: during live rewiring the core treats
// failures on stale units as no-ops.
type Unit interface {
	Connect(dst Unit) error
	// ConnectParam routes this unit's output into a parameter, where the
	// backend sums it with the parameter's scheduled value.
	ConnectParam(p Param) error
	// Disconnect drops every outgoing connection, both unit and parameter.
	Disconnect() error
	Start(time float64) error
	Stop(time float64) error
	// Param looks up an automatable parameter by name ("frequency", "gain",
	// "pan", ...). The name vocabulary is unit-kind specific.
	Param(name string) (Param, bool)
	// Close releases the unit. Closed units reject further use.
	Close() error
}

// Backend is the native rendering layer the core drives.
type Backend interface {
	Clock
	SampleRate() int
	CreateUnit(kind UnitKind) (Unit, error)
	// Destination is the terminal mix point. Sink nodes connect here.
	Destination() Unit
	Close() error
}

// SampleSetter is implemented by sample units that accept buffer data. The
// core defers triggers against a sample unit until its buffer arrives.
type SampleSetter interface {
	SetBuffer(data []float64)
	BufferReady() bool
}

// ImpulseSetter is implemented by convolver units.
type ImpulseSetter interface {
	SetImpulse(kernel []float64)
}

// WaveSetter is implemented by oscillator units.
type WaveSetter interface {
	SetWave(w Wave)
}

// FilterTypeSetter is implemented by filter units.
type FilterTypeSetter interface {
	SetFilterType(t FilterType)
}

// Analyser exposes visualization readback on analyser units. The core wires
// analysers but never interprets these values.
type Analyser interface {
	// Spectrum returns magnitude bins for the most recent analysis window.
	Spectrum() []float64
	RMS() float64
}

// Renderer is implemented by backends that can render offline. Render fills
// dst with interleaved stereo float32 frames and advances the clock
// accordingly.
type Renderer interface {
	Render(dst []float32)
}

// LivePlayer is implemented by backends with a real-time output device.
type LivePlayer interface {
	Play() error
	Pause()
}

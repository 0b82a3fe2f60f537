package envelope

import (
	"math"
	"testing"
)

type autoCall struct {
	op    string // set, linear, exp, cancel
	value float64
	time  float64
}

// fakeParam records automation calls in order.
type fakeParam struct {
	calls []autoCall
	cur   float64
}

func (f *fakeParam) Value() float64 { return f.cur }

func (f *fakeParam) SetValueAtTime(v, t float64) {
	f.cur = v
	f.calls = append(f.calls, autoCall{"set", v, t})
}

func (f *fakeParam) LinearRampToValueAtTime(v, t float64) {
	f.cur = v
	f.calls = append(f.calls, autoCall{"linear", v, t})
}

func (f *fakeParam) ExponentialRampToValueAtTime(v, t float64) {
	f.cur = v
	f.calls = append(f.calls, autoCall{"exp", v, t})
}

func (f *fakeParam) CancelScheduledValues(t float64) {
	f.calls = append(f.calls, autoCall{"cancel", 0, t})
}

// ramps returns only the value-carrying calls, skipping cancels.
func (f *fakeParam) ramps() []autoCall {
	var out []autoCall
	for _, c := range f.calls {
		if c.op != "cancel" {
			out = append(out, c)
		}
	}
	return out
}

func TestTriggerLinearScenario(t *testing.T) {
	// attack 0.01, decay 0.1, sustain 0.5, release 0.3; velocity 0.8 for
	// 0.5s at t=0: peak 0.8 at 0.01, 0.4 at 0.11, hold to 0.2, zero at 0.5.
	p := &fakeParam{}
	a := NewADSR(p, Config{Attack: 0.01, Decay: 0.1, Sustain: 0.5, Release: 0.3, Curve: CurveLinear})

	a.Trigger(0.8, 0, 0.5)

	want := []autoCall{
		{"set", 0, 0},
		{"linear", 0.8, 0.01},
		{"linear", 0.4, 0.11},
		{"set", 0.4, 0.2},
		{"linear", 0, 0.5},
	}
	got := p.ramps()
	if len(got) != len(want) {
		t.Fatalf("automation calls: got %d (%+v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i].op != want[i].op {
			t.Errorf("call %d op: got %s, want %s", i, got[i].op, want[i].op)
		}
		if math.Abs(got[i].value-want[i].value) > 1e-9 {
			t.Errorf("call %d value: got %f, want %f", i, got[i].value, want[i].value)
		}
		if math.Abs(got[i].time-want[i].time) > 1e-9 {
			t.Errorf("call %d time: got %f, want %f", i, got[i].time, want[i].time)
		}
	}
	if p.calls[0].op != "cancel" || p.calls[0].time != 0 {
		t.Errorf("first call: got %+v, want cancel at trigger time", p.calls[0])
	}
}

func TestTriggerExponentialNeverTargetsZero(t *testing.T) {
	p := &fakeParam{}
	a := NewADSR(p, Config{Attack: 0.02, Decay: 0.05, Sustain: 0, Release: 0.1, Curve: CurveExponential})

	a.Trigger(1.0, 1.0, 0.4)

	for _, c := range p.calls {
		if c.op == "exp" && c.value < Floor {
			t.Errorf("exponential ramp targets %g below floor %g", c.value, Floor)
		}
	}
	// Sustain 0 clamps the decay target to the floor rather than zero.
	got := p.ramps()
	if got[2].op != "exp" || got[2].value != Floor {
		t.Errorf("decay target with zero sustain: got %+v, want exp to floor", got[2])
	}
}

func TestTriggerStageOrderingInvariant(t *testing.T) {
	configs := []Config{
		{Attack: 0.01, Decay: 0.1, Sustain: 0.5, Release: 0.3},
		{Attack: 0, Decay: 0, Sustain: 1, Release: 0},
		{Attack: 0.5, Decay: 0.5, Sustain: 0.2, Release: 2.0}, // release longer than the note
		{Attack: 0.001, Decay: 2, Sustain: 0.9, Release: 0.05},
	}
	for _, cfg := range configs {
		cfg.Curve = CurveLinear
		p := &fakeParam{}
		NewADSR(p, cfg).Trigger(1.0, 0, 0.5)

		got := p.ramps()
		if len(got) != 5 {
			t.Fatalf("cfg %+v: got %d calls, want 5", cfg, len(got))
		}
		attackEnd, decayEnd := got[1].time, got[2].time
		releaseStart, releaseEnd := got[3].time, got[4].time
		if attackEnd > decayEnd || decayEnd > releaseStart || releaseStart > releaseEnd {
			t.Errorf("cfg %+v: stage times %f %f %f %f out of order",
				cfg, attackEnd, decayEnd, releaseStart, releaseEnd)
		}
	}
}

func TestTriggerWithoutDurationHoldsSustain(t *testing.T) {
	p := &fakeParam{}
	a := NewADSR(p, Config{Attack: 0.01, Decay: 0.1, Sustain: 0.5, Release: 0.3, Curve: CurveLinear})

	a.Trigger(1.0, 0, 0)

	got := p.ramps()
	if len(got) != 3 {
		t.Fatalf("open-gate trigger: got %d calls (%+v), want attack anchor + 2 ramps", len(got), got)
	}

	// Manual release picks up from the current value.
	a.Release(2.0)
	got = p.ramps()
	rel := got[len(got)-1]
	if rel.op != "linear" || rel.value != 0 || math.Abs(rel.time-2.3) > 1e-9 {
		t.Errorf("release ramp: got %+v, want linear to 0 at 2.3", rel)
	}
	anchor := got[len(got)-2]
	if anchor.op != "set" || anchor.value != 0.5 {
		t.Errorf("release anchor: got %+v, want set from current value 0.5", anchor)
	}
}

func TestNegativeTimesClampToZero(t *testing.T) {
	p := &fakeParam{}
	a := NewADSR(p, Config{Attack: -1, Decay: -1, Sustain: 2, Release: -1, Curve: CurveLinear})

	cfg := a.Config()
	if cfg.Attack != 0 || cfg.Decay != 0 || cfg.Release != 0 {
		t.Errorf("negative times survive: %+v", cfg)
	}
	if cfg.Sustain != 1 {
		t.Errorf("sustain clamp: got %f, want 1", cfg.Sustain)
	}
}

func TestNoteHz(t *testing.T) {
	if got := NoteHz(69); math.Abs(got-440) > 1e-9 {
		t.Errorf("A4: got %f, want 440", got)
	}
	if got := NoteHz(57); math.Abs(got-220) > 1e-9 {
		t.Errorf("A3: got %f, want 220", got)
	}
	if got := NoteHz(60); math.Abs(got-261.6255653) > 1e-6 {
		t.Errorf("C4: got %f, want 261.63", got)
	}
}

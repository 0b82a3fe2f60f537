package param

import (
	"math"
	"testing"
)

type autoCall struct {
	op    string
	value float64
	time  float64
}

// fakeTarget records automation calls in order.
type fakeTarget struct {
	calls []autoCall
	cur   float64
}

func (f *fakeTarget) Value() float64 { return f.cur }

func (f *fakeTarget) SetValueAtTime(v, t float64) {
	f.cur = v
	f.calls = append(f.calls, autoCall{"set", v, t})
}

func (f *fakeTarget) LinearRampToValueAtTime(v, t float64) {
	f.cur = v
	f.calls = append(f.calls, autoCall{"linear", v, t})
}

func (f *fakeTarget) ExponentialRampToValueAtTime(v, t float64) {
	f.cur = v
	f.calls = append(f.calls, autoCall{"exp", v, t})
}

func (f *fakeTarget) CancelScheduledValues(t float64) {
	f.calls = append(f.calls, autoCall{"cancel", 0, t})
}

type fakeSource struct {
	center float64
	at     float64
	sets   int
}

func (s *fakeSource) SetCenter(v, now float64) {
	s.center = v
	s.at = now
	s.sets++
}

func TestSetRampsOverSmoothTime(t *testing.T) {
	ft := &fakeTarget{}
	p := New(ft, 100, 0)
	ft.calls = nil

	p.Set(200, 1.0)

	if len(ft.calls) != 3 {
		t.Fatalf("calls: got %d, want cancel+set+linear", len(ft.calls))
	}
	if ft.calls[0].op != "cancel" || ft.calls[0].time != 1.0 {
		t.Errorf("first call: got %+v, want cancel at 1.0", ft.calls[0])
	}
	if ft.calls[1].op != "set" || ft.calls[1].value != 100 {
		t.Errorf("anchor: got %+v, want set current (100)", ft.calls[1])
	}
	last := ft.calls[2]
	if last.op != "linear" || last.value != 200 {
		t.Errorf("ramp: got %+v, want linear to 200", last)
	}
	if math.Abs(last.time-(1.0+SmoothTime)) > 1e-9 {
		t.Errorf("ramp end: got %f, want %f", last.time, 1.0+SmoothTime)
	}
}

func TestAttachSourceZeroesStaticValue(t *testing.T) {
	ft := &fakeTarget{}
	src := &fakeSource{}
	p := New(ft, 800, 0)
	ft.calls = nil

	p.AttachSource(src, 2.0)

	if len(ft.calls) != 2 || ft.calls[0].op != "cancel" || ft.calls[1].op != "set" {
		t.Fatalf("calls: got %+v, want cancel then set", ft.calls)
	}
	if ft.calls[1].value != 0 {
		t.Errorf("static value after attach: got %f, want 0", ft.calls[1].value)
	}
	if src.center != 800 {
		t.Errorf("source center: got %f, want base 800", src.center)
	}
	if !p.Attached() {
		t.Error("Attached() = false after AttachSource")
	}
}

func TestSetWithSourceOnlyMovesCenter(t *testing.T) {
	ft := &fakeTarget{}
	src := &fakeSource{}
	p := New(ft, 800, 0)
	p.AttachSource(src, 0)
	ft.calls = nil

	p.Set(1200, 3.0)

	if len(ft.calls) != 0 {
		t.Fatalf("backend calls with source attached: got %+v, want none", ft.calls)
	}
	if src.center != 1200 || src.at != 3.0 {
		t.Errorf("center: got %f at %f, want 1200 at 3.0", src.center, src.at)
	}
	if p.Base() != 1200 {
		t.Errorf("base: got %f, want 1200", p.Base())
	}
}

func TestDetachLeavesZeroUntilNextSet(t *testing.T) {
	ft := &fakeTarget{}
	src := &fakeSource{}
	p := New(ft, 440, 0)
	p.AttachSource(src, 0)
	p.DetachSource()

	if p.Attached() {
		t.Fatal("Attached() = true after DetachSource")
	}
	if ft.cur != 0 {
		t.Errorf("static value after detach: got %f, want 0 until the next Set", ft.cur)
	}

	p.Set(440, 1.0)
	if ft.cur != 440 {
		t.Errorf("value after re-Set: got %f, want 440", ft.cur)
	}
}

package transport

import (
	"math"
	"testing"
)

type firedStep struct {
	step int64
	at   float64
	dur  float64
}

type recordingFirer struct {
	fired []firedStep
}

func (r *recordingFirer) Fire(step int64, at, stepDur float64) int {
	r.fired = append(r.fired, firedStep{step, at, stepDur})
	return 1
}

func TestPollSchedulesOnlyInsideWindow(t *testing.T) {
	f := &recordingFirer{}
	tr := New(f)
	tr.Start(0)

	tr.Poll(0)
	// 120 bpm, 4 steps/beat: 0.125s steps. Only step 0 fits in [0, 0.1).
	if len(f.fired) != 1 {
		t.Fatalf("fired %d steps, want 1: %v", len(f.fired), f.fired)
	}
	want := firedStep{step: 0, at: 0, dur: 0.125}
	if f.fired[0] != want {
		t.Errorf("got %+v, want %+v", f.fired[0], want)
	}

	tr.Poll(0.05)
	if len(f.fired) != 2 {
		t.Fatalf("fired %d steps after second poll, want 2", len(f.fired))
	}
	if f.fired[1].step != 1 || f.fired[1].at != 0.125 {
		t.Errorf("second step: got %+v, want step 1 at 0.125", f.fired[1])
	}
}

func TestEveryStepScheduledBeforeDue(t *testing.T) {
	f := &recordingFirer{}
	tr := New(f)
	tr.Start(0)

	// Two simulated seconds of 25ms polls.
	seen := 0
	for now := 0.0; now < 2.0; now += 0.025 {
		tr.Poll(now)
		for _, fs := range f.fired[seen:] {
			if fs.at < now {
				t.Fatalf("step %d fired late: due %.3f, polled at %.3f", fs.step, fs.at, now)
			}
		}
		seen = len(f.fired)
	}

	for i, fs := range f.fired {
		if fs.step != int64(i) {
			t.Fatalf("step sequence broken at %d: got %d", i, fs.step)
		}
		if i > 0 && fs.at <= f.fired[i-1].at {
			t.Fatalf("step times not increasing at %d: %.3f after %.3f", i, fs.at, f.fired[i-1].at)
		}
	}
}

func TestSetTempoLeavesScheduledTimesAlone(t *testing.T) {
	f := &recordingFirer{}
	tr := New(f)
	tr.Start(0)
	tr.Poll(0) // schedules step 0 at 0, resolves step 1 for 0.125

	if err := tr.SetTempo(240); err != nil {
		t.Fatal(err)
	}
	tr.Poll(0.1) // window reaches 0.2: step 1 and the first 240bpm step

	if len(f.fired) != 3 {
		t.Fatalf("fired %d steps, want 3: %v", len(f.fired), f.fired)
	}
	if f.fired[1].at != 0.125 {
		t.Errorf("already-resolved step moved: got %.4f, want 0.125", f.fired[1].at)
	}
	if got := f.fired[2].at; math.Abs(got-0.1875) > 1e-12 {
		t.Errorf("first retempoed step: got %.4f, want 0.1875", got)
	}
	if f.fired[2].dur != 0.0625 {
		t.Errorf("retempoed step duration: got %.4f, want 0.0625", f.fired[2].dur)
	}
}

func TestSetTempoRejectsNonPositive(t *testing.T) {
	tr := New(&recordingFirer{})
	for _, bpm := range []float64{0, -10} {
		if err := tr.SetTempo(bpm); err == nil {
			t.Errorf("SetTempo(%g) accepted", bpm)
		}
	}
	if err := tr.SetStepsPerBeat(0); err == nil {
		t.Error("SetStepsPerBeat(0) accepted")
	}
}

func TestStopResetsAndStartReanchors(t *testing.T) {
	f := &recordingFirer{}
	tr := New(f)
	tr.Start(0)
	tr.Poll(0)
	tr.Poll(0.2)

	tr.Stop()
	if tr.Running() {
		t.Fatal("still running after Stop")
	}
	n := len(f.fired)
	tr.Poll(0.5)
	if len(f.fired) != n {
		t.Error("stopped transport still scheduling")
	}
	if tr.Step() != -1 {
		t.Errorf("display step after stop: got %d, want -1", tr.Step())
	}

	tr.Start(10)
	tr.Poll(10)
	last := f.fired[len(f.fired)-1]
	if last.step != 0 || last.at != 10 {
		t.Errorf("restart: got step %d at %.3f, want step 0 at 10", last.step, last.at)
	}
}

func TestStallCatchesUpInOrder(t *testing.T) {
	f := &recordingFirer{}
	tr := New(f)
	tr.Start(0)

	tr.Poll(1.0) // a one-second stall before the first poll

	if len(f.fired) == 0 {
		t.Fatal("nothing scheduled after stall")
	}
	for i, fs := range f.fired {
		if fs.step != int64(i) {
			t.Fatalf("catch-up skipped to step %d at index %d", fs.step, i)
		}
	}
	last := f.fired[len(f.fired)-1]
	if last.at < 1.0 || last.at >= 1.1 {
		t.Errorf("catch-up should end inside the window: last at %.4f", last.at)
	}
}

func TestSubscribeStepReportsReachedSteps(t *testing.T) {
	f := &recordingFirer{}
	tr := New(f)

	var got []int64
	unsub := tr.SubscribeStep(func(step int64) { got = append(got, step) })

	tr.Start(0)
	tr.Poll(0) // step 0 scheduled at 0 and immediately reached
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("after first poll: got %v, want [0]", got)
	}
	if tr.Step() != 0 {
		t.Errorf("display step: got %d, want 0", tr.Step())
	}

	tr.Poll(0.13) // step 1 (at 0.125) scheduled and already reached
	if len(got) != 2 || got[1] != 1 {
		t.Fatalf("after second poll: got %v, want [0 1]", got)
	}

	unsub()
	tr.Poll(0.3)
	if len(got) != 2 {
		t.Errorf("unsubscribed callback still called: %v", got)
	}
}

package patchbay

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/cbegin/patchbay-go/render"
)

// stubBackend satisfies render.Backend without rendering; it stands in for
// an embedder's custom engine.
type stubBackend struct{ now float64 }

func (b *stubBackend) Now() float64    { return b.now }
func (b *stubBackend) SampleRate() int { return 48000 }
func (b *stubBackend) Destination() render.Unit {
	return nil
}
func (b *stubBackend) CreateUnit(render.UnitKind) (render.Unit, error) {
	return nil, errors.New("stub backend has no units")
}
func (b *stubBackend) Close() error { return nil }

func mustEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func mustAddNode(t *testing.T, e *Engine, spec NodeSpec) string {
	t.Helper()
	id, err := e.AddNode(spec)
	if err != nil {
		t.Fatalf("add %s: %v", spec.Kind, err)
	}
	return id
}

func TestEngineLifecycle(t *testing.T) {
	e := mustEngine(t)
	defer e.Close()

	if e.Playing() {
		t.Fatal("fresh engine should not be playing")
	}
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !e.Playing() {
		t.Fatal("engine should be playing after Start")
	}
	if err := e.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if e.Playing() {
		t.Fatal("engine should stop")
	}
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	e := mustEngine(t)
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
	if _, err := e.AddNode(NodeSpec{Kind: "gain"}); !errors.Is(err, ErrClosed) {
		t.Errorf("AddNode after close: got %v, want ErrClosed", err)
	}
	if err := e.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after close: got %v, want ErrClosed", err)
	}
	if err := e.SetEdges(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("SetEdges after close: got %v, want ErrClosed", err)
	}
	if _, err := e.RenderSamples(0.1); !errors.Is(err, ErrClosed) {
		t.Errorf("RenderSamples after close: got %v, want ErrClosed", err)
	}
}

func TestCustomBackendWithoutRendererCannotBounce(t *testing.T) {
	e := mustEngine(t, WithBackend(&stubBackend{}))
	defer e.Close()
	if _, err := e.RenderSamples(1); err == nil {
		t.Fatal("offline render should fail on a backend without Render")
	}
	if _, err := New(WithBackend(&stubBackend{}), WithLiveOutput()); err == nil {
		t.Fatal("live output should fail on a backend without a player")
	}
}

func TestTempoOptionsAndApply(t *testing.T) {
	e := mustEngine(t, WithTempo(140), WithStepsPerBeat(8))
	defer e.Close()
	if got := e.Tempo(); got != 140 {
		t.Fatalf("tempo: got %g, want 140", got)
	}
	if err := e.Apply(Document{Tempo: 90, StepsPerBeat: 2}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := e.Tempo(); got != 90 {
		t.Fatalf("tempo after apply: got %g, want 90", got)
	}
	if err := e.SetTempo(-1); err == nil {
		t.Fatal("negative tempo should be rejected")
	}
	if _, err := New(WithPollInterval(0)); err == nil {
		t.Fatal("zero poll interval should be rejected")
	}
}

// buildMonoSynthDoc is the canonical demo patch: a step sequencer driving a
// voice, the voice gating an ADSR on an oscillator, out to the master bus.
func buildMonoSynthDoc() Document {
	return Document{
		Tempo:        120,
		StepsPerBeat: 4,
		Nodes: []NodeSpec{
			{ID: "seq", Kind: "stepseq", Steps: []Step{
				{Active: true, Velocity: 0.9},
				{Active: false},
				{Active: true},
				{Active: false},
			}},
			{ID: "lead", Kind: "voice"},
			{ID: "osc", Kind: "oscillator", Wave: "sawtooth"},
			{ID: "env", Kind: "adsr", Envelope: &EnvelopeSpec{
				Attack: 0.01, Decay: 0.1, Sustain: 0.5, Release: 0.1,
			}},
			{ID: "master", Kind: "out"},
		},
		Edges: []Edge{
			{Source: "seq", Target: "lead"},
			{Source: "lead", Target: "env"},
			{Source: "lead", SourcePort: "frequency", Target: "osc", TargetPort: "frequency"},
			{Source: "osc", Target: "env"},
			{Source: "env", Target: "master"},
		},
	}
}

func TestPatternRendersNotesOffline(t *testing.T) {
	e := mustEngine(t)
	defer e.Close()
	if err := e.Apply(buildMonoSynthDoc()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	out, err := e.RenderSamples(1)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	sr := e.Backend().SampleRate()
	if want := sr * 2; len(out) != want {
		t.Fatalf("sample count: got %d, want %d", len(out), want)
	}

	rms := func(fromSec, toSec float64) float64 {
		from, to := int(fromSec*float64(sr)), int(toSec*float64(sr))
		var sum float64
		for i := from; i < to; i++ {
			v := float64(out[2*i])
			sum += v * v
		}
		return math.Sqrt(sum / float64(to-from))
	}

	// Step 0 fires at t=0: attack/decay/release all inside the first 0.25s.
	if got := rms(0, 0.2); got < 0.02 {
		t.Errorf("first note window rms: got %g, want > 0.02", got)
	}
	// Steps 1-3 are inactive or silent; the envelope has fully released.
	if got := rms(0.3, 0.45); got > 1e-3 {
		t.Errorf("inactive window rms: got %g, want < 1e-3", got)
	}
	// The pattern wraps: step 4 is cell 0 again, due at t=0.5. Its velocity
	// was left zero in the document, so cell 2 (t=0.25+) stays silent and
	// cell 0 sounds again here.
	if got := rms(0.5, 0.7); got < 0.02 {
		t.Errorf("wrapped note window rms: got %g, want > 0.02", got)
	}
}

func TestStepSubscriberSeesOfflineProgress(t *testing.T) {
	e := mustEngine(t)
	defer e.Close()

	var got []int64
	unsub := e.SubscribeStep(func(step int64) { got = append(got, step) })
	defer unsub()

	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.RenderSamples(0.6); err != nil {
		t.Fatalf("render: %v", err)
	}

	if len(got) < 3 {
		t.Fatalf("subscriber saw %d steps, want at least 3", len(got))
	}
	for i, step := range got {
		if step != int64(i) {
			t.Fatalf("step order: got %v", got)
		}
	}
}

func TestDescribeRoundTripsThroughJSON(t *testing.T) {
	a := mustEngine(t)
	defer a.Close()
	if err := a.Apply(buildMonoSynthDoc()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	docA := a.Describe()

	data, err := json.Marshal(docA)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	b := mustEngine(t)
	defer b.Close()
	if err := b.LoadDocument(data); err != nil {
		t.Fatalf("load: %v", err)
	}
	docB := b.Describe()

	if !reflect.DeepEqual(docA, docB) {
		t.Fatalf("document drifted through round trip\n a: %+v\n b: %+v", docA, docB)
	}
	if docB.Tempo != 120 || docB.StepsPerBeat != 4 {
		t.Fatalf("transport settings lost: %+v", docB)
	}
}

func TestUpdateNodeParamTakesEffect(t *testing.T) {
	e := mustEngine(t)
	defer e.Close()
	id := mustAddNode(t, e, NodeSpec{Kind: "oscillator"})
	if err := e.UpdateNodeParam(id, "frequency", 880); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc := e.Describe()
	if len(doc.Nodes) != 1 {
		t.Fatalf("node count: got %d", len(doc.Nodes))
	}
	if got := doc.Nodes[0].Params["frequency"]; got != 880 {
		t.Fatalf("described frequency: got %g, want 880", got)
	}
}

func TestRemoveNodeDropsItsEdges(t *testing.T) {
	e := mustEngine(t)
	defer e.Close()
	osc := mustAddNode(t, e, NodeSpec{Kind: "oscillator"})
	out := mustAddNode(t, e, NodeSpec{Kind: "out"})
	if err := e.SetEdges([]Edge{{Source: osc, Target: out}}); err != nil {
		t.Fatalf("set edges: %v", err)
	}
	if err := e.RemoveNode(osc); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := e.Describe(); len(got.Edges) != 0 || len(got.Nodes) != 1 {
		t.Fatalf("after remove: %d nodes %d edges, want 1 node 0 edges",
			len(got.Nodes), len(got.Edges))
	}
}

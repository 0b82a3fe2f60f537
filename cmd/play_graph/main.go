package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/cbegin/patchbay-go"
)

func main() {
	var (
		filePath = flag.String("file", "", "path to a graph document (JSON); omit for the built-in demo patch")
		wavPath  = flag.String("wav", "", "render offline to this WAV file instead of playing live")
		seconds  = flag.Float64("seconds", 8, "how long to play or render (0 = live until interrupted)")
		rate     = flag.Int("sample-rate", 44100, "output sample rate")
		tempo    = flag.Float64("tempo", 0, "override the document tempo (BPM)")
		logSpec  = flag.String("log", "", `loggo configuration, e.g. "patchbay=DEBUG"`)
	)
	flag.Parse()

	live := *wavPath == ""
	opts := []patchbay.Option{patchbay.WithSampleRate(*rate)}
	if *logSpec != "" {
		opts = append(opts, patchbay.WithLogger(*logSpec))
	}
	if live {
		opts = append(opts, patchbay.WithLiveOutput())
	}
	eng, err := patchbay.New(opts...)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	if err := loadPatch(eng, *filePath); err != nil {
		log.Fatal(err)
	}
	if *tempo > 0 {
		if err := eng.SetTempo(*tempo); err != nil {
			log.Fatal(err)
		}
	}
	if err := eng.Start(); err != nil {
		log.Fatal(err)
	}

	if live {
		playLive(eng, *seconds)
		return
	}
	samples, err := eng.RenderSamples(*seconds)
	if err != nil {
		log.Fatal(err)
	}
	wav := patchbay.EncodeWAVFloat32LE(samples, *rate, 2)
	if err := os.WriteFile(*wavPath, wav, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s (%.1fs at %d Hz)\n", *wavPath, *seconds, *rate)
}

func loadPatch(eng *patchbay.Engine, path string) error {
	if path == "" {
		return eng.Apply(demoDocument())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return eng.LoadDocument(data)
}

func playLive(eng *patchbay.Engine, seconds float64) {
	unsub := eng.SubscribeStep(func(step int64) {
		if step%4 == 0 {
			fmt.Printf("beat %d\n", step/4)
		}
	})
	defer unsub()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	if seconds > 0 {
		select {
		case <-interrupt:
		case <-time.After(time.Duration(seconds * float64(time.Second))):
		}
	} else {
		<-interrupt
	}
	fmt.Println("stopping")
}

// demoDocument is an eight-step bassline: a mono voice with portamento
// driving a sawtooth through an ADSR, a lowpass swept by an LFO, and a
// feedback delay into the master bus.
func demoDocument() patchbay.Document {
	return patchbay.Document{
		Tempo:        124,
		StepsPerBeat: 4,
		Nodes: []patchbay.NodeSpec{
			{ID: "seq", Kind: "stepseq", Steps: []patchbay.Step{
				{Active: true, Velocity: 0.9, Note: 45},
				{Active: false},
				{Active: true, Velocity: 0.6, Note: 45},
				{Active: true, Velocity: 0.8, Note: 57},
				{Active: true, Velocity: 0.9, Note: 45},
				{Active: false},
				{Active: true, Velocity: 0.7, Note: 48},
				{Active: true, Velocity: 0.8, Note: 52},
			}},
			{ID: "bass", Kind: "voice", Voice: &patchbay.VoiceSpec{Portamento: 0.05}},
			{ID: "osc", Kind: "oscillator", Wave: "sawtooth"},
			{ID: "env", Kind: "adsr", Envelope: &patchbay.EnvelopeSpec{
				Attack: 0.005, Decay: 0.09, Sustain: 0.3, Release: 0.06,
				Curve: "exponential",
			}},
			{ID: "flt", Kind: "filter", Filter: "lowpass",
				Params: map[string]float64{"frequency": 900, "q": 3}},
			{ID: "wobble", Kind: "lfo", Wave: "sine",
				Params: map[string]float64{"rate": 0.2, "depth": 600}},
			{ID: "echo", Kind: "delay",
				Params: map[string]float64{"time": 0.36, "feedback": 0.45}},
			{ID: "master", Kind: "out"},
		},
		Edges: []patchbay.Edge{
			{Source: "seq", Target: "bass"},
			{Source: "bass", Target: "env"},
			{Source: "bass", SourcePort: "frequency", Target: "osc", TargetPort: "frequency"},
			{Source: "osc", Target: "env"},
			{Source: "env", Target: "flt"},
			{Source: "wobble", Target: "flt", TargetPort: "frequency"},
			{Source: "flt", Target: "master"},
			{Source: "flt", Target: "echo"},
			{Source: "echo", Target: "master"},
		},
	}
}

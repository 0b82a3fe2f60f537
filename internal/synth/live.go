package synth

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// streamReader adapts the engine's pull-based render to the audio device's
// io.Reader: float32 little-endian interleaved stereo, 8 bytes per frame.
type streamReader struct {
	eng *Engine
	buf []float32
}

func (r *streamReader) Read(p []byte) (int, error) {
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.eng.Render(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	return frames * 8, nil
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// sharedAudioContext hands out the process-wide device context. The device
// opens once at a fixed rate, so a second engine at a different rate is an
// error rather than a silent resample.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

type liveOutput struct {
	player *ebitaudio.Player
}

func (l *liveOutput) close() error {
	l.player.Pause()
	return l.player.Close()
}

// Play starts streaming the engine to the output device, opening it on first
// use. Pull happens on the device's own cadence; the engine clock advances
// only as audio is consumed.
func (e *Engine) Play() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("play: engine is closed")
	}
	live := e.live
	e.mu.Unlock()

	if live == nil {
		ctx, err := sharedAudioContext(e.sr)
		if err != nil {
			return err
		}
		pl, err := ctx.NewPlayerF32(&streamReader{eng: e})
		if err != nil {
			return err
		}
		live = &liveOutput{player: pl}
		e.mu.Lock()
		if e.live != nil {
			// Lost the race to another Play call.
			stale := live
			live = e.live
			e.mu.Unlock()
			_ = stale.close()
		} else {
			e.live = live
			e.mu.Unlock()
		}
	}
	live.player.Play()
	return nil
}

// Pause suspends the output device. The engine clock freezes with it.
func (e *Engine) Pause() {
	e.mu.Lock()
	live := e.live
	e.mu.Unlock()
	if live != nil {
		live.player.Pause()
	}
}

package patchbay

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/cbegin/patchbay-go/render"
)

// offlineChunkFrames is the render granularity between transport polls. It
// stays well under the lookahead window so steps are always scheduled before
// the frames that play them.
const offlineChunkFrames = 1024

// RenderSamples renders the next stretch of engine output as interleaved
// stereo float32, polling the transport between chunks so a running pattern
// fires exactly as it would live. Requires a backend implementing
// render.Renderer; the reference synth does. Not meaningful while live
// output is open, since the device consumes the same clock.
func (e *Engine) RenderSamples(seconds float64) ([]float32, error) {
	if seconds <= 0 {
		return nil, errors.New("seconds must be positive")
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	renderer, ok := e.backend.(render.Renderer)
	e.mu.Unlock()
	if !ok {
		return nil, errors.New("backend cannot render offline")
	}

	frames := int(float64(e.backend.SampleRate()) * seconds)
	out := make([]float32, frames*2)
	for off := 0; off < len(out); {
		e.mu.Lock()
		if !e.closed && e.transport.Running() {
			e.transport.Poll(e.backend.Now())
		}
		e.mu.Unlock()
		n := len(out) - off
		if n > offlineChunkFrames*2 {
			n = offlineChunkFrames * 2
		}
		renderer.Render(out[off : off+n])
		off += n
	}
	return out, nil
}

// EncodeWAVFloat32LE wraps interleaved float32 samples in a WAV container
// (format 3, IEEE float, 32-bit).
func EncodeWAVFloat32LE(samples []float32, sampleRate, channels int) []byte {
	const headerSize = 44
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4

	out := make([]byte, headerSize+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(headerSize-8+dataSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[headerSize+i*4:], math.Float32bits(s))
	}
	return out
}

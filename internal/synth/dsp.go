package synth

import (
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-dsp/dsp/conv"
	"github.com/cwbudde/algo-dsp/dsp/delay"
	"github.com/cwbudde/algo-dsp/dsp/effects/dynamics"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
	"github.com/cwbudde/algo-dsp/dsp/spectrum"
	"github.com/cwbudde/algo-dsp/dsp/window"
	timestats "github.com/cwbudde/algo-dsp/stats/time"

	"github.com/cbegin/patchbay-go/render"
)

// dsp renders one block for its unit. Inputs and parameter blocks are
// prepared by the engine before the call.
type dsp interface {
	render(u *unit, n int, t0, dt float64)
}

type oscillatorDSP struct {
	wave  render.Wave
	phase float64 // [0, 1)
}

func (o *oscillatorDSP) render(u *unit, n int, t0, dt float64) {
	freq := u.pbufs["frequency"]
	det := u.pbufs["detune"]
	for k := 0; k < n; k++ {
		t := t0 + float64(k)*dt
		if !u.activeAt(t) {
			u.outL[k], u.outR[k] = 0, 0
			continue
		}
		v := waveSample(o.wave, o.phase)
		f := freq[k] * math.Exp2(det[k]/1200)
		o.phase += f * dt
		for o.phase >= 1 {
			o.phase--
		}
		for o.phase < 0 {
			o.phase++
		}
		u.outL[k], u.outR[k] = v, v
	}
}

func waveSample(w render.Wave, phase float64) float64 {
	switch w {
	case render.WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case render.WaveSawtooth:
		return 1 - 2*phase
	case render.WaveTriangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

type constantDSP struct{}

func (constantDSP) render(u *unit, n int, t0, dt float64) {
	off := u.pbufs["offset"]
	for k := 0; k < n; k++ {
		if !u.activeAt(t0 + float64(k)*dt) {
			u.outL[k], u.outR[k] = 0, 0
			continue
		}
		u.outL[k], u.outR[k] = off[k], off[k]
	}
}

type gainDSP struct{}

func (gainDSP) render(u *unit, n int, _, _ float64) {
	g := u.pbufs["gain"]
	for k := 0; k < n; k++ {
		u.outL[k] = u.inL[k] * g[k]
		u.outR[k] = u.inR[k] * g[k]
	}
}

type sampleDSP struct {
	buf     []float64
	pos     float64
	playing bool
	gen     int
}

func (s *sampleDSP) render(u *unit, n int, t0, dt float64) {
	gain := u.pbufs["gain"]
	rate := u.pbufs["rate"]
	for k := 0; k < n; k++ {
		t := t0 + float64(k)*dt
		if s.gen != u.startGen && t >= u.startAt {
			s.gen = u.startGen
			s.pos = 0
			s.playing = len(s.buf) > 0
		}
		if !s.playing || t >= u.stopAt {
			u.outL[k], u.outR[k] = 0, 0
			continue
		}
		i := int(s.pos)
		if i >= len(s.buf) {
			s.playing = false
			u.outL[k], u.outR[k] = 0, 0
			continue
		}
		v := s.buf[i]
		if frac := s.pos - float64(i); frac > 0 && i+1 < len(s.buf) {
			v += (s.buf[i+1] - v) * frac
		}
		v *= gain[k]
		s.pos += math.Max(rate[k], 0)
		u.outL[k], u.outR[k] = v, v
	}
}

// filterDSP runs one RBJ biquad per channel. Coefficients redesign at block
// rate when frequency, q, gain, or type moved; section state carries over.
type filterDSP struct {
	typ      render.FilterType
	sr       float64
	l, r     *biquad.Section
	lastFreq float64
	lastQ    float64
	lastGain float64
}

func newFilterDSP(sr float64) *filterDSP {
	c := design.Lowpass(1000, 0.707, sr)
	return &filterDSP{
		sr:       sr,
		l:        biquad.NewSection(c),
		r:        biquad.NewSection(c),
		lastFreq: 1000,
		lastQ:    0.707,
	}
}

func (f *filterDSP) render(u *unit, n int, _, _ float64) {
	freq := clampf(u.pbufs["frequency"][0], 1, 0.49*f.sr)
	q := math.Max(u.pbufs["q"][0], 1e-3)
	gain := u.pbufs["gain"][0]
	if freq != f.lastFreq || q != f.lastQ || gain != f.lastGain {
		var c biquad.Coefficients
		switch f.typ {
		case render.FilterHighpass:
			c = design.Highpass(freq, q, f.sr)
		case render.FilterBandpass:
			c = design.Bandpass(freq, q, f.sr)
		case render.FilterNotch:
			c = design.Notch(freq, q, f.sr)
		case render.FilterPeak:
			c = design.Peak(freq, gain, q, f.sr)
		default:
			c = design.Lowpass(freq, q, f.sr)
		}
		f.l.Coefficients = c
		f.r.Coefficients = c
		f.lastFreq, f.lastQ, f.lastGain = freq, q, gain
	}
	for k := 0; k < n; k++ {
		u.outL[k] = f.l.ProcessSample(u.inL[k])
		u.outR[k] = f.r.ProcessSample(u.inR[k])
	}
}

// delayDSP reads in the main pass and ingests input after every unit has
// rendered, so feedback wiring costs one block of latency instead of a
// dependency cycle. The effective minimum delay is therefore one block.
type delayDSP struct {
	sr   float64
	l, r *delay.Line
}

const maxDelaySeconds = 4

func newDelayDSP(sr float64) (*delayDSP, error) {
	size := int(maxDelaySeconds * sr)
	l, err := delay.New(size)
	if err != nil {
		return nil, err
	}
	r, err := delay.New(size)
	if err != nil {
		return nil, err
	}
	return &delayDSP{sr: sr, l: l, r: r}, nil
}

func (d *delayDSP) render(u *unit, n int, _, _ float64) {
	tbuf := u.pbufs["time"]
	for k := 0; k < n; k++ {
		// Samples behind the write head: the head sits at the end of the
		// previous block during this pass.
		back := clampf(tbuf[k], 0, maxDelaySeconds)*d.sr - float64(k)
		if back < 1 {
			back = 1
		}
		u.outL[k] = d.l.ReadFractional(back)
		u.outR[k] = d.r.ReadFractional(back)
	}
}

func (d *delayDSP) ingest(u *unit, n int) {
	u.sumInputs(n)
	for k := 0; k < n; k++ {
		d.l.Write(u.inL[k])
		d.r.Write(u.inR[k])
	}
}

type panDSP struct{}

func (panDSP) render(u *unit, n int, _, _ float64) {
	pos := u.pbufs["pan"]
	for k := 0; k < n; k++ {
		a := (clampf(pos[k], -1, 1) + 1) * math.Pi / 4
		m := (u.inL[k] + u.inR[k]) * 0.5
		u.outL[k] = m * math.Cos(a)
		u.outR[k] = m * math.Sin(a)
	}
}

type compressorDSP struct {
	l, r        *dynamics.Compressor
	lastThresh  float64
	lastRatio   float64
	lastAttack  float64
	lastRelease float64
}

func newCompressorDSP(sr float64) (*compressorDSP, error) {
	l, err := dynamics.NewCompressor(sr)
	if err != nil {
		return nil, err
	}
	r, err := dynamics.NewCompressor(sr)
	if err != nil {
		return nil, err
	}
	// Makeup gain stays at unity; threshold and ratio alone set the curve.
	for _, comp := range []*dynamics.Compressor{l, r} {
		if err := comp.SetAutoMakeup(false); err != nil {
			return nil, err
		}
	}
	return &compressorDSP{l: l, r: r, lastThresh: math.NaN()}, nil
}

func (c *compressorDSP) render(u *unit, n int, _, _ float64) {
	thresh := u.pbufs["threshold"][0]
	ratio := math.Max(u.pbufs["ratio"][0], 1)
	attack := clampf(u.pbufs["attack"][0]*1000, 0.1, 1000)
	release := clampf(u.pbufs["release"][0]*1000, 1, 5000)
	if thresh != c.lastThresh || ratio != c.lastRatio ||
		attack != c.lastAttack || release != c.lastRelease {
		for _, comp := range []*dynamics.Compressor{c.l, c.r} {
			if err := comp.SetThreshold(thresh); err != nil {
				logger.Debugf("compressor threshold %g: %v", thresh, err)
			}
			if err := comp.SetRatio(ratio); err != nil {
				logger.Debugf("compressor ratio %g: %v", ratio, err)
			}
			if err := comp.SetAttack(attack); err != nil {
				logger.Debugf("compressor attack %gms: %v", attack, err)
			}
			if err := comp.SetRelease(release); err != nil {
				logger.Debugf("compressor release %gms: %v", release, err)
			}
		}
		c.lastThresh, c.lastRatio, c.lastAttack, c.lastRelease = thresh, ratio, attack, release
	}
	for k := 0; k < n; k++ {
		u.outL[k] = c.l.ProcessSample(u.inL[k])
		u.outR[k] = c.r.ProcessSample(u.inR[k])
	}
}

// convolverDSP convolves with a fixed kernel via streaming overlap-add. With
// no kernel it passes through. Short trailing blocks are zero-padded through
// fixed-size scratch because the convolver's block size is rigid.
type convolverDSP struct {
	l, r       *conv.StreamingOverlapAdd
	inScratch  []float64
	outScratch []float64
}

func newConvolverDSP() *convolverDSP {
	return &convolverDSP{
		inScratch:  make([]float64, blockFrames),
		outScratch: make([]float64, blockFrames),
	}
}

func (c *convolverDSP) setKernel(kernel []float64) error {
	if len(kernel) == 0 {
		c.l, c.r = nil, nil
		return nil
	}
	l, err := conv.NewStreamingOverlapAdd(kernel, blockFrames)
	if err != nil {
		return err
	}
	r, err := conv.NewStreamingOverlapAdd(kernel, blockFrames)
	if err != nil {
		return err
	}
	c.l, c.r = l, r
	return nil
}

func (c *convolverDSP) render(u *unit, n int, _, _ float64) {
	if c.l == nil {
		copy(u.outL[:n], u.inL[:n])
		copy(u.outR[:n], u.inR[:n])
		return
	}
	c.channel(c.l, u.outL, u.inL, n)
	c.channel(c.r, u.outR, u.inR, n)
}

func (c *convolverDSP) channel(soa *conv.StreamingOverlapAdd, out, in []float64, n int) {
	copy(c.inScratch, in[:n])
	for k := n; k < blockFrames; k++ {
		c.inScratch[k] = 0
	}
	if err := soa.ProcessBlockTo(c.outScratch, c.inScratch); err != nil {
		copy(out[:n], in[:n])
		return
	}
	copy(out[:n], c.outScratch[:n])
}

const analyserWindow = 1024

// analyserDSP passes audio through while keeping a mono ring of recent
// samples for on-demand spectral and level queries.
type analyserDSP struct {
	sr    float64
	ring  []float64
	write int
	win   []float64
	plan  *algofft.Plan[complex128]
	in    []complex128
	out   []complex128
}

func newAnalyserDSP(sr float64) (*analyserDSP, error) {
	win, err := window.Hann(analyserWindow)
	if err != nil {
		return nil, err
	}
	plan, err := algofft.NewPlan64(analyserWindow)
	if err != nil {
		return nil, err
	}
	return &analyserDSP{
		sr:   sr,
		ring: make([]float64, analyserWindow),
		win:  win,
		plan: plan,
		in:   make([]complex128, analyserWindow),
		out:  make([]complex128, analyserWindow),
	}, nil
}

func (a *analyserDSP) render(u *unit, n int, _, _ float64) {
	for k := 0; k < n; k++ {
		u.outL[k] = u.inL[k]
		u.outR[k] = u.inR[k]
		a.ring[a.write] = (u.inL[k] + u.inR[k]) * 0.5
		a.write++
		if a.write >= len(a.ring) {
			a.write = 0
		}
	}
}

// spectrum computes the windowed magnitude spectrum of the ring, oldest
// sample first. Caller holds the engine lock.
func (a *analyserDSP) spectrum() []float64 {
	read := a.write
	for i := 0; i < analyserWindow; i++ {
		a.in[i] = complex(a.ring[read]*a.win[i], 0)
		read++
		if read >= analyserWindow {
			read = 0
		}
	}
	if err := a.plan.Forward(a.out, a.in); err != nil {
		return nil
	}
	mags := spectrum.Magnitude(a.out[:analyserWindow/2+1])
	norm := float64(analyserWindow) / 4 // Hann coherent gain over half the bins
	for i := range mags {
		mags[i] /= norm
	}
	return mags
}

// rms reports the level of the ring. Caller holds the engine lock.
func (a *analyserDSP) rms() float64 {
	return timestats.RMS(a.ring)
}

// mixDSP sums inputs straight through; the destination uses it.
type mixDSP struct{}

func (mixDSP) render(u *unit, n int, _, _ float64) {
	copy(u.outL[:n], u.inL[:n])
	copy(u.outR[:n], u.inR[:n])
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package audio

import (
	"math"
	"math/rand"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
)

// WaveType defines oscillator wave shapes
type WaveType int

const (
	WaveSine WaveType = iota
	WaveSquare
	WaveSaw
	WaveNoise
)

// Tone describes one enveloped note
type Tone struct {
	Freq     float64
	Wave     WaveType
	Duration time.Duration
	Attack   time.Duration
	Release  time.Duration
	Gain     float64
}

// Streamer renders the tone at rate
func (t Tone) Streamer(rate beep.SampleRate) beep.Streamer {
	osc := newOscillator(t.Freq, t.Duration, t.Wave, rate)
	return gain(newEnvelope(osc, t.Duration, t.Attack, t.Release, rate), t.Gain)
}

// oscillator generates a raw wave for a fixed number of samples
type oscillator struct {
	freq     float64
	phase    float64
	duration int
	position int
	wave     WaveType
	rate     beep.SampleRate
}

func newOscillator(freq float64, d time.Duration, wave WaveType, rate beep.SampleRate) *oscillator {
	return &oscillator{freq: freq, duration: rate.N(d), wave: wave, rate: rate}
}

func (o *oscillator) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if o.position >= o.duration {
			return i, i > 0
		}

		var val float64
		switch o.wave {
		case WaveSine:
			val = math.Sin(2 * math.Pi * o.phase)
		case WaveSquare:
			val = -1.0
			if o.phase < 0.5 {
				val = 1.0
			}
		case WaveSaw:
			val = 2.0 * (o.phase - 0.5)
		case WaveNoise:
			val = rand.Float64()*2 - 1
		}
		samples[i][0] = val
		samples[i][1] = val

		o.phase += o.freq / float64(o.rate)
		o.phase -= math.Floor(o.phase)
		o.position++
	}
	return len(samples), true
}

func (o *oscillator) Err() error { return nil }

// envelope applies a linear attack and release
type envelope struct {
	streamer     beep.Streamer
	position     int
	attack       int
	release      int
	releaseStart int
}

func newEnvelope(s beep.Streamer, d, attack, release time.Duration, rate beep.SampleRate) *envelope {
	total := rate.N(d)
	att := rate.N(attack)
	rel := rate.N(release)
	start := total - rel
	if start < att {
		start = att
	}
	return &envelope{streamer: s, attack: att, release: rel, releaseStart: start}
}

func (e *envelope) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = e.streamer.Stream(samples)
	for i := 0; i < n; i++ {
		vol := 1.0
		switch {
		case e.position < e.attack:
			vol = float64(e.position) / float64(e.attack)
		case e.release > 0 && e.position >= e.releaseStart:
			vol = 1.0 - float64(e.position-e.releaseStart)/float64(e.release)
			if vol < 0 {
				vol = 0
			}
		}
		samples[i][0] *= vol
		samples[i][1] *= vol
		e.position++
	}
	return n, ok
}

func (e *envelope) Err() error { return e.streamer.Err() }

// gain wraps s in a volume effect. Log2(0) is -Inf so zero is silent.
func gain(s beep.Streamer, vol float64) beep.Streamer {
	if vol <= 0 {
		return &effects.Volume{Streamer: s, Base: 2, Silent: true}
	}
	return &effects.Volume{Streamer: s, Base: 2, Volume: math.Log2(vol)}
}

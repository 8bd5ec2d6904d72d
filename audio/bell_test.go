package audio

import (
	"math"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gopxl/beep"
	"github.com/juju/errors"
)

// recorder is an Output that never pulls samples
type recorder struct {
	mu      sync.Mutex
	initErr error
	inits   int
	played  []beep.Streamer
	closed  bool
}

func (r *recorder) Init(rate beep.SampleRate, bufferSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits++
	return r.initErr
}

func (r *recorder) Play(s beep.Streamer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.played = append(r.played, s)
}

func (r *recorder) Do(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f()
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// drain streams s to the end and returns every left-channel sample
func drain(s beep.Streamer) []float64 {
	var out []float64
	buf := make([][2]float64, 256)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			out = append(out, buf[i][0])
		}
		if !ok {
			return out
		}
	}
}

func TestChimeLengthAndRange(t *testing.T) {
	tests := []struct {
		chime Chime
		want  int
		peak  float64
	}{
		{ChimeKey, SampleRate.N(25 * time.Millisecond), 0.3},
		{ChimeShutdown, SampleRate.N(150 * time.Millisecond), 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.chime.String(), func(t *testing.T) {
			c := qt.New(t)
			samples := drain(tt.chime.Streamer(SampleRate))
			c.Assert(samples, qt.HasLen, tt.want)
			c.Assert(samples[0], qt.Equals, 0.0)

			var peak float64
			for _, v := range samples {
				peak = math.Max(peak, math.Abs(v))
			}
			c.Assert(peak <= tt.peak+1e-9, qt.IsTrue, qt.Commentf("peak %v", peak))
			c.Assert(peak > 0, qt.IsTrue)
		})
	}
}

func TestToneEnvelopeFadesOut(t *testing.T) {
	c := qt.New(t)
	rate := beep.SampleRate(1000)
	tone := Tone{Freq: 250, Wave: WaveSquare, Duration: 100 * time.Millisecond,
		Attack: 10 * time.Millisecond, Release: 20 * time.Millisecond, Gain: 1}

	samples := drain(tone.Streamer(rate))
	c.Assert(samples, qt.HasLen, 100)
	// Square wave at full gain between attack and release
	c.Assert(math.Abs(samples[50]), qt.Equals, 1.0)
	c.Assert(math.Abs(samples[99]) < 0.1, qt.IsTrue)

	c.Assert(drain(Tone{Freq: 250, Duration: 100 * time.Millisecond}.Streamer(rate)), qt.Not(qt.HasLen), 0)
	c.Assert(Chime(99).Streamer(rate), qt.IsNil)
}

func TestBellRingsIntoMixer(t *testing.T) {
	c := qt.New(t)
	out := &recorder{}
	b := NewBell(out)

	c.Assert(b.Ring(ChimeKey), qt.IsFalse)
	c.Assert(b.Open(), qt.IsNil)
	c.Assert(b.Open(), qt.IsNil)
	c.Assert(out.inits, qt.Equals, 1)
	c.Assert(out.played, qt.HasLen, 1)
	c.Assert(out.played[0], qt.Equals, beep.Streamer(b.mixer))

	c.Assert(b.Ring(ChimeKey), qt.IsTrue)
	c.Assert(b.Ring(ChimeBell), qt.IsTrue)
	c.Assert(b.mixer.Len(), qt.Equals, 2)

	c.Assert(b.ToggleMute(), qt.IsFalse)
	c.Assert(b.Ring(ChimeKey), qt.IsFalse)
	c.Assert(b.ToggleMute(), qt.IsTrue)
	c.Assert(b.Rung(), qt.Equals, uint64(2))

	b.Close()
	c.Assert(out.closed, qt.IsTrue)
	c.Assert(b.mixer.Len(), qt.Equals, 0)
	c.Assert(b.Ring(ChimeKey), qt.IsFalse)
	b.Close()
}

func TestBellWithoutDevice(t *testing.T) {
	c := qt.New(t)
	b := NewBell(&recorder{initErr: errors.New("no card")})

	err := b.Open()
	c.Assert(errors.Is(err, ErrNoAudio), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, `no card: no audio output`)
	c.Assert(b.Ring(ChimeBell), qt.IsFalse)
}

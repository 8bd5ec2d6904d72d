// Package audio rings short chimes for terminal input and supervisor
// shutdowns through the system speaker.
package audio

import (
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("reactor.audio")

// SampleRate of every chime
const SampleRate = beep.SampleRate(44100)

// ErrNoAudio is returned by Open when no output device is usable
const ErrNoAudio = errors.ConstError("no audio output")

// Chime selects a sound
type Chime int

const (
	ChimeKey Chime = iota
	ChimeBell
	ChimeShutdown
)

func (c Chime) String() string {
	switch c {
	case ChimeKey:
		return "key"
	case ChimeBell:
		return "bell"
	case ChimeShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Streamer renders the chime at rate
func (c Chime) Streamer(rate beep.SampleRate) beep.Streamer {
	switch c {
	case ChimeKey:
		return Tone{Freq: 1320, Wave: WaveSine, Duration: 25 * time.Millisecond,
			Attack: 2 * time.Millisecond, Release: 15 * time.Millisecond, Gain: 0.3}.Streamer(rate)
	case ChimeBell:
		// A5 with its octave, the overtone dying faster
		return beep.Mix(
			Tone{Freq: 880, Wave: WaveSine, Duration: 400 * time.Millisecond,
				Attack: 5 * time.Millisecond, Release: 350 * time.Millisecond, Gain: 0.7}.Streamer(rate),
			Tone{Freq: 1760, Wave: WaveSine, Duration: 400 * time.Millisecond,
				Attack: 5 * time.Millisecond, Release: 200 * time.Millisecond, Gain: 0.3}.Streamer(rate),
		)
	case ChimeShutdown:
		return Tone{Freq: 100, Wave: WaveSaw, Duration: 150 * time.Millisecond,
			Attack: 5 * time.Millisecond, Release: 50 * time.Millisecond, Gain: 0.8}.Streamer(rate)
	}
	return nil
}

// Output is where the bell's mixer plays. The speaker package is the
// default; tests substitute a recorder.
type Output interface {
	Init(rate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	// Do runs f while the output is not pulling samples
	Do(f func())
	Close()
}

type speakerOutput struct{}

func (speakerOutput) Init(rate beep.SampleRate, bufferSize int) error {
	return speaker.Init(rate, bufferSize)
}

func (speakerOutput) Play(s beep.Streamer) { speaker.Play(s) }

func (speakerOutput) Do(f func()) {
	speaker.Lock()
	defer speaker.Unlock()
	f()
}

func (speakerOutput) Close() { speaker.Close() }

// Bell mixes chimes into a single output
type Bell struct {
	mu     sync.Mutex
	out    Output
	mixer  *beep.Mixer
	open   bool
	muted  bool
	ringed uint64
}

// NewBell creates a closed bell on out; nil selects the system speaker
func NewBell(out Output) *Bell {
	if out == nil {
		out = speakerOutput{}
	}
	return &Bell{out: out, mixer: &beep.Mixer{}}
}

// Open initializes the output and starts the mixer
func (b *Bell) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		return nil
	}
	if err := b.out.Init(SampleRate, SampleRate.N(100*time.Millisecond)); err != nil {
		return errors.Annotate(ErrNoAudio, err.Error())
	}
	b.out.Play(b.mixer)
	b.open = true
	return nil
}

// Ring queues c. Returns false when the bell is closed or muted.
func (b *Bell) Ring(c Chime) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open || b.muted {
		return false
	}
	s := c.Streamer(SampleRate)
	if s == nil {
		return false
	}
	b.out.Do(func() { b.mixer.Add(s) })
	b.ringed++
	logger.Tracef("chime %s", c)
	return true
}

// ToggleMute flips the mute state and reports whether the bell is now audible
func (b *Bell) ToggleMute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.muted = !b.muted
	return !b.muted
}

// Rung returns how many chimes were queued
func (b *Bell) Rung() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ringed
}

// Close silences pending chimes and releases the output
func (b *Bell) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return
	}
	b.out.Do(b.mixer.Clear)
	b.out.Close()
	b.open = false
}

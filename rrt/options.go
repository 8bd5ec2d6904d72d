package rrt

import (
	"runtime"

	"github.com/juju/clock"
	"github.com/juju/loggo/v2"
)

// DefaultChannelCapacity is the per-subscriber buffer of the broadcast channel
const DefaultChannelCapacity = 4096

// Spawner starts run on a new goroutine/thread and must not wait for it:
// Subscribe holds the liveness lock while spawning. A non-nil error aborts the
// slow subscribe path with ErrThreadSpawn.
type Spawner func(run func()) error

// DedicatedThread runs each generation on its own goroutine locked to an OS
// thread. The thread is discarded when the generation exits.
func DedicatedThread(run func()) error {
	go func() {
		runtime.LockOSThread()
		run()
	}()
	return nil
}

// Option configures a Supervisor during creation
type Option func(*config)

type config struct {
	name       string
	logger     loggo.Logger
	clock      clock.Clock
	capacity   int
	spawner    Spawner
	metrics    *Metrics
	notifyStop bool
}

func defaultConfig() config {
	return config{
		name:     "rrt",
		logger:   logger,
		clock:    clock.WallClock,
		capacity: DefaultChannelCapacity,
		spawner:  DedicatedThread,
	}
}

// WithName labels the supervisor in logs and metrics.
//
// Example:
//
//	sup := rrt.New(factory, rrt.WithName("stdin"))
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithLogger replaces the package logger
func WithLogger(l loggo.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithClock sets the clock used for restart backoff sleeps
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithChannelCapacity sets the per-subscriber buffer. Values < 1 keep the default.
func WithChannelCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithSpawner replaces DedicatedThread
func WithSpawner(s Spawner) Option {
	return func(c *config) {
		if s != nil {
			c.spawner = s
		}
	}
}

// WithMetrics reports supervisor activity into m
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithStopNotification makes a worker's Stop verdict send a
// ShutdownWorkerStop event, so subscribers see why the stream ended.
// Off by default: Stop ends the generation silently.
func WithStopNotification() Option {
	return func(c *config) {
		c.notifyStop = true
	}
}

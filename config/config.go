// Package config loads the demo's TOML configuration and turns it into
// supervisor options and worker settings.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/lixenwraith/reactor/rrt"
	"github.com/lixenwraith/reactor/terminal"
)

// Backends accepted in [terminal] backend
const (
	BackendRaw    = "raw"
	BackendScreen = "screen"
)

// ErrInvalid wraps every validation failure
const ErrInvalid = errors.ConstError("invalid config")

// Config is the root of the TOML document
type Config struct {
	Supervisor SupervisorConfig `toml:"supervisor"`
	Policy     PolicyConfig     `toml:"policy"`
	Terminal   TerminalConfig   `toml:"terminal"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// SupervisorConfig maps onto rrt options
type SupervisorConfig struct {
	Name            string `toml:"name"`
	ChannelCapacity int    `toml:"channel_capacity"`
	NotifyStop      bool   `toml:"notify_stop"`
}

// PolicyConfig is the restart policy of the input worker
type PolicyConfig struct {
	MaxRestarts       uint32   `toml:"max_restarts"`
	InitialDelay      Duration `toml:"initial_delay"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	MaxDelay          Duration `toml:"max_delay"`
}

// TerminalConfig selects and tunes the input backend
type TerminalConfig struct {
	Backend       string   `toml:"backend"`
	RawMode       bool     `toml:"raw_mode"`
	DecodeKeys    bool     `toml:"decode_keys"`
	ReportResize  bool     `toml:"report_resize"`
	PollTimeout   Duration `toml:"poll_timeout"`
	EscapeTimeout Duration `toml:"escape_timeout"`
	QuitKey       string   `toml:"quit_key"`
	Bell          bool     `toml:"bell"`
}

// MetricsConfig controls the Prometheus endpoint; empty Listen disables it
type MetricsConfig struct {
	Listen    string `toml:"listen"`
	Namespace string `toml:"namespace"`
}

// Duration is a time.Duration written as "10ms" in TOML
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return errors.Annotatef(err, "duration %q", b)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given
func Default() Config {
	p := terminal.DefaultInputPolicy()
	return Config{
		Supervisor: SupervisorConfig{
			Name:            "stdin",
			ChannelCapacity: rrt.DefaultChannelCapacity,
		},
		Policy: PolicyConfig{
			MaxRestarts:       p.MaxRestarts,
			InitialDelay:      Duration(p.InitialDelay),
			BackoffMultiplier: p.BackoffMultiplier,
			MaxDelay:          Duration(p.MaxDelay),
		},
		Terminal: TerminalConfig{
			Backend:       BackendRaw,
			RawMode:       true,
			DecodeKeys:    true,
			ReportResize:  true,
			EscapeTimeout: Duration(terminal.DefaultEscapeTimeout),
			QuitKey:       "ctrl_c",
		},
		Metrics: MetricsConfig{
			Namespace: "reactor",
		},
	}
}

// Load reads and validates the file at path
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotate(err, "read config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Annotatef(err, "config %s", path)
	}
	return cfg, nil
}

// Parse overlays data on Default and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, errors.Annotatef(ErrInvalid, "unknown key %s", strings.Join(strict.Errors[0].Key(), "."))
		}
		return Config{}, errors.Annotate(err, "parse")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Encode writes cfg as TOML
func (c Config) Encode(w io.Writer) error {
	return errors.Trace(toml.NewEncoder(w).Encode(c))
}

// Validate checks ranges and names
func (c Config) Validate() error {
	if c.Supervisor.Name == "" {
		return errors.Annotate(ErrInvalid, "supervisor.name is empty")
	}
	if c.Supervisor.ChannelCapacity < 1 {
		return errors.Annotatef(ErrInvalid, "supervisor.channel_capacity %d < 1", c.Supervisor.ChannelCapacity)
	}
	if err := c.RestartPolicy().Validate(); err != nil {
		return errors.Annotate(ErrInvalid, err.Error())
	}
	switch c.Terminal.Backend {
	case BackendRaw, BackendScreen:
	default:
		return errors.Annotatef(ErrInvalid, "terminal.backend %q, want %q or %q", c.Terminal.Backend, BackendRaw, BackendScreen)
	}
	if c.Terminal.PollTimeout < 0 || c.Terminal.EscapeTimeout < 0 {
		return errors.Annotate(ErrInvalid, "terminal timeouts must not be negative")
	}
	if _, ok := terminal.KeyByName(c.Terminal.QuitKey); !ok {
		return errors.Annotatef(ErrInvalid, "terminal.quit_key %q is not a key name", c.Terminal.QuitKey)
	}
	return nil
}

// RestartPolicy converts [policy]
func (c Config) RestartPolicy() rrt.RestartPolicy {
	return rrt.RestartPolicy{
		MaxRestarts:       c.Policy.MaxRestarts,
		InitialDelay:      c.Policy.InitialDelay.Std(),
		BackoffMultiplier: c.Policy.BackoffMultiplier,
		MaxDelay:          c.Policy.MaxDelay.Std(),
	}
}

// SupervisorOptions converts [supervisor]
func (c Config) SupervisorOptions() []rrt.Option {
	opts := []rrt.Option{
		rrt.WithName(c.Supervisor.Name),
		rrt.WithChannelCapacity(c.Supervisor.ChannelCapacity),
	}
	if c.Supervisor.NotifyStop {
		opts = append(opts, rrt.WithStopNotification())
	}
	return opts
}

// InputConfig converts [terminal] and [policy] for a raw worker on fd
func (c Config) InputConfig(fd int) terminal.InputConfig {
	return terminal.InputConfig{
		Fd:            fd,
		RawMode:       c.Terminal.RawMode,
		DecodeKeys:    c.Terminal.DecodeKeys,
		ReportResize:  c.Terminal.ReportResize,
		PollTimeout:   c.Terminal.PollTimeout.Std(),
		EscapeTimeout: c.Terminal.EscapeTimeout.Std(),
		Policy:        c.RestartPolicy(),
	}
}

// QuitKey resolves terminal.quit_key; Validate guarantees it exists
func (c Config) QuitKey() terminal.Key {
	k, _ := terminal.KeyByName(c.Terminal.QuitKey)
	return k
}

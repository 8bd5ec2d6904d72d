//go:build unix

package terminal

import (
	"os"
	"sync"

	"github.com/juju/errors"

	"github.com/lixenwraith/reactor/rrt"
)

// ErrInputConfigured is returned by ConfigureInput once Input has been used
const ErrInputConfigured = errors.ConstError("stdin supervisor already configured")

var (
	inputMu   sync.Mutex
	inputSup  *rrt.Supervisor[Event]
	inputCfg  = StdinConfig()
	inputOpts = []rrt.Option{rrt.WithName("stdin")}
)

// StdinConfig is the default configuration of the process-wide stdin supervisor
func StdinConfig() InputConfig {
	return InputConfig{
		Fd:           int(os.Stdin.Fd()),
		RawMode:      true,
		DecodeKeys:   true,
		ReportResize: true,
		Policy:       DefaultInputPolicy(),
	}
}

// ConfigureInput replaces the configuration Input will use. It must be called
// before the first Input call; afterwards it returns ErrInputConfigured.
func ConfigureInput(cfg InputConfig, opts ...rrt.Option) error {
	inputMu.Lock()
	defer inputMu.Unlock()
	if inputSup != nil {
		return ErrInputConfigured
	}
	inputCfg = cfg
	inputOpts = append([]rrt.Option{rrt.WithName("stdin")}, opts...)
	return nil
}

// Input returns the process-wide stdin supervisor, creating it on first use.
//
// There is exactly one per process because there is exactly one stdin.
// Creating it is cheap: nothing touches the tty until the first Subscribe.
// There is no teardown; closing the last subscriber ends the current
// generation and restores the tty, and a later Subscribe starts a new one.
// Code that is not inherently single-instance should take a
// *rrt.Supervisor[Event] as a parameter instead of calling Input.
func Input() *rrt.Supervisor[Event] {
	inputMu.Lock()
	defer inputMu.Unlock()
	if inputSup == nil {
		inputSup = rrt.New(NewInputFactory(inputCfg), inputOpts...)
	}
	return inputSup
}

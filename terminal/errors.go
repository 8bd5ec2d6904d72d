package terminal

import (
	"github.com/juju/errors"
)

const (
	// ErrNotTerminal is returned when raw mode is requested on a non-tty fd
	ErrNotTerminal = errors.ConstError("not a terminal")

	// ErrServiceStopped is returned by Service.Start after Stop
	ErrServiceStopped = errors.ConstError("terminal service stopped")
)

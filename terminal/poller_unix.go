//go:build unix

package terminal

import (
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/lixenwraith/reactor/rrt"
)

const (
	// DefaultEscapeTimeout separates a standalone ESC from the start of a sequence
	DefaultEscapeTimeout = 50 * time.Millisecond

	readBufferSize = 1024
)

// DefaultInputPolicy retries a lost tty a handful of times, doubling the wait
func DefaultInputPolicy() rrt.RestartPolicy {
	return rrt.ExponentialPolicy(5, 10*time.Millisecond, 2, time.Second)
}

// InputConfig describes how to poll a tty-like file descriptor
type InputConfig struct {
	// Fd is duplicated for each worker, so the caller keeps ownership
	Fd int

	// RawMode puts the tty into raw mode for the life of each worker
	RawMode bool

	// DecodeKeys emits EventKey/EventMouse; otherwise raw EventInput chunks
	DecodeKeys bool

	// ReportResize relays SIGWINCH as EventResize
	ReportResize bool

	// PollTimeout bounds each poll; 0 blocks until readable or woken
	PollTimeout time.Duration

	// EscapeTimeout defaults to DefaultEscapeTimeout
	EscapeTimeout time.Duration

	// Policy is used as given; the zero value is NoRestarts
	Policy rrt.RestartPolicy
}

func (c InputConfig) withDefaults() InputConfig {
	if c.EscapeTimeout <= 0 {
		c.EscapeTimeout = DefaultEscapeTimeout
	}
	return c
}

// NewInputFactory returns a factory of InputWorkers over cfg.Fd
func NewInputFactory(cfg InputConfig) rrt.Factory[Event] {
	cfg = cfg.withDefaults()
	return func() (rrt.Worker[Event], rrt.Waker, error) {
		w, err := NewInputWorker(cfg)
		if err != nil {
			return nil, nil, err
		}
		return w, w.waker, nil
	}
}

// InputWorker polls a tty fd together with a wake pipe and, optionally, a
// SIGWINCH relay pipe
type InputWorker struct {
	cfg     InputConfig
	fd      int
	waker   *PipeWaker
	resize  *resizeRelay
	oldTerm *term.State
	dec     *decoder
	buf     []byte
	fds     []unix.PollFd
	emitFn  func(Event)
	emit    *rrt.Emitter[Event]
}

// NewInputWorker acquires every resource a worker needs. Partial failures
// release what was already acquired.
func NewInputWorker(cfg InputConfig) (_ *InputWorker, err error) {
	cfg = cfg.withDefaults()

	fd, err := unix.Dup(cfg.Fd)
	if err != nil {
		return nil, errors.Annotatef(err, "dup fd %d", cfg.Fd)
	}
	unix.CloseOnExec(fd)

	w := &InputWorker{
		cfg: cfg,
		fd:  fd,
		dec: newDecoder(),
		buf: make([]byte, readBufferSize),
	}
	defer func() {
		if err != nil {
			w.Close()
		}
	}()

	if cfg.RawMode {
		if !term.IsTerminal(fd) {
			return nil, errors.Annotatef(ErrNotTerminal, "fd %d", cfg.Fd)
		}
		if w.oldTerm, err = term.MakeRaw(fd); err != nil {
			return nil, errors.Annotate(err, "raw mode")
		}
	}

	if w.waker, err = NewPipeWaker(); err != nil {
		return nil, err
	}

	w.fds = []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLIN},
		{Fd: int32(w.waker.fd()), Events: unix.POLLIN},
	}

	if cfg.ReportResize {
		if w.resize, err = startResizeRelay(); err != nil {
			return nil, errors.Annotate(err, "resize relay")
		}
		w.fds = append(w.fds, unix.PollFd{Fd: int32(w.resize.fd()), Events: unix.POLLIN})
	}

	w.emitFn = func(ev Event) { w.emit.Emit(ev) }
	logger.Debugf("input worker on fd %d (dup of %d) ready", fd, cfg.Fd)
	return w, nil
}

// RestartPolicy implements rrt.PolicyProvider
func (w *InputWorker) RestartPolicy() rrt.RestartPolicy {
	return w.cfg.Policy
}

// PollOnce implements rrt.Worker
func (w *InputWorker) PollOnce(emit *rrt.Emitter[Event]) rrt.Continuation {
	w.emit = emit

	for i := range w.fds {
		w.fds[i].Revents = 0
	}

	n, err := unix.Poll(w.fds, w.timeoutMillis())
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return rrt.Continue
		}
		logger.Warningf("poll fd %d: %v", w.fd, err)
		return rrt.Restart
	}
	if n == 0 {
		w.dec.flush(w.emitFn)
		return rrt.Continue
	}

	if w.fds[1].Revents&unix.POLLIN != 0 {
		w.waker.drain()
	}

	if w.resize != nil && w.fds[2].Revents&unix.POLLIN != 0 {
		w.resize.drain()
		width, height := windowSize(w.fd)
		emit.Emit(Event{Type: EventResize, Width: width, Height: height})
	}

	in := w.fds[0].Revents
	switch {
	case in&unix.POLLNVAL != 0:
		logger.Warningf("fd %d no longer valid", w.fd)
		return rrt.Restart
	case in&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0:
		return w.read(emit)
	}
	return rrt.Continue
}

func (w *InputWorker) read(emit *rrt.Emitter[Event]) rrt.Continuation {
	n, err := unix.Read(w.fd, w.buf)
	switch {
	case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
		return rrt.Continue
	case errors.Is(err, unix.EIO), errors.Is(err, unix.EBADF), errors.Is(err, unix.ENXIO):
		logger.Warningf("read fd %d: %v", w.fd, err)
		return rrt.Restart
	case err != nil:
		emit.Emit(Event{Type: EventError, Err: errors.Annotatef(err, "read fd %d", w.fd)})
		return rrt.Restart
	case n == 0:
		logger.Infof("fd %d reached EOF", w.fd)
		return rrt.Stop
	}

	if !w.cfg.DecodeKeys {
		data := make([]byte, n)
		copy(data, w.buf[:n])
		emit.Emit(Event{Type: EventInput, Data: data})
		return rrt.Continue
	}
	w.dec.feed(w.buf[:n], w.emitFn)
	return rrt.Continue
}

func (w *InputWorker) timeoutMillis() int {
	timeout := w.cfg.PollTimeout
	if w.cfg.DecodeKeys && w.dec.pendingEscape() {
		if timeout <= 0 || w.cfg.EscapeTimeout < timeout {
			timeout = w.cfg.EscapeTimeout
		}
	}
	if timeout <= 0 {
		return -1
	}
	return int(timeout.Milliseconds())
}

// Close restores the tty and releases every descriptor. The waker is closed
// too; wakes after this point are no-ops.
func (w *InputWorker) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if w.resize != nil {
		keep(w.resize.stop())
		w.resize = nil
	}
	if w.oldTerm != nil {
		keep(term.Restore(w.fd, w.oldTerm))
		w.oldTerm = nil
	}
	if w.waker != nil {
		keep(w.waker.Close())
	}
	if w.fd >= 0 {
		keep(unix.Close(w.fd))
		w.fd = -1
	}
	return firstErr
}

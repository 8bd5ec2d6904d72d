//go:build unix

package terminal

import (
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// PipeWaker interrupts a unix.Poll by making the read end of a self-pipe
// readable. Repeated wakes before the poller drains collapse into one byte.
//
// Wake stays safe after Close; the supervisor may still hold the waker of a
// worker it already discarded.
type PipeWaker struct {
	mu      sync.RWMutex
	closed  bool
	r, w    int
	pending atomic.Bool
	wakes   atomic.Uint64
}

// NewPipeWaker creates the self-pipe with both ends non-blocking
func NewPipeWaker() (*PipeWaker, error) {
	r, w, err := nonblockingPipe()
	if err != nil {
		return nil, errors.Annotate(err, "wake pipe")
	}
	return &PipeWaker{r: r, w: w}, nil
}

// Wake implements rrt.Waker
func (p *PipeWaker) Wake() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	if !p.pending.CompareAndSwap(false, true) {
		return
	}
	p.wakes.Add(1)
	// EAGAIN means the pipe already holds a byte
	_, _ = unix.Write(p.w, []byte{0})
}

// Wakes returns how many wake bytes were written
func (p *PipeWaker) Wakes() uint64 {
	return p.wakes.Load()
}

// fd is polled for POLLIN by the worker
func (p *PipeWaker) fd() int {
	return p.r
}

// drain empties the pipe and re-arms Wake. A Wake racing in between is
// skipped, which is fine: the caller returns Continue and the loop rechecks
// the subscriber count after this point.
func (p *PipeWaker) drain() {
	drainFd(p.r)
	p.pending.Store(false)
}

// Close releases both pipe ends. Idempotent.
func (p *PipeWaker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err1 := unix.Close(p.r)
	err2 := unix.Close(p.w)
	if err1 != nil {
		return err1
	}
	return err2
}

func nonblockingPipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}

func drainFd(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

//go:build unix

package terminal

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"
)

// resizeRelay turns SIGWINCH into a readable byte on a pipe so the input
// worker sees resizes through the same unix.Poll call as keystrokes
type resizeRelay struct {
	tomb  tomb.Tomb
	sigCh chan os.Signal
	r, w  int
}

func startResizeRelay() (*resizeRelay, error) {
	r, w, err := nonblockingPipe()
	if err != nil {
		return nil, err
	}

	relay := &resizeRelay{
		sigCh: make(chan os.Signal, 1),
		r:     r,
		w:     w,
	}
	signal.Notify(relay.sigCh, unix.SIGWINCH)
	relay.tomb.Go(relay.loop)
	return relay, nil
}

func (r *resizeRelay) loop() error {
	defer signal.Stop(r.sigCh)
	for {
		select {
		case <-r.tomb.Dying():
			return tomb.ErrDying
		case <-r.sigCh:
			// A full pipe already signals a pending resize
			_, _ = unix.Write(r.w, []byte{1})
		}
	}
}

// fd is polled for POLLIN by the worker
func (r *resizeRelay) fd() int {
	return r.r
}

func (r *resizeRelay) drain() {
	drainFd(r.r)
}

// stop ends the relay goroutine and closes the pipe
func (r *resizeRelay) stop() error {
	r.tomb.Kill(nil)
	err := r.tomb.Wait()
	unix.Close(r.r)
	unix.Close(r.w)
	return err
}

// windowSize returns the terminal dimensions for fd, falling back to 80x24
func windowSize(fd int) (int, int) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 || ws.Row == 0 {
		return 80, 24
	}
	return int(ws.Col), int(ws.Row)
}

// Package terminal provides rrt workers that read terminal input.
//
// Features:
//   - InputWorker: unix.Poll over a tty fd plus a self-pipe waker
//   - Raw byte decoding into keys and SGR mouse events, with ESC timeout
//   - SIGWINCH relayed into the same poll set
//   - ScreenWorker: the same contract over a tcell.Screen
//   - Service: forwards a supervisor's events into a channel for a hub
//
// Workers never own the caller's descriptor: InputWorker polls a dup, so a
// restart can close and reopen its copy without touching stdin itself.
package terminal

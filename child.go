package looper

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// Stdin and Closed are phantom type markers distinguishing a Child
// that still owns its stdin pipe from one that has closed it,
// mirroring the Rust original's Child<Stdin> / Child<()> type states.
// Go methods cannot be specialized per type argument, so the
// transitions between them (CloseStdin) are free functions rather
// than methods — see CloseStdin below.
type Stdin struct{}
type Closed struct{}

// ChildHandle is the minimal surface RegisterReaper needs from a
// spawned child, independent of its stdin phase.
type ChildHandle interface {
	Pid() int
}

// Child wraps a running *exec.Cmd together with its non-blocking
// stdio ends, piped and made non-blocking the way
// process_unix.rs::new_child / process_win.rs::new_child wrap a
// freshly spawned std::process::Child. S is Stdin while the stdin
// pipe is still open, Closed once CloseStdin has consumed it.
type Child[S any] struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File
}

// Pid satisfies ChildHandle.
func (ch *Child[S]) Pid() int { return ch.cmd.Process.Pid }

// ID is the public accessor spec.md names for a child's OS process id.
func (ch *Child[S]) ID() int { return ch.Pid() }

// Kill terminates the child process.
func (ch *Child[S]) Kill() error {
	return ch.cmd.Process.Kill()
}

// Stdout is the child's non-blocking stdout read end.
func (ch *Child[S]) Stdout() *os.File { return ch.stdout }

// Stderr is the child's non-blocking stderr read end.
func (ch *Child[S]) Stderr() *os.File { return ch.stderr }

// Spawn starts cmd with piped, non-blocking stdin/stdout/stderr ends
// owned by the reactor, the Go restatement of
// process_unix.rs::new_child: every std stream is forced to a real OS
// pipe (not exec.Cmd's in-process io.Pipe convenience), the child is
// started with the child-side ends, and the reactor-owned ends are
// then set non-blocking.
func Spawn(cmd *exec.Cmd) (*Child[Stdin], error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "looper: stdin pipe")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "looper: stdout pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "looper: stderr pipe")
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "looper: start child")
	}

	// The child-side ends belong to the child process now; close our
	// copies so EOF propagates correctly when it exits.
	_ = stdinR.Close()
	_ = stdoutW.Close()
	_ = stderrW.Close()

	for _, f := range []*os.File{stdinW, stdoutR, stderrR} {
		if err := setNonblocking(f); err != nil {
			_ = cmd.Process.Kill()
			return nil, errors.Wrap(err, "looper: set non-blocking")
		}
	}

	return &Child[Stdin]{cmd: cmd, stdin: stdinW, stdout: stdoutR, stderr: stderrR}, nil
}

// CloseStdin closes the child's stdin pipe and returns a Child typed
// without it, exactly mirroring Child<Stdin>::close_stdin in the Rust
// original. A free function rather than a method because Go does not
// allow a method to be defined only for one instantiation of a
// generic receiver type.
func CloseStdin(ch *Child[Stdin]) (*Child[Closed], error) {
	if err := ch.stdin.Close(); err != nil {
		return nil, errors.Wrap(err, "looper: close stdin")
	}
	return &Child[Closed]{cmd: ch.cmd, stdout: ch.stdout, stderr: ch.stderr}, nil
}

// StdinPipe is the non-blocking write end of a Child[Stdin]'s stdin.
func StdinPipe(ch *Child[Stdin]) *os.File { return ch.stdin }

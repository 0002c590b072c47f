//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package looper

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// setNonblocking flips O_NONBLOCK on f's fd, the Go/x-sys restatement
// of process_unix.rs::make_nonblocking's libc::fcntl(F_GETFL)/
// fcntl(F_SETFL) pair.
func setNonblocking(f *os.File) error {
	if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
		return errors.Wrap(err, "setnonblock")
	}
	return nil
}

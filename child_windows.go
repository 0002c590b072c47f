//go:build windows

package looper

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// setNonblocking puts a Windows pipe handle into non-blocking,
// message-less byte mode, the Go/x-sys-windows restatement of
// process_win.rs's use of mio_named_pipes: named pipes on Windows
// don't have an O_NONBLOCK bit, so non-blocking reads are achieved by
// setting PIPE_NOWAIT on the handle.
func setNonblocking(f *os.File) error {
	h := windows.Handle(f.Fd())
	mode := uint32(windows.PIPE_READMODE_BYTE | windows.PIPE_NOWAIT)
	if err := windows.SetNamedPipeHandleState(h, &mode, nil, nil); err != nil {
		return errors.Wrap(err, "SetNamedPipeHandleState")
	}
	return nil
}

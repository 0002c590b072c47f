package looper

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
)

// Source is anything the poller can watch: it exposes only the raw
// file descriptor; registrations against the same underlying fd are
// not deduplicated. Generalizes the teacher's dupconn helper (aio_generic.go in the
// sibling gaio copy), which pulls a raw fd out of a net.Conn via its
// SyscallConn method; here the extraction is pushed behind an
// interface so pipes, signal fds and sockets all register the same
// way.
type Source interface {
	// Fd returns the underlying OS file descriptor. On Windows this
	// is a HANDLE value widened to uintptr.
	Fd() uintptr
}

// connSource adapts a net.Conn (TCP/Unix socket, the common case for
// the wsreactor collaborator) to Source using the same
// SyscallConn/RawConn dance the teacher's dupconn performs.
type connSource struct {
	conn net.Conn
	fd   uintptr
}

// NewConnSource extracts the raw fd from any net.Conn that exposes
// SyscallConn, the exact mechanism dupconn uses in the teacher's
// sibling copy (RTradeLtd-gaio/aio_generic.go).
func NewConnSource(conn net.Conn) (Source, error) {
	sc, ok := conn.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return nil, errors.Errorf("looper: %T does not support SyscallConn", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "SyscallConn")
	}
	var fd uintptr
	ctrlErr := raw.Control(func(f uintptr) { fd = f })
	if ctrlErr != nil {
		return nil, errors.Wrap(ctrlErr, "raw.Control")
	}
	return &connSource{conn: conn, fd: fd}, nil
}

func (c *connSource) Fd() uintptr { return c.fd }

// fdSource is a bare fd wrapper for pipes and other non-net.Conn
// descriptors (the self-pipe reader end, a raw os.File).
type fdSource struct {
	fd uintptr
}

func NewFdSource(fd uintptr) Source {
	return &fdSource{fd: fd}
}

func (f *fdSource) Fd() uintptr { return f.fd }

// NewListenerSource extracts the raw fd from a net.Listener (TCP or
// Unix) the same way NewConnSource does for a net.Conn; both
// *net.TCPListener and *net.UnixListener expose SyscallConn directly.
// Used by the wsreactor collaborator to register its accept socket.
func NewListenerSource(l net.Listener) (Source, error) {
	sc, ok := l.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return nil, errors.Errorf("looper: %T does not support SyscallConn", l)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "SyscallConn")
	}
	var fd uintptr
	if err := raw.Control(func(f uintptr) { fd = f }); err != nil {
		return nil, errors.Wrap(err, "raw.Control")
	}
	return &fdSource{fd: fd}, nil
}

//go:build linux

package looper

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// rflags/wflags mirror the edge-triggered interest masks
// other_examples/.../poller_epoll.go.go (trpc-group-tnet) uses,
// always folding in hang-up/error bits so a closed peer wakes the
// handler even with no read interest registered — the Go restatement
// of UnixReady::hup() in process_unix.rs.
const (
	rflags = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLPRI | unix.EPOLLET
	wflags = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLET
)

type epollPoller struct {
	fd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epollPoller{fd: fd}, nil
}

func interestFlags(readable, writable bool) uint32 {
	var ev uint32
	if readable {
		ev |= rflags
	}
	if writable {
		ev |= wflags
	}
	return ev
}

func (p *epollPoller) register(fd uintptr, tok Token, readable, writable bool) error {
	ev := &unix.EpollEvent{Events: interestFlags(readable, writable)}
	ev.Fd = int32(tok)
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, int(fd), ev); err != nil {
		return errors.Wrap(err, "epoll_ctl add")
	}
	return nil
}

func (p *epollPoller) modify(fd uintptr, tok Token, readable, writable bool) error {
	ev := &unix.EpollEvent{Events: interestFlags(readable, writable)}
	ev.Fd = int32(tok)
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, int(fd), ev); err != nil {
		return errors.Wrap(err, "epoll_ctl mod")
	}
	return nil
}

func (p *epollPoller) unregister(fd uintptr) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return errors.Wrap(err, "epoll_ctl del")
	}
	return nil
}

func (p *epollPoller) wait(out []readyEvent) (int, error) {
	raw := make([]unix.EpollEvent, len(out))
	for {
		n, err := unix.EpollWait(p.fd, raw, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, errors.Wrap(err, "epoll_wait")
		}
		for i := 0; i < n; i++ {
			hup := raw[i].Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0
			out[i] = readyEvent{
				tok: Token(raw[i].Fd),
				// Hang-up is folded into readable, not just recorded
				// separately: spec.md §4.2 always includes hang-up
				// interest in the subscription "so that pipe close
				// is surfaced as a readable event" — the bound read
				// callback must get to observe the close (e.g. a
				// zero-byte Read) and decide whether to remove
				// itself, rather than the reactor tearing the
				// handler down on its behalf without ever invoking
				// readFn.
				readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 || hup,
				writable: raw[i].Events&unix.EPOLLOUT != 0,
				hup:      hup,
			}
		}
		return n, nil
	}
}

func (p *epollPoller) close() error {
	return errors.Wrap(unix.Close(p.fd), "close epoll fd")
}

//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package looper

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueuePoller is the BSD/Darwin sibling of epollPoller, grounded on
// other_examples/.../poller_kqueue.go.go (trpc-group-tnet). kevent's
// ident is the fd itself, so the fd->Token mapping kept here plays
// the same role the teacher's descs map[int]*fdDesc plays in
// watcher.go.
type kqueuePoller struct {
	fd    int
	byFd  map[uintptr]Token
}

func newPoller() (poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	return &kqueuePoller{fd: fd, byFd: make(map[uintptr]Token)}, nil
}

func (p *kqueuePoller) changeList(fd uintptr, readable, writable bool, add bool) []unix.Kevent_t {
	var flags uint16
	if add {
		flags = unix.EV_ADD | unix.EV_CLEAR
	} else {
		flags = unix.EV_DELETE
	}
	var kevs []unix.Kevent_t
	mk := func(filter int16) unix.Kevent_t {
		return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
	}
	if readable || !add {
		kevs = append(kevs, mk(unix.EVFILT_READ))
	}
	if writable || !add {
		kevs = append(kevs, mk(unix.EVFILT_WRITE))
	}
	return kevs
}

func (p *kqueuePoller) register(fd uintptr, tok Token, readable, writable bool) error {
	kevs := p.changeList(fd, readable, writable, true)
	if _, err := unix.Kevent(p.fd, kevs, nil, nil); err != nil {
		return errors.Wrap(err, "kevent register")
	}
	p.byFd[fd] = tok
	return nil
}

func (p *kqueuePoller) modify(fd uintptr, tok Token, readable, writable bool) error {
	return p.register(fd, tok, readable, writable)
}

func (p *kqueuePoller) unregister(fd uintptr) error {
	kevs := p.changeList(fd, false, false, false)
	if _, err := unix.Kevent(p.fd, kevs, nil, nil); err != nil {
		return errors.Wrap(err, "kevent unregister")
	}
	delete(p.byFd, fd)
	return nil
}

func (p *kqueuePoller) wait(out []readyEvent) (int, error) {
	raw := make([]unix.Kevent_t, len(out))
	for {
		n, err := unix.Kevent(p.fd, nil, raw, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, errors.Wrap(err, "kevent wait")
		}
		merged := map[Token]*readyEvent{}
		order := make([]Token, 0, n)
		for i := 0; i < n; i++ {
			tok, ok := p.byFd[uintptr(raw[i].Ident)]
			if !ok {
				continue
			}
			re, ok := merged[tok]
			if !ok {
				re = &readyEvent{tok: tok}
				merged[tok] = re
				order = append(order, tok)
			}
			switch raw[i].Filter {
			case unix.EVFILT_READ:
				re.readable = true
			case unix.EVFILT_WRITE:
				re.writable = true
			}
			if raw[i].Flags&unix.EV_EOF != 0 {
				// EV_EOF is folded into readable, not just recorded
				// separately, so the bound read callback observes
				// the close itself (spec.md §4.2) instead of the
				// reactor tearing the handler down without ever
				// invoking readFn.
				re.hup = true
				re.readable = true
			}
		}
		j := 0
		for _, tok := range order {
			out[j] = *merged[tok]
			j++
		}
		return j, nil
	}
}

func (p *kqueuePoller) close() error {
	return errors.Wrap(unix.Close(p.fd), "close kqueue fd")
}

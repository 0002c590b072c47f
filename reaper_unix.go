//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package looper

import (
	"container/list"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// reaperEntry is one outstanding wait, FIFO-rotated on every scan the
// way process_unix.rs's VecDeque<Reaper> is: `for _ in
// 0..reapers.len() { pop_front; if still alive push_back }` avoids
// starving entries queued behind a long-lived child.
type reaperEntry struct {
	pid      int
	objectID ObjectId
	cb       call
}

// unixProcessHandler is the POSIX processReaper: a self-pipe woken by
// a SIGCHLD-watching goroutine, registered as an ordinary reader on
// the Core's own poller so all reaping happens on the Run goroutine.
// Grounded on process_unix.rs::new_core/reap_all/reap in full.
type unixProcessHandler struct {
	core     *Core
	id       ObjectId
	pipeR    *os.File
	pipeW    *os.File
	reapers  *list.List // of *reaperEntry
}

func newProcessReaper(c *Core) (processReaper, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "looper: reaper self-pipe")
	}
	if err := setNonblocking(r); err != nil {
		return nil, errors.Wrap(err, "looper: reaper pipe nonblock")
	}

	h := &unixProcessHandler{
		core:    c,
		pipeR:   r,
		pipeW:   w,
		reapers: list.New(),
	}

	// Reserve the id before registering so the reader callback can
	// already close over it, the same next_id()-then-add() pattern
	// process_unix.rs::new_core uses for its own signal reader.
	id := NextID(c)
	h.id = id
	src := NewFdSource(uintptr(r.Fd()))
	RegisterReader[unixProcessHandler](c, src, id, func(self *unixProcessHandler, core *Core) {
		self.reapAll()
	})
	AddAt[unixProcessHandler](c, id, h)

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGCHLD)
	go func() {
		for range sigCh {
			// The goroutine only ever writes a wakeup byte; all
			// actual reaping happens on the Run goroutine when the
			// self-pipe becomes readable. This is the Go restatement
			// of spec.md's "signal handler safety" invariant.
			_, _ = h.pipeW.Write([]byte{0})
		}
	}()

	return h, nil
}

func (h *unixProcessHandler) registerReaper(pid int, id ObjectId, cb call) {
	h.reapers.PushBack(&reaperEntry{pid: pid, objectID: id, cb: cb})
}

// reapAll drains every pending wakeup byte, then scans the reaper
// list exactly once per entry (FIFO rotation), reaping each exited
// child and dropping it, pushing still-alive children back to the
// tail. Any waitpid error other than EINTR (which waitNoHang retries)
// is logged and the entry dropped — per spec Open Question (b), a
// scan error removes only the offending entry, never aborts the scan.
func (h *unixProcessHandler) reapAll() {
	buf := make([]byte, 64)
	// Read the raw fd: os.File.Read on a pipe waits for more data
	// instead of returning EAGAIN, and Fd() puts the fd back into
	// blocking mode, so O_NONBLOCK is set again here before draining.
	fd := int(h.pipeR.Fd())
	_ = unix.SetNonblock(fd, true)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil || n == 0 {
			break
		}
	}

	n := h.reapers.Len()
	for i := 0; i < n; i++ {
		front := h.reapers.Front()
		if front == nil {
			break
		}
		h.reapers.Remove(front)
		entry := front.Value.(*reaperEntry)

		exited, err := waitNoHang(entry.pid)
		if err != nil {
			h.core.log.Error().Err(err).Int("pid", entry.pid).Msg("looper: waitpid failed")
			continue
		}
		if !exited {
			h.reapers.PushBack(entry)
			continue
		}

		obj, ok := h.core.objects.take(entry.objectID)
		if ok {
			entry.cb.invoke(obj, h.core)
			h.core.objects.restore(entry.objectID, obj)
		}
	}
}

// waitNoHang loops waitpid(pid, WNOHANG), retrying on EINTR, the Go
// restatement of process_unix.rs::reap.
func waitNoHang(pid int) (bool, error) {
	var status unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		if wpid == 0 {
			return false, nil
		}
		return true, nil
	}
}

//go:build windows

package looper

import (
	"container/list"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// sentinel is sent through exitCh by the threadpool wait callback
// when its associated process handle signals, the Go restatement of
// process_win.rs's boxed Sentinel{id, sender}.
type sentinel struct {
	id uint32
}

// reaperEntry pairs a registered wait with the callback to fire once
// its sentinel arrives. waitHandle is unregistered when the entry is
// reaped so the threadpool stops tracking the process handle.
type reaperEntry struct {
	id         uint32
	objectID   ObjectId
	cb         call
	waitHandle windows.Handle
}

// windowsProcessHandler is the Windows processReaper: a channel fed
// by RegisterWaitForSingleObject callbacks, read through a pipe-backed
// Source the same way the POSIX handler reads its self-pipe, so all
// dispatch still happens on the Run goroutine.
type windowsProcessHandler struct {
	core           *Core
	id             ObjectId
	exitCh         chan uint32
	wakeR, wakeW   windows.Handle
	reapers        *list.List // of *reaperEntry
	nextSentinelID uint32

	// pendingEarlyExits holds sentinel ids of entries whose
	// WaitForSingleObject probe, run after the entry was enqueued,
	// found the process already signaled. Spec Open Question (c):
	// never send through exitCh for these; registerReaper pokes the
	// wake pipe instead, and reap drains them on the next Run turn.
	pendingEarlyExits []uint32
}

func newProcessReaper(c *Core) (processReaper, error) {
	var r, w windows.Handle
	if err := windows.CreatePipe(&r, &w, nil, 0); err != nil {
		return nil, errors.Wrap(err, "looper: reaper wake pipe")
	}

	h := &windowsProcessHandler{
		core:    c,
		exitCh:  make(chan uint32, 64),
		wakeR:   r,
		wakeW:   w,
		reapers: list.New(),
	}

	id := NextID(c)
	h.id = id
	src := NewFdSource(uintptr(r))
	RegisterReader[windowsProcessHandler](c, src, id, func(self *windowsProcessHandler, core *Core) {
		self.drainWake()
		self.reap()
	})
	AddAt[windowsProcessHandler](c, id, h)

	return h, nil
}

func (h *windowsProcessHandler) drainWake() {
	buf := make([]byte, 64)
	for {
		var n uint32
		err := windows.ReadFile(h.wakeR, buf, &n, nil)
		if err != nil || n == 0 {
			return
		}
	}
}

// looperWaitCallback runs on a threadpool wait thread; it only ever
// forwards the sentinel id and pokes the wake pipe, matching
// process_win.rs's `callback` extern fn doing nothing but
// sentinel.send().
func looperWaitCallback(ctx uintptr, _ uintptr) uintptr {
	s := (*sentinelCtx)(unsafe.Pointer(ctx))
	s.handler.exitCh <- s.id
	var n uint32
	_ = windows.WriteFile(s.handler.wakeW, []byte{0}, &n, nil)
	return 0
}

// sentinelCtx is the boxed context handed to
// RegisterWaitForSingleObject as its callback parameter, replacing
// process_win.rs's Box<Sentinel>.
type sentinelCtx struct {
	handler *windowsProcessHandler
	id      uint32
}

func (h *windowsProcessHandler) registerReaper(pid int, objectID ObjectId, cb call) {
	id := h.nextSentinelID
	h.nextSentinelID++
	entry := &reaperEntry{id: id, objectID: objectID, cb: cb}

	// Enqueue before probing, so an immediate exit (detected by the
	// WaitForSingleObject probe below) can never race a reap() call
	// that scans a list not yet containing this entry.
	h.reapers.PushBack(entry)

	procHandle, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		h.core.log.Error().Err(err).Int("pid", pid).Msg("looper: OpenProcess failed")
		return
	}

	if ev, _ := windows.WaitForSingleObject(procHandle, 0); ev == windows.WAIT_OBJECT_0 {
		// Already exited. Defer the notification rather than sending
		// through exitCh synchronously: at registration time the
		// caller may still be mid-setup for other entries, and the
		// only safe moment to fire is the Core's next Run turn.
		h.pendingEarlyExits = append(h.pendingEarlyExits, id)
		_ = windows.CloseHandle(procHandle)
		// Wake the reader so reap runs and drains pendingEarlyExits.
		var n uint32
		_ = windows.WriteFile(h.wakeW, []byte{0}, &n, nil)
		return
	}

	ctx := &sentinelCtx{handler: h, id: id}
	var waitHandle windows.Handle
	err = windows.RegisterWaitForSingleObject(
		&waitHandle,
		procHandle,
		windows.NewCallback(looperWaitCallback),
		uintptr(unsafe.Pointer(ctx)),
		windows.INFINITE,
		windows.WT_EXECUTEINWAITTHREAD|windows.WT_EXECUTEONLYONCE,
	)
	if err != nil {
		h.core.log.Error().Err(err).Int("pid", pid).Msg("looper: RegisterWaitForSingleObject failed")
		return
	}
	entry.waitHandle = waitHandle
}

// reap drains pendingEarlyExits first, then anything delivered
// through exitCh by a threadpool callback, rotating the reaper list
// front-to-back exactly like process_win.rs::reap.
func (h *windowsProcessHandler) reap() {
	pending := h.pendingEarlyExits
	h.pendingEarlyExits = nil
	for _, id := range pending {
		h.fire(id)
	}

	for {
		select {
		case id := <-h.exitCh:
			h.fire(id)
		default:
			return
		}
	}
}

func (h *windowsProcessHandler) fire(id uint32) {
	n := h.reapers.Len()
	for i := 0; i < n; i++ {
		front := h.reapers.Front()
		if front == nil {
			return
		}
		h.reapers.Remove(front)
		entry := front.Value.(*reaperEntry)
		if entry.id != id {
			h.reapers.PushBack(entry)
			continue
		}
		if entry.waitHandle != 0 {
			_ = windows.UnregisterWaitEx(entry.waitHandle, windows.Handle(windows.InvalidHandle))
		}
		obj, ok := h.core.objects.take(entry.objectID)
		if ok {
			entry.cb.invoke(obj, h.core)
			h.core.objects.restore(entry.objectID, obj)
		}
		return
	}
}

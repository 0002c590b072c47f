package looper

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Sentinel errors for expected conditions, following the teacher's
// package-scope `var Err... = errors.New(...)` convention.
var (
	ErrCoreClosed  = errors.New("looper: core is closed")
	ErrNoObject    = errors.New("looper: no object at id")
	ErrHandlerGone = errors.New("looper: handler no longer registered")
)

// readyEvent is what a poller implementation reports back to Run for
// a single Token on each wake.
type readyEvent struct {
	tok      Token
	readable bool
	writable bool
	hup      bool
}

// poller is the edge-triggered readiness backend; poller_linux.go and
// poller_bsd.go each provide one concrete implementation selected at
// compile time by build tags.
type poller interface {
	register(fd uintptr, tok Token, readable, writable bool) error
	modify(fd uintptr, tok Token, readable, writable bool) error
	unregister(fd uintptr) error
	wait(events []readyEvent) (int, error)
	close() error
}

// processReaper is the platform-specific half of child reaping;
// reaper_unix.go and reaper_windows.go each provide one.
type processReaper interface {
	registerReaper(pid int, id ObjectId, cb call)
}

// Core is the single-threaded reactor: an object store, a handler
// table keyed the same way, a readiness poller, and a process reaper.
// It owns no goroutines of its own beyond whatever platform-specific
// wakeup plumbing the reaper needs (see reaper_unix.go,
// reaper_windows.go); all callback dispatch happens on the goroutine
// that calls Run.
type Core struct {
	handlers *handlerTable
	objects  *objectStore
	poller   poller
	proc     processReaper
	exitFlag bool
	log      zerolog.Logger

	eventBuf []readyEvent
}

// Option configures a Core at construction time, generalizing the
// teacher's NewWatcherSize(bufsize int) into a functional-options
// slice so new knobs don't break the constructor signature.
type Option func(*coreConfig)

type coreConfig struct {
	log       zerolog.Logger
	batchSize int
}

// WithLogger attaches a zerolog.Logger for reactor diagnostics
// (reaper scan errors, poller registration and wait failures). The default is
// zerolog.Nop(), the same silent-by-default convention bgpfix's Pipe
// uses for its embedded logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *coreConfig) { c.log = l }
}

// WithEventBatchSize sets how many readiness events Run asks the
// poller for per wake. Default 128.
func WithEventBatchSize(n int) Option {
	return func(c *coreConfig) { c.batchSize = n }
}

// NewCore builds a Core with a platform poller and process reaper
// already wired and running. The process reaper registers itself
// as a handler at a reserved object id before returning, the same
// next_id()-then-add() pattern process_unix.rs::new_core uses for its
// own self-pipe reader.
func NewCore(opts ...Option) (*Core, error) {
	cfg := coreConfig{log: zerolog.Nop(), batchSize: 128}
	for _, o := range opts {
		o(&cfg)
	}

	p, err := newPoller()
	if err != nil {
		return nil, errors.Wrap(err, "looper: new poller")
	}

	c := &Core{
		handlers: newHandlerTable(),
		objects:  newObjectStore(),
		poller:   p,
		log:      cfg.log,
		eventBuf: make([]readyEvent, cfg.batchSize),
	}

	proc, err := newProcessReaper(c)
	if err != nil {
		_ = p.close()
		return nil, errors.Wrap(err, "looper: new process reaper")
	}
	c.proc = proc

	return c, nil
}

// Exit requests that Run stop after the current batch of callbacks
// finishes draining, matching spec.md's "exit drains the in-flight
// batch" testable property.
func (c *Core) Exit() {
	c.exitFlag = true
}

// Close releases the poller's OS resources. Call after Run returns.
func (c *Core) Close() error {
	return c.poller.close()
}

// Run is the reactor loop: wait for readiness, take each ready
// handler and its object out of their stashes, invoke the
// appropriate callback(s), and restore both unless the callback
// itself removed the object (e.g. on connection close). This is a
// direct port of Core::run / Core::call_on_object from the Rust
// original, restated as Go's take-dispatch-restore idiom since Go has
// no borrow checker to enforce it structurally.
func (c *Core) Run() {
	for !c.exitFlag && !c.handlers.isEmpty() {
		n, err := c.poller.wait(c.eventBuf)
		if err != nil {
			c.log.Error().Err(err).Msg("looper: poller wait failed")
			panic(errors.Wrap(err, "looper: poller wait"))
		}
		for i := 0; i < n; i++ {
			c.dispatch(c.eventBuf[i])
		}
	}
}

func (c *Core) dispatch(ev readyEvent) {
	h, ok := c.handlers.take(ev.tok)
	if !ok {
		// Handler vanished between the poller reporting readiness and
		// dispatch running (a prior callback in the same batch
		// removed it). Not an error; drop the event.
		return
	}

	if c.invokeHandler(h, ev) {
		// Handler restoration is conditional on the bound object
		// having survived the callback (spec.md §4.3: "if not
		// object_alive: drop handler (do not restore)"). Only once
		// the object is confirmed alive do we even attempt to put
		// the handler back.
		c.handlers.restore(ev.tok, h)
		return
	}

	c.dropHandler(ev.tok, h)
}

// invokeHandler takes the object bound to h, runs whichever
// callback(s) the event calls for, and restores the object unless the
// callback removed it itself. Its bool result is spec.md §4.3's
// object_alive: false both when there was no object to begin with and
// when the callback removed it during invocation.
func (c *Core) invokeHandler(h ioHandler, ev readyEvent) bool {
	obj, hasObj := c.objects.take(h.objectID)
	if !hasObj {
		return false
	}

	if ev.readable && h.readFn != nil {
		h.readFn.invoke(obj, c)
	}
	if ev.writable && h.writeFn != nil {
		h.writeFn.invoke(obj, c)
	}

	return c.objects.restore(h.objectID, obj)
}

// dropHandler tears down a handler that dispatch decided not to
// restore because its object is gone: either it was removed before
// the event arrived (orphan handler, spec.md §8 scenario 4) or the
// callback removed it during invocation. The handler's stash slot was left "taken" by dispatch's
// earlier take(); removing it here both frees the slot for reuse and
// deregisters the backing source from the poller. Hang-up alone is
// never a reason to drop a handler — spec.md §4.2 folds hang-up into
// the read subscription precisely so the bound read callback observes
// the close itself and decides whether to call Remove(self_id)
// (spec.md §4.6); the reactor must not preempt that decision.
func (c *Core) dropHandler(tok Token, h ioHandler) {
	c.handlers.remove(tok)
	if h.source != nil {
		_ = c.poller.unregister(h.source.Fd())
	}
}

// registerSource is the shared plumbing behind RegisterReader,
// RegisterWriter and RegisterReaderWriter: reserve a token, register
// the fd with the poller for the requested interest, commit the
// handler entry.
func registerSource(c *Core, src Source, id ObjectId, readFn, writeFn call) Token {
	tok := c.handlers.reserve()
	readable := readFn != nil
	writable := writeFn != nil
	if err := c.poller.register(src.Fd(), tok, readable, writable); err != nil {
		c.log.Error().Err(err).Uint32("token", uint32(tok)).Msg("looper: register failed")
	}
	c.handlers.commit(tok, ioHandler{
		objectID: id,
		readFn:   readFn,
		writeFn:  writeFn,
		source:   src,
	})
	return tok
}

// RegisterReader subscribes src for readability and binds f to run
// against the object at id on every readable edge (always combined
// with hang-up interest by the platform poller, mirroring
// UnixReady::hup() in the Rust process_unix.rs).
func RegisterReader[T any](c *Core, src Source, id ObjectId, f func(*T, *Core)) Token {
	return registerSource(c, src, id, makeCall(f), nil)
}

// RegisterWriter subscribes src for writability.
func RegisterWriter[T any](c *Core, src Source, id ObjectId, f func(*T, *Core)) Token {
	return registerSource(c, src, id, nil, makeCall(f))
}

// RegisterReaderWriter subscribes src for both readability and
// writability with independent callbacks.
func RegisterReaderWriter[T any](c *Core, src Source, id ObjectId, fr, fw func(*T, *Core)) Token {
	return registerSource(c, src, id, makeCall(fr), makeCall(fw))
}

// RegisterReaper arranges for f to run against the object at id once
// the process identified by child has exited. See reaper_unix.go and
// reaper_windows.go for the platform-specific wait mechanism.
func RegisterReaper[T any](c *Core, child ChildHandle, id ObjectId, f func(*T, *Core)) {
	c.proc.registerReaper(child.Pid(), id, makeCall(f))
}

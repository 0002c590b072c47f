package looper

// Token identifies a registered I/O source in the handler table and
// doubles as the opaque cookie the poller implementations attach to
// a readiness event, the same role Token plays throughout the Rust
// original and the low integer keys play in the teacher's
// descs map[int]*fdDesc.
type Token uint32

// ioHandler is one entry in the handler table: the object the
// callbacks dispatch against, plus up to one reader and one writer
// callback. A handler with both readFn and writeFn set is what
// RegisterReaderWriter produces; reaper registrations use only readFn
// (the reaper's "source" is a pipe/channel, not the child itself).
type ioHandler struct {
	objectID ObjectId
	readFn   call
	writeFn  call
	source   Source
}

type handlerTable struct {
	handlers *stash[ioHandler]
}

func newHandlerTable() *handlerTable {
	return &handlerTable{handlers: newStash[ioHandler]()}
}

func (h *handlerTable) reserve() Token {
	return Token(h.handlers.reserve())
}

func (h *handlerTable) commit(tok Token, e ioHandler) {
	h.handlers.commit(uint32(tok), e)
}

func (h *handlerTable) put(e ioHandler) Token {
	return Token(h.handlers.put(e))
}

func (h *handlerTable) remove(tok Token) (ioHandler, bool) {
	return h.handlers.remove(uint32(tok))
}

func (h *handlerTable) get(tok Token) (*ioHandler, bool) {
	return h.handlers.get(uint32(tok))
}

func (h *handlerTable) take(tok Token) (ioHandler, bool) {
	return h.handlers.take(uint32(tok))
}

func (h *handlerTable) restore(tok Token, e ioHandler) bool {
	return h.handlers.restore(uint32(tok), e)
}

// isEmpty reports whether there are no handlers left at all — the
// condition spec.md §4.3 and §8 use as Run's other stopping
// condition alongside an explicit Exit: a reactor that has drained
// every registered source has nothing left to wait for.
func (h *handlerTable) isEmpty() bool {
	return h.handlers.len() == 0
}

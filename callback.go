package looper

// call is the type-erased callback stored in an ioHandler. It is the
// Go stand-in for the Rust Call trait / Box<dyn Call>: a single
// concrete type per registration, invoked against the freshly
// down-cast object by the dispatch loop.
type call interface {
	invoke(obj any, c *Core)
}

// callback wraps a func(*T, *Core) the way the Rust Callback<F, T>
// struct wraps an FnMut(&mut T, &mut Core): invoke recovers the
// concrete *T from the erased object and calls fn, silently doing
// nothing if the object at this id stopped being a *T (it was removed
// and replaced, or the handler outlived its object's type change).
type callback[T any] struct {
	fn func(*T, *Core)
}

func (cb callback[T]) invoke(obj any, c *Core) {
	p, ok := obj.(*T)
	if !ok {
		return
	}
	cb.fn(p, c)
}

func makeCall[T any](fn func(*T, *Core)) call {
	return callback[T]{fn: fn}
}

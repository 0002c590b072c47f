package looper

// ObjectId identifies a user object owned by a Core. It is the Go
// counterpart of the Rust ObjectId newtype: a dense index into the
// object stash, stable for the object's lifetime and safe to capture
// inside a callback closure.
type ObjectId uint32

// objects stores user values as `any`, always boxing a pointer so
// that GetMut can hand back a live reference to the caller's own
// struct rather than a copy. Type safety on retrieval is a comma-ok
// type assertion, the Go idiom for Any::downcast_ref's "maybe this
// isn't the type you think it is" contract.
type objectStore struct {
	objects *stash[any]
}

func newObjectStore() *objectStore {
	return &objectStore{objects: newStash[any]()}
}

// nextID reserves an id before its object exists, so a callback that
// needs to know its own id (self-referential registration, see
// SUPPLEMENTED FEATURES item 1) can be built first and stored second.
func (o *objectStore) nextID() ObjectId {
	return ObjectId(o.objects.reserve())
}

// add stores v and returns its id. If id was already reserved via
// nextID, use addAt instead.
func (o *objectStore) add(v any) ObjectId {
	return ObjectId(o.objects.put(v))
}

// addAt commits a value at a previously reserved id.
func (o *objectStore) addAt(id ObjectId, v any) {
	o.objects.commit(uint32(id), v)
}

func (o *objectStore) remove(id ObjectId) (any, bool) {
	return o.objects.remove(uint32(id))
}

func (o *objectStore) contains(id ObjectId) bool {
	return o.objects.contains(uint32(id))
}

// take detaches the raw value at id for the duration of a callback
// invocation, mirroring Core::call_on_object's take-before-call step.
func (o *objectStore) take(id ObjectId) (any, bool) {
	return o.objects.take(uint32(id))
}

// restore places v back at id if nothing deleted the slot while the
// value was on loan to a callback.
func (o *objectStore) restore(id ObjectId, v any) bool {
	return o.objects.restore(uint32(id), v)
}

// Get retrieves a read-only pointer to the object stored at id. It
// returns false both when no object lives at id and when the object
// there isn't a *T (the open type set from spec.md's Type Erasure
// guidance: identity is checked at every access, not tagged ahead of
// time).
func Get[T any](c *Core, id ObjectId) (*T, bool) {
	v, ok := c.objects.objects.get(uint32(id))
	if !ok {
		return nil, false
	}
	p, ok := (*v).(*T)
	return p, ok
}

// GetMut is an alias for Get: since objects are always boxed as
// pointers, every successful lookup already yields a mutable
// reference. It exists to keep the external interface matching
// spec.md's GetMut/Get split for readers translating from the
// original.
func GetMut[T any](c *Core, id ObjectId) (*T, bool) {
	return Get[T](c, id)
}

// Add stores v (addressed by its pointer) and returns its new id.
func Add[T any](c *Core, v *T) ObjectId {
	return c.objects.add(v)
}

// Remove detaches and returns the object at id, if any.
func Remove(c *Core, id ObjectId) (any, bool) {
	return c.objects.remove(id)
}

// NextID reserves an id for an object that will be added shortly, so
// that callbacks registered before the Add call can already capture
// the id they'll eventually be invoked against.
func NextID(c *Core) ObjectId {
	return c.objects.nextID()
}

// AddAt commits v at an id previously reserved with NextID.
func AddAt[T any](c *Core, id ObjectId, v *T) {
	c.objects.addAt(id, v)
}

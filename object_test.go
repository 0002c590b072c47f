package looper

import "testing"

type widget struct {
	count int
}

type gadget struct {
	name string
}

func TestObjectStoreTypedRoundTrip(t *testing.T) {
	o := newObjectStore()
	w := &widget{count: 1}
	id := o.add(w)

	v, ok := o.objects.get(uint32(id))
	if !ok {
		t.Fatalf("expected object at id")
	}
	got, ok := (*v).(*widget)
	if !ok || got.count != 1 {
		t.Fatalf("round-tripped value = %#v, ok=%v", got, ok)
	}
}

func TestObjectStoreWrongTypeIsNotFound(t *testing.T) {
	o := newObjectStore()
	id := o.add(&widget{count: 1})

	v, _ := o.objects.get(uint32(id))
	if _, ok := (*v).(*gadget); ok {
		t.Fatalf("expected type mismatch to fail the assertion")
	}
}

func TestObjectStoreNextIDThenAdd(t *testing.T) {
	o := newObjectStore()
	id := o.nextID()
	if o.contains(id) {
		t.Fatalf("reserved id should not be visible before addAt")
	}
	o.addAt(id, &widget{count: 7})
	v, ok := o.objects.get(uint32(id))
	if !ok || (*v).(*widget).count != 7 {
		t.Fatalf("addAt at reserved id failed")
	}
}

func TestObjectStoreTakeRestore(t *testing.T) {
	o := newObjectStore()
	id := o.add(&widget{count: 1})

	v, ok := o.take(id)
	if !ok {
		t.Fatalf("take should succeed")
	}
	w := v.(*widget)
	w.count = 2 // mutate while on loan, as a callback would

	if o.contains(id) {
		t.Fatalf("slot should read empty while the value is on loan")
	}
	if !o.restore(id, v) {
		t.Fatalf("restore should succeed when nothing removed the slot")
	}
	got, _ := o.objects.get(uint32(id))
	if (*got).(*widget).count != 2 {
		t.Fatalf("mutation made during the loan should be visible after restore")
	}
}

func TestObjectStoreRemoveDuringLoanBlocksRestore(t *testing.T) {
	o := newObjectStore()
	id := o.add(&widget{count: 1})

	v, _ := o.take(id)
	// Simulate a callback that deletes its own object (e.g. on
	// connection close) instead of letting it get restored.
	o.remove(id)

	if o.restore(id, v) {
		t.Fatalf("restore must fail once the object was removed during the loan")
	}

	// The freed index is now available for a fresh object, and it
	// must not alias the one that was mid-dispatch above.
	id2 := o.add(&widget{count: 99})
	if id2 != id {
		t.Fatalf("expected the freed index %d to be reused, got %d", id, id2)
	}
}

func TestObjectStoreAddDuringLoanDoesNotStealIndex(t *testing.T) {
	o := newObjectStore()
	id := o.add(&widget{count: 1})

	_, _ = o.take(id) // simulates the object being mid-dispatch
	otherID := o.add(&widget{count: 2})

	if otherID == id {
		t.Fatalf("nested add during a loan must not be handed the taken index %d", id)
	}
}

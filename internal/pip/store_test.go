package pip

import (
	"testing"

	"pip-controller/internal/surface"
)

func TestInMemoryStore_GetSet(t *testing.T) {
	store := NewInMemoryStore()

	_, ok := store.Get("s1")
	if ok {
		t.Error("expected not found for empty store")
	}

	b := &Binding{StreamID: "s1", Surface: surface.New("view:s1")}
	store.Set(b)

	got, ok := store.Get("s1")
	if !ok || got != b {
		t.Errorf("Get: ok=%v, got %p want %p", ok, got, b)
	}
}

func TestInMemoryStore_Set_replaces(t *testing.T) {
	store := NewInMemoryStore()
	b1 := &Binding{StreamID: "s1"}
	b2 := &Binding{StreamID: "s1"}
	store.Set(b1)
	store.Set(b2)

	got, ok := store.Get("s1")
	if !ok || got != b2 {
		t.Errorf("Set should replace: got %p want %p", got, b2)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 binding, got %d", store.Len())
	}
}

func TestInMemoryStore_Delete(t *testing.T) {
	store := NewInMemoryStore()
	store.Set(&Binding{StreamID: "s1"})
	store.Delete("s1")
	store.Delete("missing")

	if _, ok := store.Get("s1"); ok {
		t.Error("binding should be gone")
	}
}

func TestInMemoryStore_List_sorted(t *testing.T) {
	store := NewInMemoryStore()
	store.Set(&Binding{StreamID: "b"})
	store.Set(&Binding{StreamID: "a"})
	store.Set(&Binding{StreamID: "c"})

	list := store.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 bindings, got %d", len(list))
	}
	for i, want := range []StreamID{"a", "b", "c"} {
		if list[i].StreamID != want {
			t.Errorf("List()[%d] = %s, want %s", i, list[i].StreamID, want)
		}
	}
}

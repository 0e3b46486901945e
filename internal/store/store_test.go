package store

import "testing"

func TestAddIsIdempotent(t *testing.T) {
	s := NewShared()
	s.Add("x", 1)
	s.Add("x", 2)

	v, err := s.Get("x", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected first write to stick, got %v", v)
	}
}

func TestUpdateCreate(t *testing.T) {
	s := NewShared()
	s.Update("y", 5, false)
	if s.Exists("y") {
		t.Fatalf("expected update without create to be a no-op")
	}

	s.Update("y", 5, true)
	v, err := s.Get("y", false)
	if err != nil || v != 5 {
		t.Fatalf("expected y=5, got %v err=%v", v, err)
	}

	s.Update("y", 6, false)
	v, _ = s.Get("y", false)
	if v != 6 {
		t.Fatalf("expected overwrite to 6, got %v", v)
	}
}

func TestGetNotFound(t *testing.T) {
	s := NewShared()
	if _, err := s.Get("missing", false); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeepCopyIndependence(t *testing.T) {
	s := NewShared()
	s.Add("m", map[string]any{"a": 1})

	copyV, err := s.Get("m", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cm := copyV.(map[string]any)
	cm["a"] = 999

	original, _ := s.Get("m", false)
	om := original.(map[string]any)
	if om["a"] != 1 {
		t.Fatalf("deep copy mutation leaked into store: %v", om["a"])
	}
}

func TestSameType(t *testing.T) {
	if !SameType(1, 2) {
		t.Fatalf("expected ints to match")
	}
	if SameType(1, "x") {
		t.Fatalf("expected int/string mismatch")
	}
	if !SameType(nil, nil) {
		t.Fatalf("expected nil/nil to match")
	}
}

func TestDedicatedScopedToOwner(t *testing.T) {
	d := NewDedicated()
	d.Add("op-a", "counter", 1)
	d.Add("op-b", "counter", 2)

	if d.Get("op-a", "counter") != 1 {
		t.Fatalf("expected op-a counter 1")
	}
	if d.Get("op-b", "counter") != 2 {
		t.Fatalf("expected op-b counter 2")
	}

	d.Update("op-a", "counter", 5)
	if d.Get("op-a", "counter") != 5 {
		t.Fatalf("expected update to stick")
	}

	d.RemoveOwner("op-a")
	if d.Get("op-a", "counter") != nil {
		t.Fatalf("expected op-a state removed")
	}
	if d.Get("op-b", "counter") != 2 {
		t.Fatalf("expected op-b state untouched")
	}
}

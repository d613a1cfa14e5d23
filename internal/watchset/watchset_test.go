package watchset

import "testing"

func TestAddAndContains(t *testing.T) {
	s := New()
	if s.Contains("A") {
		t.Fatal("empty set should not contain A")
	}
	s.Add("A")
	if !s.Contains("A") {
		t.Fatal("expected A to be watched after Add")
	}
	if s.Len() != 1 {
		t.Fatalf("expected len 1, got %d", s.Len())
	}
}

func TestAddAllIsIdempotent(t *testing.T) {
	s := New()
	s.AddAll([]string{"A", "B", "A"})
	if s.Len() != 2 {
		t.Fatalf("expected len 2, got %d", s.Len())
	}
	if !s.Contains("B") {
		t.Fatal("expected B to be watched")
	}
}

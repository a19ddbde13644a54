package resource

import "testing"

func TestSlab_Basic(t *testing.T) {
	var s Slab[string]

	h := s.Insert("test")
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := s.Get(h)
	if !ok || val != "test" {
		t.Fatalf("Get = %q, %v", val, ok)
	}

	val, ok = s.Remove(h)
	if !ok || val != "test" {
		t.Fatalf("Remove = %q, %v", val, ok)
	}
	if _, ok := s.Get(h); ok {
		t.Fatal("Get after Remove should fail")
	}
	if _, ok := s.Remove(h); ok {
		t.Fatal("double Remove should fail")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d after Remove", s.Len())
	}
}

func TestSlab_InvalidHandles(t *testing.T) {
	var s Slab[int]
	s.Insert(1)
	for _, h := range []Handle{0, 2, 1000} {
		if _, ok := s.Get(h); ok {
			t.Errorf("Get(%d) succeeded", h)
		}
		if _, ok := s.Remove(h); ok {
			t.Errorf("Remove(%d) succeeded", h)
		}
	}
}

func TestSlab_Reuse(t *testing.T) {
	var s Slab[int]
	h1 := s.Insert(1)
	h2 := s.Insert(2)
	s.Remove(h1)

	h3 := s.Insert(3)
	if h3 != h1 {
		t.Errorf("freed slot not reused: got %d, want %d", h3, h1)
	}
	if v, _ := s.Get(h2); v != 2 {
		t.Errorf("Get(h2) = %d", v)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestSlab_ReleasedWhenEmpty(t *testing.T) {
	var s Slab[int]
	for i := 0; i < 10; i++ {
		s.Insert(i)
	}
	for h := Handle(1); h <= 10; h++ {
		s.Remove(h)
	}
	if s.entries != nil || s.freeList != nil {
		t.Error("storage kept after last Remove")
	}
	if h := s.Insert(42); h != 1 {
		t.Errorf("first handle after reset = %d", h)
	}
}

func TestSlab_Each(t *testing.T) {
	var s Slab[int]
	for i := 1; i <= 5; i++ {
		s.Insert(i * 10)
	}
	s.Remove(3)

	sum := 0
	s.Each(func(h Handle, v int) bool {
		sum += v
		return true
	})
	if sum != 10+20+40+50 {
		t.Errorf("sum = %d", sum)
	}

	visited := 0
	s.Each(func(Handle, int) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Errorf("Each did not stop early: %d", visited)
	}
}

package environment

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStore_PutGetDelete(t *testing.T) {
	s := NewStore()
	env := &Environment{ID: "abc", CreatedAt: time.Now()}

	s.Put(env)
	got, ok := s.Get("abc")
	if !ok || got != env {
		t.Fatal("Get after Put failed")
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}

	deleted, ok := s.Delete("abc")
	if !ok || deleted != env {
		t.Fatal("Delete did not return the environment")
	}
	if _, ok := s.Get("abc"); ok {
		t.Error("environment still present after Delete")
	}
	if _, ok := s.Delete("abc"); ok {
		t.Error("second Delete must report absence")
	}
}

func TestStore_ListOldestFirst(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.Put(&Environment{ID: "newer", CreatedAt: base.Add(time.Hour)})
	s.Put(&Environment{ID: "oldest", CreatedAt: base.Add(-time.Hour)})
	s.Put(&Environment{ID: "middle", CreatedAt: base})

	got := s.List()
	want := []string{"oldest", "middle", "newer"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("list[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("env-%d", n)
			s.Put(&Environment{ID: id, CreatedAt: time.Now()})
			s.Get(id)
			s.List()
			if n%2 == 0 {
				s.Delete(id)
			}
		}(i)
	}
	wg.Wait()
	if s.Len() != 25 {
		t.Errorf("len = %d, want 25", s.Len())
	}
}

package session

import (
	"sync"
	"testing"
)

func TestHistoryAppendAndAll(t *testing.T) {
	h := &History{}
	h.Append(Cell{Counter: 1, Raw: "a"})
	h.Append(Cell{Counter: 2, Raw: "b"})

	all := h.All()
	if len(all) != 2 {
		t.Fatalf("len(All()) = %d, want 2", len(all))
	}
	if all[0].Raw != "a" || all[1].Raw != "b" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.Len())
	}
}

func TestHistoryAllReturnsSnapshot(t *testing.T) {
	h := &History{}
	h.Append(Cell{Counter: 1})
	snapshot := h.All()
	h.Append(Cell{Counter: 2})
	if len(snapshot) != 1 {
		t.Fatalf("snapshot mutated by later Append: len = %d", len(snapshot))
	}
}

func TestHistoryConcurrentAppend(t *testing.T) {
	h := &History{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h.Append(Cell{Counter: n})
		}(i)
	}
	wg.Wait()
	if h.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", h.Len())
	}
}

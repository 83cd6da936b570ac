package fixchain

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestVisitedSet_Mark(t *testing.T) {
	v := NewVisitedSet()

	if !v.Mark("ABCDEF1") {
		t.Error("first Mark should report new")
	}
	if v.Mark("abcdef1") {
		t.Error("Mark should be case-insensitive")
	}
	if v.Mark("AbCdEf1") {
		t.Error("mixed case should hit the same entry")
	}
	if v.Len() != 1 {
		t.Errorf("Len() = %d, want 1", v.Len())
	}
}

func TestVisitedSet_ConcurrentMark(t *testing.T) {
	v := NewVisitedSet()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.Mark("deadbeef") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("%d goroutines won the same hash, want exactly 1", winners.Load())
	}
}

package worker

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPoolDefaultsToNumCPU(t *testing.T) {
	for _, n := range []int{0, -1} {
		p := NewPool[string](n)
		if p.concurrency != runtime.NumCPU() {
			t.Errorf("NewPool(%d).concurrency = %d, want %d", n, p.concurrency, runtime.NumCPU())
		}
	}
	if p := NewPool[string](3); p.concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", p.concurrency)
	}
}

func TestProcessEmptyInput(t *testing.T) {
	p := NewPool[int](2)
	if results := p.Process(nil, func(string) (int, error) { return 0, nil }); results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}

func TestProcessPreservesInputOrder(t *testing.T) {
	p := NewPool[string](4)
	var items []string
	for i := 0; i < 12; i++ {
		items = append(items, fmt.Sprintf("/sessions/s%d.jsonl", i))
	}

	results := p.Process(items, func(path string) (string, error) {
		return "diary for " + path, nil
	})

	if len(results) != len(items) {
		t.Fatalf("got %d results, want %d", len(results), len(items))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("results[%d] err = %v", i, r.Err)
		}
		if r.Index != i || r.Value != "diary for "+items[i] {
			t.Errorf("results[%d] = {%d, %q}", i, r.Index, r.Value)
		}
	}
}

func TestProcessCapturesItemErrors(t *testing.T) {
	p := NewPool[int](2)
	boom := errors.New("unreadable")

	results := p.Process([]string{"good", "bad", "good"}, func(item string) (int, error) {
		if item == "bad" {
			return 0, boom
		}
		return len(item), nil
	})

	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("good items errored: %v, %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("results[1].Err = %v, want %v", results[1].Err, boom)
	}
}

func TestProcessBoundsConcurrency(t *testing.T) {
	const limit = 2
	p := NewPool[struct{}](limit)

	var inFlight, peak atomic.Int32
	items := []string{"a", "b", "c", "d", "e", "f"}

	p.Process(items, func(string) (struct{}, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})

	if got := peak.Load(); got > limit {
		t.Errorf("peak concurrency = %d, want at most %d", got, limit)
	}
}

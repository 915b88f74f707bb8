// Package worker provides a generic concurrent pool for fan-out/fan-in
// batch work. Reflection uses it to export and summarize candidate
// sessions in parallel before the single locked playbook merge; results
// come back in input order so the merge stays deterministic.
package worker

import (
	"runtime"
	"sync"
)

// Result pairs a processed value with its input index. Per-item errors
// are captured here rather than aborting the batch.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Pool fans items out to a fixed number of goroutines.
type Pool[T any] struct {
	concurrency int
}

// NewPool creates a pool. Non-positive concurrency means NumCPU.
func NewPool[T any](concurrency int) *Pool[T] {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool[T]{concurrency: concurrency}
}

// Process applies fn to every item and returns one Result per item, in
// the same order as the input.
func (p *Pool[T]) Process(items []string, fn func(string) (T, error)) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	workers := p.concurrency
	if workers > len(items) {
		workers = len(items)
	}

	type job struct {
		index int
		item  string
	}

	jobs := make(chan job, len(items))
	results := make([]Result[T], len(items))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				value, err := fn(j.item)
				results[j.index] = Result[T]{Index: j.index, Value: value, Err: err}
			}
		}()
	}

	for i, item := range items {
		jobs <- job{index: i, item: item}
	}
	close(jobs)
	wg.Wait()

	return results
}

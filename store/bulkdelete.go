package store

import (
	"context"
	"sync"
)

// boundedBulkDelete is the fallback used by backends without native batch
// delete: if the backend does not support batching, fall back to
// bounded-concurrency individual deletes").
func boundedBulkDelete(ctx context.Context, paths []string, concurrency int, del func(context.Context, string) error) BulkDeleteResult {
	if concurrency <= 0 {
		concurrency = 8
	}
	res := BulkDeleteResult{Failures: make(map[string]error)}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, concurrency)
	)
	for _, p := range paths {
		p := p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			err := del(ctx, p)
			mu.Lock()
			if err != nil {
				res.Failures[p] = err
			} else {
				res.Successes = append(res.Successes, p)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return res
}

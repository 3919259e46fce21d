package rules

import (
	"sync"
	"time"
)

// EvaluateMultipleProducts evaluates each product's rule set independently
// and concurrently. The per-product evaluations share no mutable state, so
// the fan-out needs no coordination beyond the WaitGroup.
func EvaluateMultipleProducts(byProduct map[string][]*Rule, now time.Time) map[string]*Evaluation {
	results := make(map[string]*Evaluation, len(byProduct))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for productID, list := range byProduct {
		wg.Add(1)
		go func(productID string, list []*Rule) {
			defer wg.Done()
			ev := EvaluateProduct(productID, list, now)
			mu.Lock()
			results[productID] = ev
			mu.Unlock()
		}(productID, list)
	}

	wg.Wait()
	return results
}

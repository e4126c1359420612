// Package parallel provides the two fixed worker-pool barriers used during
// fusion: one item per view, and one output z-slice per iteration.
package parallel

import (
	"runtime"
	"sync"
)

// Threads clamps a configured worker count to something usable
func Threads(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// ForEach runs fn(worker, i) for i in [0, n). Item i is owned by worker
// i mod threads. It blocks until every worker has returned and reports the
// first error by item order.
func ForEach(n, threads int, fn func(worker, i int) error) error {
	return run(n, threads, fn)
}

// ForEachSlice runs fn(worker, z) for every z in [0, depth), assigning z to
// worker z mod threads so each output slice is written by exactly one worker.
// A worker keeps going after a failed slice; errors are reported in z order.
func ForEachSlice(depth, threads int, fn func(worker, z int) error) error {
	return run(depth, threads, fn)
}

func run(n, threads int, fn func(worker, i int) error) error {
	threads = Threads(threads)
	if threads > n {
		threads = n
	}
	if n <= 0 {
		return nil
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; i < n; i += threads {
				errs[i] = fn(worker, i)
			}
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

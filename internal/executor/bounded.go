package executor

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rendis/flowplan/pkg/schema"
)

// Job is a zero-argument unit of work producing a T.
type Job[T any] func() T

// PoolMetrics describes one RunBounded invocation.
type PoolMetrics struct {
	Workers    int   `json:"workers"`
	Completed  int64 `json:"completed"`
	Panics     int64 `json:"panics"`
	PeakActive int64 `json:"peak_active"`
}

type queued[T any] struct {
	index int
	job   Job[T]
}

type completed[T any] struct {
	index int
	value T
}

type panicked struct {
	index int
	value any
}

// jobQueue is a FIFO of pending jobs. Workers hold mu only while popping.
type jobQueue[T any] struct {
	mu    sync.Mutex
	items []queued[T]
}

func (q *jobQueue[T]) pop() (queued[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queued[T]{}, false
	}
	next := q.items[0]
	q.items = q.items[1:]
	return next, true
}

// RunBounded runs jobs with at most maxParallel concurrent workers and
// returns their results in submission order.
//
// A fresh pool of min(maxParallel, len(jobs)) goroutines is started per call.
// Jobs are not retried, cancelled or timed out. If any job panics the call
// fails with WORKER_PANICKED and no results are returned.
func RunBounded[T any](maxParallel int, jobs []Job[T]) ([]T, error) {
	out, _, err := RunBoundedWithMetrics(maxParallel, jobs)
	return out, err
}

// RunBoundedWithMetrics is RunBounded that also reports pool metrics.
func RunBoundedWithMetrics[T any](maxParallel int, jobs []Job[T]) ([]T, PoolMetrics, error) {
	if maxParallel < 1 {
		return nil, PoolMetrics{}, schema.NewErrorf(schema.ErrCodeInvalidParallelism,
			"max parallel must be at least 1, got %d", maxParallel).
			WithDetails(map[string]any{"max_parallel": maxParallel})
	}
	if len(jobs) == 0 {
		return []T{}, PoolMetrics{}, nil
	}

	workers := min(maxParallel, len(jobs))
	queue := &jobQueue[T]{items: make([]queued[T], len(jobs))}
	for i, job := range jobs {
		queue.items[i] = queued[T]{index: i, job: job}
	}

	var (
		mu      sync.Mutex
		results = make([]completed[T], 0, len(jobs))
		panics  []panicked
		active  int64
		peak    int64
		wg      sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := queue.pop()
				if !ok {
					return
				}
				value, rec, failed := runJob(item.job, &active, &peak)
				mu.Lock()
				if failed {
					panics = append(panics, panicked{index: item.index, value: rec})
					mu.Unlock()
					// A worker that recovered from a panic stops claiming work.
					return
				}
				results = append(results, completed[T]{index: item.index, value: value})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	metrics := PoolMetrics{
		Workers:    workers,
		Completed:  int64(len(results)),
		Panics:     int64(len(panics)),
		PeakActive: atomic.LoadInt64(&peak),
	}

	if len(panics) > 0 {
		sort.Slice(panics, func(i, j int) bool { return panics[i].index < panics[j].index })
		first := panics[0]
		return nil, metrics, schema.NewErrorf(schema.ErrCodeWorkerPanicked,
			"job %d panicked: %v", first.index, first.value).
			WithDetails(map[string]any{
				"index":  first.index,
				"panic":  fmt.Sprint(first.value),
				"panics": len(panics),
			})
	}
	if len(results) != len(jobs) {
		return nil, metrics, schema.NewErrorf(schema.ErrCodeOutputCountMismatch,
			"collected %d results for %d jobs", len(results), len(jobs)).
			WithDetails(map[string]any{"expected": len(jobs), "collected": len(results)})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })
	out := make([]T, len(results))
	for i, r := range results {
		out[i] = r.value
	}
	return out, metrics, nil
}

// runJob executes one job body, converting a panic into failed=true.
func runJob[T any](job Job[T], active, peak *int64) (value T, rec any, failed bool) {
	n := atomic.AddInt64(active, 1)
	for {
		p := atomic.LoadInt64(peak)
		if n <= p || atomic.CompareAndSwapInt64(peak, p, n) {
			break
		}
	}
	defer func() {
		atomic.AddInt64(active, -1)
		if r := recover(); r != nil {
			rec, failed = r, true
		}
	}()
	return job(), nil, false
}

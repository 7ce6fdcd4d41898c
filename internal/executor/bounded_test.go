package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowplan/pkg/schema"
)

func constJob(v int) Job[int] {
	return func() int { return v }
}

func TestRunBounded_InvalidParallelism(t *testing.T) {
	for _, p := range []int{0, -1} {
		out, err := RunBounded(p, []Job[int]{constJob(1)})
		require.Error(t, err)
		assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidParallelism))
		assert.Nil(t, out)
	}

	// Checked before the job list is looked at.
	_, err := RunBounded[int](0, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidParallelism))
}

func TestRunBounded_Empty(t *testing.T) {
	out, metrics, err := RunBoundedWithMetrics[string](4, nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Equal(t, 0, metrics.Workers)
}

func TestRunBounded_PreservesOrder(t *testing.T) {
	out, err := RunBounded(2, []Job[int]{constJob(10), constJob(20), constJob(30)})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30}, out)
}

func TestRunBounded_OrderWithUnevenDurations(t *testing.T) {
	jobs := make([]Job[int], 20)
	for i := range jobs {
		i := i
		jobs[i] = func() int {
			time.Sleep(time.Duration(20-i) * time.Millisecond / 4)
			return i * i
		}
	}

	out, err := RunBounded(5, jobs)
	require.NoError(t, err)
	for i, v := range out {
		if v != i*i {
			t.Errorf("result %d: expected %d, got %d", i, i*i, v)
		}
	}
}

func TestRunBounded_ConcurrencyLimit(t *testing.T) {
	var current, maxSeen int64
	var mu sync.Mutex

	jobs := make([]Job[struct{}], 8)
	for i := range jobs {
		jobs[i] = func() struct{} {
			c := atomic.AddInt64(&current, 1)
			mu.Lock()
			if c > maxSeen {
				maxSeen = c
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return struct{}{}
		}
	}

	out, metrics, err := RunBoundedWithMetrics(3, jobs)
	require.NoError(t, err)
	assert.Len(t, out, 8)

	if maxSeen > 3 {
		t.Errorf("max concurrent %d exceeded bound 3", maxSeen)
	}
	if maxSeen == 0 {
		t.Error("no job execution detected")
	}
	assert.Equal(t, 3, metrics.Workers)
	assert.Equal(t, int64(8), metrics.Completed)
	assert.LessOrEqual(t, metrics.PeakActive, int64(3))
}

func TestRunBounded_WorkersCappedByJobs(t *testing.T) {
	_, metrics, err := RunBoundedWithMetrics(16, []Job[int]{constJob(1), constJob(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.Workers)
}

func TestRunBounded_SinglePanic(t *testing.T) {
	jobs := []Job[int]{
		constJob(1),
		func() int { panic("boom") },
		constJob(3),
		constJob(4),
	}

	out, metrics, err := RunBoundedWithMetrics(2, jobs)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, int64(1), metrics.Panics)

	var fe *schema.FlowplanError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeWorkerPanicked, fe.Code)
	assert.Equal(t, 1, fe.Details["index"])
	assert.Equal(t, "boom", fe.Details["panic"])
}

func TestRunBounded_AllWorkersPanic(t *testing.T) {
	jobs := []Job[int]{
		func() int { panic("first") },
		func() int { panic("second") },
		constJob(3),
	}

	_, err := RunBounded(2, jobs)
	require.Error(t, err)

	var fe *schema.FlowplanError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeWorkerPanicked, fe.Code)
	assert.Equal(t, 0, fe.Details["index"])
}

func TestRunBounded_PanicWithError(t *testing.T) {
	_, err := RunBounded(1, []Job[int]{func() int { panic(assert.AnError) }})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeWorkerPanicked))
	assert.Contains(t, err.Error(), assert.AnError.Error())
}

func TestRunBounded_EachJobRunsOnce(t *testing.T) {
	var calls [50]int64
	jobs := make([]Job[int], len(calls))
	for i := range jobs {
		i := i
		jobs[i] = func() int {
			atomic.AddInt64(&calls[i], 1)
			return i
		}
	}

	_, err := RunBounded(7, jobs)
	require.NoError(t, err)
	for i := range calls {
		if calls[i] != 1 {
			t.Errorf("job %d ran %d times", i, calls[i])
		}
	}
}

func TestRunBounded_SequentialWithOneWorker(t *testing.T) {
	var order []int
	jobs := make([]Job[int], 5)
	for i := range jobs {
		i := i
		jobs[i] = func() int {
			order = append(order, i)
			return i
		}
	}

	_, err := RunBounded(1, jobs)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

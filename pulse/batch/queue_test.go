package batch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_AscendingOrder(t *testing.T) {
	jobs := []*Job{newJob(4, JobSpec{}, 1), newJob(1, JobSpec{}, 1), newJob(7, JobSpec{}, 1)}
	q := NewQueue(jobs)

	var got []int
	for {
		job, ok := q.TakeNext()
		if !ok {
			break
		}
		got = append(got, job.Index)
	}
	assert.Equal(t, []int{1, 4, 7}, got)
	assert.Equal(t, 0, q.Remaining())
	assert.Equal(t, 3, q.Len())
}

// TestQueue_ConcurrentClaimsAreExclusive checks that concurrent workers
// claim every index exactly once, each in ascending order
func TestQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	const n = 2000
	const workers = 16

	jobs := make([]*Job, n)
	for i := range jobs {
		jobs[i] = newJob(i, JobSpec{}, 1)
	}
	q := NewQueue(jobs)

	claims := make([][]int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				job, ok := q.TakeNext()
				if !ok {
					return
				}
				claims[w] = append(claims[w], job.Index)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[int]int)
	for _, c := range claims {
		for i := 1; i < len(c); i++ {
			require.Less(t, c[i-1], c[i], "each worker sees ascending indices")
		}
		for _, idx := range c {
			seen[idx]++
		}
	}
	require.Len(t, seen, n)
	for idx, count := range seen {
		require.Equal(t, 1, count, "index %d claimed %d times", idx, count)
	}
}

func TestQueue_Empty(t *testing.T) {
	q := NewQueue(nil)
	_, ok := q.TakeNext()
	assert.False(t, ok)
}

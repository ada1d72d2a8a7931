package fetcher

import (
	"context"
	"sync"

	"prct/prct/api"
)

// CompletedFetch pairs a retracted work with its fetch outcome. Error is set
// for invalid identifiers and cancellation only; per-source failures live in
// the result's status map.
type CompletedFetch struct {
	Work   api.RetractedWork
	Result api.FetchResult
	Error  error
}

type completedTask[In any, Out any] struct {
	input  In
	result Out
	err    error
}

func runInPool[In any, Out any](worker func(In) (Out, error), queue chan In, completed chan completedTask[In, Out], maxWorkers int) {
	workers := min(len(queue), maxWorkers)

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for {
					next, ok := <-queue
					if !ok {
						return
					}

					res, err := worker(next)
					completed <- completedTask[In, Out]{input: next, result: res, err: err}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}

// FetchBatch runs citation fetches for a batch of works over a bounded
// worker pool. Results come back in completion order; no cross-fetch
// ordering is guaranteed. Canceling ctx aborts in-flight fetches, which
// report ErrAborted rather than partial results.
func (f *Fetcher) FetchBatch(ctx context.Context, works []api.RetractedWork, maxWorkers int) []CompletedFetch {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	queue := make(chan api.RetractedWork, len(works))
	for _, work := range works {
		queue <- work
	}
	close(queue)

	completed := make(chan completedTask[api.RetractedWork, api.FetchResult], len(works))

	runInPool(func(work api.RetractedWork) (api.FetchResult, error) {
		return f.FetchCitations(ctx, work)
	}, queue, completed, maxWorkers)

	results := make([]CompletedFetch, 0, len(works))
	for task := range completed {
		results = append(results, CompletedFetch{
			Work:   task.input,
			Result: task.result,
			Error:  task.err,
		})
	}

	return results
}

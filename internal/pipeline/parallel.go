package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
)

// ParallelConfig holds configuration for batch processing.
type ParallelConfig struct {
	MaxWorkers       int                           // Number of parallel workers (0 = runtime.NumCPU())
	ProgressCallback ProgressCallback              // Optional progress reporting
	ErrorHandler     func(int, image.Image, error) // Optional per-image error handler
}

// DefaultParallelConfig returns sensible defaults for batch processing.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

type frameJob struct {
	index int
	image image.Image
}

type frameResult struct {
	index  int
	result *Result
	err    error
}

// ProcessBatch processes frames with a worker pool. Results keep input
// order; a failed frame leaves a nil entry and the first error is returned
// alongside the partial results.
func (p *Pipeline) ProcessBatch(ctx context.Context, images []image.Image) ([]*Result, error) {
	if len(images) == 0 {
		return nil, errors.New("no images provided")
	}
	ordered, errs := p.processFrames(ctx, images)
	if err := ctx.Err(); err != nil {
		return ordered, err
	}

	var firstErr error
	for i, err := range errs {
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("image %d: %w", i, err)
		}
		if p.cfg.Parallel.ErrorHandler != nil {
			p.cfg.Parallel.ErrorHandler(i, images[i], err)
		}
	}
	return ordered, firstErr
}

// processFrames runs the pool and reports progress. Both slices are indexed
// like images.
func (p *Pipeline) processFrames(ctx context.Context, images []image.Image) ([]*Result, []error) {
	cfg := p.cfg.Parallel
	ordered := make([]*Result, len(images))
	errs := make([]error, len(images))
	if len(images) == 0 {
		return ordered, errs
	}
	workers := min(max(cfg.MaxWorkers, 1), len(images))

	if cfg.ProgressCallback != nil {
		cfg.ProgressCallback.OnStart(len(images))
		defer cfg.ProgressCallback.OnComplete()
	}

	jobs := make(chan frameJob)
	results := make(chan frameResult, len(images))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				res, err := p.ProcessDetailed(ctx, job.image, "")
				results <- frameResult{index: job.index, result: res, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, img := range images {
			select {
			case jobs <- frameJob{index: i, image: img}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	done := 0
	for r := range results {
		ordered[r.index] = r.result
		errs[r.index] = r.err
		done++
		if cfg.ProgressCallback != nil {
			if r.err != nil {
				cfg.ProgressCallback.OnError(done, r.err)
			}
			cfg.ProgressCallback.OnProgress(done, len(images))
		}
	}
	// Frames never handed to a worker.
	if ctx.Err() != nil {
		for i := range errs {
			if ordered[i] == nil && errs[i] == nil {
				errs[i] = ctx.Err()
			}
		}
	}
	return ordered, errs
}

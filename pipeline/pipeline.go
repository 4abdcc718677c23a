// Package pipeline wires steps together, runs hooks, and handles retries.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
)

// Pipeline executes a sequence of Steps with hook and retry support.
type Pipeline struct {
	steps      []core.Step
	hooks      []core.Hook
	maxRetries int
	retryDelay time.Duration
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.  nil hooks are ignored.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	if h != nil {
		p.hooks = append(p.hooks, h)
	}
	return p
}

// WithRetry sets the maximum retry count and delay for transient failures.
// Wrapper failures are never transient, so only steps that touch storage or
// other external resources are ever retried.
func (p *Pipeline) WithRetry(maxRetries int, delay time.Duration) *Pipeline {
	p.maxRetries = maxRetries
	p.retryDelay = delay
	return p
}

// Len returns the number of steps.
func (p *Pipeline) Len() int { return len(p.steps) }

// Run executes the pipeline on img.  It returns the final ImageData and a map
// of per-step timing observations.  A step name that occurs more than once is
// timed as "name#2", "name#3" and so on.
func (p *Pipeline) Run(ctx context.Context, img *core.ImageData) (*core.ImageData, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	seen := make(map[string]int, len(p.steps))
	current := img

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}

		result, elapsed, err := p.runStep(ctx, step, current)
		seen[step.Name()]++
		key := step.Name()
		if n := seen[key]; n > 1 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
		timings[key] = elapsed
		if err != nil {
			return nil, timings, err
		}
		current = result
	}
	return current, timings, nil
}

// runStep executes a single step, calling hooks and retrying transient errors.
func (p *Pipeline) runStep(ctx context.Context, step core.Step, img *core.ImageData) (*core.ImageData, time.Duration, error) {
	p.callHooksBefore(ctx, step.Name(), img)

	var (
		result  *core.ImageData
		elapsed time.Duration
		err     error
	)

	for attempt := 0; ; attempt++ {
		start := time.Now()
		result, err = step.Execute(ctx, img)
		elapsed = time.Since(start)
		if err == nil && result == nil {
			err = apperrors.New(apperrors.CategoryPipeline, step.Name(),
				fmt.Errorf("step returned no image"))
		}

		if err == nil || !apperrors.IsRetryable(err) || attempt >= p.maxRetries {
			break
		}
		if werr := p.wait(ctx, step.Name()); werr != nil {
			err = werr
			break
		}
	}

	p.callHooksAfter(ctx, step.Name(), result, elapsed, err)
	return result, elapsed, err
}

func (p *Pipeline) wait(ctx context.Context, name string) error {
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.CategoryPipeline, name, ctx.Err())
	case <-t.C:
		return nil
	}
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, img *core.ImageData) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, img)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, img *core.ImageData, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, img, d, err)
	}
}

// Clone returns a shallow copy of the pipeline so templates can be reused
// safely across goroutines.
func (p *Pipeline) Clone() *Pipeline {
	cp := &Pipeline{
		steps:      make([]core.Step, len(p.steps)),
		hooks:      make([]core.Hook, len(p.hooks)),
		maxRetries: p.maxRetries,
		retryDelay: p.retryDelay,
	}
	copy(cp.steps, p.steps)
	copy(cp.hooks, p.hooks)
	return cp
}

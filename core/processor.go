package core

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Skryldev/webpbridge/config"
	apperrors "github.com/Skryldev/webpbridge/errors"
	"github.com/Skryldev/webpbridge/utils"
)

// Processor is the central orchestrator.  It is safe for concurrent use; each
// Process call gets its own ImageWrapper from the factory, so wrappers are
// never shared between goroutines.
type Processor struct {
	cfg        config.Config
	registry   Registry
	newWrapper WrapperFactory
	hooks      []Hook
	logger     Logger
	metrics    MetricsCollector

	// Worker pool.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Processor with the given config.  Call Start() before
// submitting jobs; call Stop() when done.
func New(cfg config.Config, reg Registry, factory WrapperFactory) *Processor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 32 * 1024
	}
	return &Processor{
		cfg:        cfg,
		registry:   reg,
		newWrapper: factory,
		jobQueue:   make(chan Job, queueSize),
		shutdown:   make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l Logger) { p.logger = l }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// AddHook registers a pipeline hook.
func (p *Processor) AddHook(h Hook) { p.hooks = append(p.hooks, h) }

// Registry returns the underlying registry so callers can register
// codecs, decoders and encoders after construction.
func (p *Processor) Registry() Registry { return p.registry }

// NewWrapper returns a fresh, empty wrapper from the processor's factory.
func (p *Processor) NewWrapper() ImageWrapper { return p.newWrapper() }

// Config returns the configuration the processor was built with.
func (p *Processor) Config() config.Config { return p.cfg }

// Start launches the worker pool.  It is idempotent.
func (p *Processor) Start() {
	p.once.Do(func() {
		workerCount := p.workerCount()
		for i := 0; i < workerCount; i++ {
			p.wg.Add(1)
			go p.worker()
		}
		p.debug("worker pool started", "workers", workerCount, "queue", cap(p.jobQueue))
	})
}

// Stop shuts down all workers after their current job.  Jobs still queued
// are dropped.  It is idempotent.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.shutdown)
		p.wg.Wait()
		p.debug("worker pool stopped",
			"processed", p.ProcessedCount(), "errors", p.ErrorCount())
	})
}

func (p *Processor) workerCount() int {
	if p.cfg.WorkerCount > 0 {
		return p.cfg.WorkerCount
	}
	return runtime.NumCPU()
}

// Process is the primary synchronous API.  It reads from src into a fresh
// wrapper-backed ImageData, runs steps, and returns a ProcessingResult.
func (p *Processor) Process(ctx context.Context, src Source, steps ...Step) (*ProcessingResult, error) {
	if len(steps) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "process", apperrors.ErrEmptyInput)
	}

	start := time.Now()
	img, err := p.load(ctx, src)
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, err
	}

	timings := make(map[string]time.Duration, len(steps))
	current, err := p.runSteps(ctx, img, steps, timings)
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		p.warn("processing failed", "name", img.Name, "error", err)
		return nil, err
	}

	atomic.AddInt64(&p.processedCount, 1)
	if p.metrics != nil {
		p.metrics.RecordThroughput(img.OriginalSize)
	}

	total := time.Since(start)
	p.debug("processed", "name", img.Name, "format", img.Format,
		"bytes_in", img.OriginalSize, "bytes_out", len(current.Output), "took", total)
	return &ProcessingResult{
		Primary:        current,
		ProcessingTime: total,
		StepTimings:    timings,
	}, nil
}

// load drains src (respecting the size limit) and sniffs its format.
func (p *Processor) load(ctx context.Context, src Source) (*ImageData, error) {
	if src.Reader == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "process.drain", apperrors.ErrEmptyInput)
	}
	var limitedR = src.Reader
	if p.cfg.MaxImageBytes > 0 {
		limitedR = &utils.LimitedReader{R: src.Reader, Max: p.cfg.MaxImageBytes}
	}

	buf, err := utils.DrainReader(ctx, limitedR, p.cfg.ChunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "process.drain", err)
	}
	rawBytes := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	format := Format(utils.DetectFormat(rawBytes))
	if format == FormatUnknown && src.ContentType != "" {
		format = contentTypeToFormat(src.ContentType)
	}

	return &ImageData{
		Name:         src.Name,
		Input:        rawBytes,
		Format:       format,
		Wrapper:      p.newWrapper(),
		OriginalSize: int64(len(rawBytes)),
	}, nil
}

func (p *Processor) runSteps(ctx context.Context, img *ImageData, steps []Step, timings map[string]time.Duration) (*ImageData, error) {
	current := img
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}
		p.notifyBefore(ctx, step.Name(), current)
		t := time.Now()
		next, stepErr := p.runWithRetry(ctx, step, current)
		elapsed := time.Since(t)
		if timings != nil {
			timings[step.Name()] += elapsed
		}
		p.notifyAfter(ctx, step.Name(), next, elapsed, stepErr)
		if p.metrics != nil {
			p.metrics.RecordProcessingTime(step.Name(), elapsed)
			if stepErr != nil {
				p.metrics.RecordError(step.Name(), string(apperrors.CategoryOf(stepErr)))
			}
		}
		if stepErr != nil {
			return nil, stepErr
		}
		current = next
	}
	return current, nil
}

// Submit enqueues an async job and returns its ID, generating one when
// job.ID is empty.  Returns ErrWorkerPoolFull if the queue is full.
func (p *Processor) Submit(job Job) (string, error) {
	select {
	case <-p.shutdown:
		return "", apperrors.New(apperrors.CategoryPipeline, "submit",
			apperrors.ErrWorkerPoolFull)
	default:
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	select {
	case p.jobQueue <- job:
		return job.ID, nil
	default:
		return "", apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Batch processes multiple sources concurrently (fan-out / fan-in), running
// at most WorkerCount at a time.  results[i] and errs[i] belong to sources[i].
func (p *Processor) Batch(ctx context.Context, sources []Source, steps ...Step) ([]*ProcessingResult, []error) {
	results := make([]*ProcessingResult, len(sources))
	errs := make([]error, len(sources))
	sem := make(chan struct{}, p.workerCount())
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, s Source) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[idx] = apperrors.Wrap(apperrors.CategoryPipeline, "batch", ctx.Err())
				return
			}
			results[idx], errs[idx] = p.Process(ctx, s, steps...)
		}(i, src)
	}
	wg.Wait()
	return results, errs
}

// ProcessVariants runs baseSteps once, then each VariantDefinition in
// parallel.  Every variant gets its own wrapper seeded with a copy of the
// base image's pixels, so variants never observe each other's edits.
func (p *Processor) ProcessVariants(ctx context.Context, src Source, baseSteps []Step, variants []VariantDefinition) (*ProcessingResult, error) {
	base, err := p.Process(ctx, src, baseSteps...)
	if err != nil {
		return nil, err
	}

	// Seeding reads the base wrapper, so it happens before any fan-out.
	seeded := make([]*ImageData, len(variants))
	for i := range variants {
		w, err := p.seedWrapper(base.Primary.Wrapper)
		if err != nil {
			return nil, err
		}
		clone := *base.Primary
		clone.Wrapper = w
		clone.Output = nil
		clone.Name = variants[i].Name
		seeded[i] = &clone
	}

	variantResults := make(map[string]*ImageData, len(variants))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for i, v := range variants {
		wg.Add(1)
		go func(vd VariantDefinition, img *ImageData) {
			defer wg.Done()
			result, stepErr := p.runSteps(ctx, img, vd.Steps, nil)
			mu.Lock()
			defer mu.Unlock()
			if stepErr != nil {
				if firstErr == nil {
					firstErr = stepErr
				}
				return
			}
			variantResults[vd.Name] = result
		}(v, seeded[i])
	}
	wg.Wait()

	if firstErr != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, firstErr
	}
	base.Variants = variantResults
	return base, nil
}

// seedWrapper copies the current image of base into a new wrapper as raw
// pixels, decoding base first if it only holds compressed data.
func (p *Processor) seedWrapper(base ImageWrapper) (ImageWrapper, error) {
	layout, depth := base.Format(), base.BitDepth()
	if layout == LayoutInvalid {
		layout, depth = LayoutRGBA, 8
	}
	pix, err := base.GetRaw(layout, depth)
	if err != nil {
		return nil, err
	}
	w := p.newWrapper()
	if err := w.SetRaw(pix, base.Width(), base.Height(), layout, depth, 0); err != nil {
		return nil, err
	}
	return w, nil
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job := <-p.jobQueue:
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	timeout := p.cfg.JobTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		result *ProcessingResult
		err    error
	)
	if len(job.Options.VariantDefs) > 0 {
		result, err = p.ProcessVariants(ctx, job.Source, job.Steps, job.Options.VariantDefs)
	} else {
		result, err = p.Process(ctx, job.Source, job.Steps...)
	}
	if job.ResultCh != nil {
		job.ResultCh <- JobResult{JobID: job.ID, Result: result, Err: err}
	}
}

func (p *Processor) runWithRetry(ctx context.Context, step Step, img *ImageData) (*ImageData, error) {
	maxRetries := p.cfg.MaxRetries
	delay := p.cfg.RetryDelay

	var (
		result *ImageData
		err    error
	)
	for i := 0; i <= maxRetries; i++ {
		result, err = step.Execute(ctx, img)
		if err == nil || !apperrors.IsRetryable(err) {
			return result, err
		}
		p.debug("retrying step", "step", step.Name(), "attempt", i+1, "error", err)
		if i < maxRetries {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), ctx.Err())
			case <-t.C:
			}
		}
	}
	return result, err
}

func (p *Processor) notifyBefore(ctx context.Context, name string, img *ImageData) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, img)
	}
}

func (p *Processor) notifyAfter(ctx context.Context, name string, img *ImageData, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, img, d, err)
	}
}

func (p *Processor) debug(msg string, fields ...interface{}) {
	if p.logger != nil {
		p.logger.Debug(msg, fields...)
	}
}

func (p *Processor) warn(msg string, fields ...interface{}) {
	if p.logger != nil {
		p.logger.Warn(msg, fields...)
	}
}

// contentTypeToFormat maps MIME types to Format values.
func contentTypeToFormat(ct string) Format {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(strings.ToLower(ct)) {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/webp":
		return FormatWebP
	}
	return FormatUnknown
}

// ProcessedCount returns the total number of successfully processed images.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of processing errors.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }

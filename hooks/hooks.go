// Package hooks provides production-ready Hook and Logger implementations.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
)

// ── Structured logger adapters ────────────────────────────────────────────────

// ZerologLogger adapts a zerolog.Logger to core.Logger.  fields are
// alternating key/value pairs.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a logger backed by zerolog.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger { return &ZerologLogger{log: l} }

func (z *ZerologLogger) Debug(msg string, fields ...interface{}) {
	z.log.Debug().Fields(fields).Msg(msg)
}
func (z *ZerologLogger) Info(msg string, fields ...interface{}) {
	z.log.Info().Fields(fields).Msg(msg)
}
func (z *ZerologLogger) Warn(msg string, fields ...interface{}) {
	z.log.Warn().Fields(fields).Msg(msg)
}
func (z *ZerologLogger) Error(msg string, fields ...interface{}) {
	z.log.Error().Fields(fields).Msg(msg)
}

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger,
// for embedders that already log through slog.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) { s.log.Debug(msg, fields...) }
func (s *SlogLogger) Info(msg string, fields ...interface{})  { s.log.Info(msg, fields...) }
func (s *SlogLogger) Warn(msg string, fields ...interface{})  { s.log.Warn(msg, fields...) }
func (s *SlogLogger) Error(msg string, fields ...interface{}) { s.log.Error(msg, fields...) }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each pipeline step.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeStep(_ context.Context, stepName string, img *core.ImageData) {
	h.logger.Debug("pipeline.step.start",
		"step", stepName,
		"name", img.Name,
		"format", img.Format,
		"width", img.Meta.Width,
		"height", img.Meta.Height,
		"layout", img.Meta.Layout,
	)
}

func (h *LoggingHook) AfterStep(_ context.Context, stepName string, img *core.ImageData, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("pipeline.step.error",
			"step", stepName,
			"category", string(apperrors.CategoryOf(err)),
			"duration_ms", d.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	out := "nil"
	if img != nil {
		out = fmt.Sprintf("%dx%d %s/%d %dB",
			img.Meta.Width, img.Meta.Height, img.Meta.Layout, img.Meta.BitDepth, img.Meta.SizeBytes)
	}
	h.logger.Debug("pipeline.step.done",
		"step", stepName,
		"duration_ms", d.Milliseconds(),
		"output", out,
	)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stepDurationsMs map[string]int64 // cumulative ms per step
	stepCalls       map[string]int64 // call count per step
	stepErrors      map[string]int64
	categoryErrors  map[string]int64

	totalThroughputB int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stepDurationsMs: make(map[string]int64),
		stepCalls:       make(map[string]int64),
		stepErrors:      make(map[string]int64),
		categoryErrors:  make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(stepName string, d interface{ Seconds() float64 }) {
	ms := int64(d.Seconds() * 1000)
	m.mu.Lock()
	m.stepDurationsMs[stepName] += ms
	m.stepCalls[stepName]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordError(stepName string, category string) {
	m.mu.Lock()
	m.stepErrors[stepName]++
	m.categoryErrors[category]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		StepDurationsMs:  copyCounts(m.stepDurationsMs),
		StepCalls:        copyCounts(m.stepCalls),
		StepErrors:       copyCounts(m.stepErrors),
		CategoryErrors:   copyCounts(m.categoryErrors),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StepDurationsMs  map[string]int64 `json:"stepDurationsMs"`
	StepCalls        map[string]int64 `json:"stepCalls"`
	StepErrors       map[string]int64 `json:"stepErrors"`
	CategoryErrors   map[string]int64 `json:"categoryErrors"`
	TotalThroughputB int64            `json:"totalThroughputBytes"`
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds pipeline events into a MetricsCollector.  Use it with a
// standalone pipeline.Pipeline; core.Processor records the same events itself
// once SetMetrics is called.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeStep(_ context.Context, _ string, _ *core.ImageData) {}

func (h *MetricsHook) AfterStep(_ context.Context, stepName string, img *core.ImageData, d time.Duration, err error) {
	h.collector.RecordProcessingTime(stepName, d)
	if err != nil {
		h.collector.RecordError(stepName, string(apperrors.CategoryOf(err)))
		return
	}
	if img != nil && len(img.Output) > 0 {
		h.collector.RecordThroughput(int64(len(img.Output)))
	}
}

var (
	_ core.Logger           = (*ZerologLogger)(nil)
	_ core.Logger           = (*SlogLogger)(nil)
	_ core.Hook             = (*LoggingHook)(nil)
	_ core.Hook             = (*MetricsHook)(nil)
	_ core.MetricsCollector = (*InMemoryMetrics)(nil)
)

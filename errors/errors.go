package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryInput     Category = "input"
	CategoryFormat    Category = "format"
	CategoryDecode    Category = "decode"
	CategoryEncode    Category = "encode"
	CategoryPipeline  Category = "pipeline"
	CategoryStorage   Category = "storage"
	CategoryConfig    Category = "config"
	CategoryTransient Category = "transient"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Fail creates a non-retryable ProcessingError for a failure kind (one of the
// sentinels below).  When cause is non-nil the result matches both kind and
// cause under errors.Is.
func Fail(category Category, op string, kind, cause error) *ProcessingError {
	if cause == nil {
		return New(category, op, kind)
	}
	return New(category, op, fmt.Errorf("%w: %w", kind, cause))
}

// Transient creates a retryable ProcessingError.
func Transient(op string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryTransient, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// CategoryOf returns the category of err, or "" when err is not a
// ProcessingError.
func CategoryOf(err error) Category {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// Wrapper failure kinds.
var (
	ErrInvalidSignature  = errors.New("invalid webp signature")
	ErrProbeFailed       = errors.New("probe failed")
	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrBufferTooSmall    = errors.New("buffer too small")
	ErrNoSourceData      = errors.New("no compressed source data")
	ErrUnsupportedTarget = errors.New("unsupported decode target")
	ErrDecodeFailed      = errors.New("decode failed")
	ErrFormatMismatch    = errors.New("raw format mismatch")
	ErrNoRawData         = errors.New("no raw data")
	ErrUnsupportedSource = errors.New("unsupported encode source")
	ErrEncodeFailed      = errors.New("encode failed")
)

// Sentinel errors for common pipeline failure modes.
var (
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrEmptyInput         = errors.New("empty input")
	ErrWorkerPoolFull     = errors.New("worker pool queue full")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUnknownCodec       = errors.New("unknown codec")
)

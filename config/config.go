package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Codec names accepted by Config.Codec.
const (
	CodecLibWebP = "libwebp"
	CodecNative  = "native"
	CodecWASM    = "wasm"
	CodecVips    = "vips"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Worker pool controls.
	WorkerCount int           `yaml:"workerCount" validate:"gte=0"` // default: runtime.NumCPU()
	QueueSize   int           `yaml:"queueSize"   validate:"gte=1"` // max queued jobs before backpressure
	JobTimeout  time.Duration `yaml:"jobTimeout"  validate:"gte=0"`

	// Retry.
	MaxRetries int           `yaml:"maxRetries" validate:"gte=0,lte=10"`
	RetryDelay time.Duration `yaml:"retryDelay" validate:"gte=0"`

	// Default encode options applied when a pipeline step does not override.
	DefaultQuality int    `yaml:"defaultQuality" validate:"gte=1,lte=100"`
	DefaultFormat  string `yaml:"defaultFormat"  validate:"omitempty,oneof=webp png jpeg"`

	// Codec selects the WebP backend the wrappers delegate to.
	Codec string `yaml:"codec" validate:"oneof=libwebp native wasm vips"`

	// Streaming / memory limits.
	MaxImageBytes int64 `yaml:"maxImageBytes" validate:"gte=0"` // 0 = no limit
	ChunkSize     int   `yaml:"chunkSize"     validate:"gt=0"`  // streaming chunk size in bytes

	// Storage.
	Local LocalConfig `yaml:"local"`

	// Adaptive compression.
	AdaptiveCompression AdaptiveConfig `yaml:"adaptiveCompression"`

	// libvips backend, used when Codec is "vips".
	Vips VipsConfig `yaml:"vips"`

	// HTTP server for `webpbridge serve`.
	Server ServerConfig `yaml:"server"`

	// Logging.
	LogLevel string `yaml:"logLevel" validate:"oneof=debug info warn error"`
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string `yaml:"rootDir"`
	Permissions uint32 `yaml:"permissions" validate:"lte=511"` // default 0644
}

// AdaptiveConfig controls the adaptive compression algorithm.
type AdaptiveConfig struct {
	Enabled         bool  `yaml:"enabled"`
	TargetSizeBytes int64 `yaml:"targetSizeBytes" validate:"gte=0"` // desired maximum output size
	MinQuality      int   `yaml:"minQuality"      validate:"gte=1,lte=100"`
	MaxQuality      int   `yaml:"maxQuality"      validate:"gte=1,lte=100"`
	StepSize        int   `yaml:"stepSize"        validate:"gte=1,lte=50"`
}

// VipsConfig configures the libvips codec.
type VipsConfig struct {
	MaxCacheSize    int  `yaml:"maxCacheSize"    validate:"gte=0"`
	MaxWorkers      int  `yaml:"maxWorkers"      validate:"gte=0"`
	ReportLeaks     bool `yaml:"reportLeaks"`
	Lossless        bool `yaml:"lossless"`
	ReductionEffort int  `yaml:"reductionEffort" validate:"gte=0,lte=6"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"            validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gte=0"`
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount:    0, // resolved at runtime to NumCPU
		QueueSize:      256,
		JobTimeout:     30 * time.Second,
		MaxRetries:     3,
		RetryDelay:     200 * time.Millisecond,
		DefaultQuality: 85,
		DefaultFormat:  "webp",
		Codec:          CodecLibWebP,
		MaxImageBytes:  64 << 20,
		ChunkSize:      32 * 1024,
		Local: LocalConfig{
			RootDir:     "data",
			Permissions: 0o644,
		},
		AdaptiveCompression: AdaptiveConfig{
			MinQuality: 30,
			MaxQuality: 95,
			StepSize:   5,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		LogLevel: "info",
	}
}

var validate = validator.New()

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("config: %s fails %q (value %v)", f.Namespace(), f.Tag(), f.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.AdaptiveCompression.Enabled {
		if c.AdaptiveCompression.MinQuality >= c.AdaptiveCompression.MaxQuality {
			return errors.New("config: AdaptiveCompression.MinQuality must be less than MaxQuality")
		}
		if c.AdaptiveCompression.TargetSizeBytes <= 0 {
			return errors.New("config: AdaptiveCompression.TargetSizeBytes must be positive when enabled")
		}
	}
	return nil
}

// Load reads a YAML file over Default() and validates the result.  Unknown
// keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

package core

import (
	"sort"
	"sync"
)

// ── Registry ──────────────────────────────────────────────────────────────────

// DefaultRegistry is a thread-safe implementation of Registry.
type DefaultRegistry struct {
	mu       sync.RWMutex
	codecs   map[string]Codec
	decoders map[Format]Decoder
	encoders map[Format]Encoder
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		codecs:   make(map[string]Codec),
		decoders: make(map[Format]Decoder),
		encoders: make(map[Format]Encoder),
	}
}

func (r *DefaultRegistry) RegisterCodec(c Codec) {
	r.mu.Lock()
	r.codecs[c.Name()] = c
	r.mu.Unlock()
}

func (r *DefaultRegistry) RegisterDecoder(f Format, d Decoder) {
	r.mu.Lock()
	r.decoders[f] = d
	r.mu.Unlock()
}

func (r *DefaultRegistry) RegisterEncoder(f Format, e Encoder) {
	r.mu.Lock()
	r.encoders[f] = e
	r.mu.Unlock()
}

func (r *DefaultRegistry) CodecFor(name string) (Codec, bool) {
	r.mu.RLock()
	c, ok := r.codecs[name]
	r.mu.RUnlock()
	return c, ok
}

func (r *DefaultRegistry) DecoderFor(f Format) (Decoder, bool) {
	r.mu.RLock()
	d, ok := r.decoders[f]
	r.mu.RUnlock()
	return d, ok
}

func (r *DefaultRegistry) EncoderFor(f Format) (Encoder, bool) {
	r.mu.RLock()
	e, ok := r.encoders[f]
	r.mu.RUnlock()
	return e, ok
}

// Codecs returns the registered codec names in sorted order.
func (r *DefaultRegistry) Codecs() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

//go:build vips

package webpbridge

import (
	"github.com/Skryldev/webpbridge/adapters/vips"
	"github.com/Skryldev/webpbridge/config"
	"github.com/Skryldev/webpbridge/core"
)

func init() {
	startVips = func(cfg config.VipsConfig, reg core.Registry) func() {
		backend := vips.NewBackend(vips.BackendConfig{
			MaxCacheSize:    cfg.MaxCacheSize,
			MaxWorkers:      cfg.MaxWorkers,
			ReportLeaks:     cfg.ReportLeaks,
			Lossless:        cfg.Lossless,
			ReductionEffort: cfg.ReductionEffort,
		})
		// Replaces the stdlib JPEG/PNG decoders with libvips ones.
		vips.RegisterVipsBackend(reg, backend)
		return backend.Shutdown
	}
}

// VipsThumbnail returns a step that builds a square WebP thumbnail straight
// from the input bytes with libvips.
func VipsThumbnail(size, quality int) core.Step {
	return &vips.VipsThumbnailStep{Size: size, Quality: quality}
}

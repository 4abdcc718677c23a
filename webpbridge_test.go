package webpbridge_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/webpbridge"
	"github.com/Skryldev/webpbridge/config"
	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
	"github.com/Skryldev/webpbridge/hooks"
	"github.com/Skryldev/webpbridge/utils"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func newRedJPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solidImage(w, h, color.RGBA{R: 200, G: 50, B: 50, A: 255}),
		&jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newBluePNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(w, h, color.RGBA{R: 50, G: 50, B: 200, A: 255})); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func newProcWith(t *testing.T, mutate func(*config.Config)) *webpbridge.Processor {
	t.Helper()
	cfg := webpbridge.DefaultConfig()
	cfg.WorkerCount = 2
	cfg.QueueSize = 16
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := webpbridge.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func newProc(t *testing.T) *webpbridge.Processor { return newProcWith(t, nil) }

// newWebP converts a PNG to WebP through the processor itself.
func newWebP(t *testing.T, proc *webpbridge.Processor, w, h int) []byte {
	t.Helper()
	res, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(newBluePNG(t, w, h))),
		proc.Encode(),
	)
	if err != nil {
		t.Fatalf("make webp: %v", err)
	}
	return res.Primary.Output
}

// ── Unit tests ────────────────────────────────────────────────────────────────

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := webpbridge.DefaultConfig()
	cfg.DefaultQuality = 0
	_, err := webpbridge.New(cfg)
	if !apperrors.IsCategory(err, apperrors.CategoryConfig) {
		t.Fatalf("want config error, got %v", err)
	}
}

func TestNew_EveryPureCodec(t *testing.T) {
	for _, name := range []string{config.CodecLibWebP, config.CodecNative, config.CodecWASM} {
		t.Run(name, func(t *testing.T) {
			proc := newProcWith(t, func(c *config.Config) { c.Codec = name })
			if got := proc.Codec().Name(); got != name {
				t.Fatalf("codec: got %s, want %s", got, name)
			}
			data := newWebP(t, proc, 8, 6)
			if !utils.IsWebP(data) {
				t.Fatalf("output is not a WebP container")
			}
			info, err := proc.Probe(data)
			if err != nil {
				t.Fatalf("Probe: %v", err)
			}
			if info.Width != 8 || info.Height != 6 {
				t.Errorf("probe: got %dx%d, want 8x6", info.Width, info.Height)
			}
		})
	}
}

func TestProcess_JPEG_Resize_ToWebP(t *testing.T) {
	proc := newProc(t)
	raw := newRedJPEG(t, 800, 600)

	result, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(raw)),
		webpbridge.Resize(400, 0),
		webpbridge.EncodeWith(proc.Registry(), core.EncodeOptions{Quality: 80}),
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := result.Primary
	// Aspect ratio: 800x600 → 400x300
	if got.Meta.Width != 400 || got.Meta.Height != 300 {
		t.Errorf("dimensions: got %dx%d, want 400x300", got.Meta.Width, got.Meta.Height)
	}
	if got.Meta.Format != core.FormatJPEG {
		t.Errorf("input format: got %s, want jpeg", got.Meta.Format)
	}
	if got.OutputFormat != webpbridge.WebP || !utils.IsWebP(got.Output) {
		t.Errorf("output is not WebP (%s, %d bytes)", got.OutputFormat, len(got.Output))
	}
}

func TestProcess_WebPInput_StaysCompressedUntilNeeded(t *testing.T) {
	proc := newProc(t)
	data := newWebP(t, proc, 40, 20)

	result, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	w := result.Primary.Wrapper
	if w.Width() != 40 || w.Height() != 20 {
		t.Errorf("probed dimensions: got %dx%d, want 40x20", w.Width(), w.Height())
	}
	if w.Format() != core.LayoutInvalid {
		t.Errorf("wrapper decoded eagerly: layout %s", w.Format())
	}

	pix, err := w.GetRaw(core.LayoutBGRA, 8)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if len(pix) != 40*20*4 {
		t.Errorf("raw size: got %d, want %d", len(pix), 40*20*4)
	}
}

func TestProcess_WebP_Thumbnail_ToPNG(t *testing.T) {
	proc := newProc(t)
	data := newWebP(t, proc, 120, 60)

	result, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(data)),
		webpbridge.Thumbnail(30),
		webpbridge.ConvertFormat(webpbridge.PNG),
		proc.Encode(),
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	m, err := png.Decode(bytes.NewReader(result.Primary.Output))
	if err != nil {
		t.Fatalf("output is not PNG: %v", err)
	}
	if b := m.Bounds(); b.Dx() != 30 || b.Dy() != 30 {
		t.Errorf("thumbnail dimensions: %dx%d, want 30x30", b.Dx(), b.Dy())
	}
}

func TestProcess_FormatConversion_PNG_to_JPEG(t *testing.T) {
	proc := newProc(t)

	result, err := proc.Process(context.Background(),
		webpbridge.FromReaderWithMeta(bytes.NewReader(newBluePNG(t, 64, 64)), -1, "image/png", "blue.png"),
		webpbridge.ConvertFormat(webpbridge.JPEG),
		webpbridge.Quality(70),
		proc.Encode(),
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(result.Primary.Output)); err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}
	if result.Primary.Name != "blue.png" {
		t.Errorf("name: got %q", result.Primary.Name)
	}
}

func TestProcess_Grayscale(t *testing.T) {
	proc := newProc(t)
	raw := newRedJPEG(t, 50, 50)

	result, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(raw)),
		webpbridge.Grayscale(),
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	pix, err := result.Primary.Wrapper.GetRaw(core.LayoutRGBA, 8)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	for i := 0; i < len(pix); i += 4 {
		if pix[i] != pix[i+1] || pix[i+1] != pix[i+2] {
			t.Fatalf("pixel %d not gray: %v", i/4, pix[i:i+4])
		}
	}
}

func TestProcess_DecodeAs(t *testing.T) {
	proc := newProc(t)
	webp := newWebP(t, proc, 6, 4)

	result, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(webp)),
		webpbridge.DecodeAs(core.LayoutBGRA),
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := result.Primary.Meta.Layout; got != core.LayoutBGRA {
		t.Errorf("layout = %s, want bgra", got)
	}
	pix, err := result.Primary.Wrapper.GetRaw(core.LayoutBGRA, 8)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if len(pix) != 6*4*4 {
		t.Errorf("len = %d, want %d", len(pix), 6*4*4)
	}
}

func TestProcess_CropWatermark(t *testing.T) {
	proc := newProc(t)
	webp := newWebP(t, proc, 20, 10)
	mark := solidImage(2, 2, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	result, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(webp)),
		webpbridge.Crop(5, 0, 10, 10),
		webpbridge.Watermark(mark, 0, 0),
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	img := result.Primary
	if img.Meta.Width != 10 || img.Meta.Height != 10 {
		t.Errorf("size = %dx%d, want 10x10", img.Meta.Width, img.Meta.Height)
	}
	pix, err := img.Wrapper.GetRaw(core.LayoutRGBA, 8)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if !bytes.Equal(pix[:4], []byte{255, 255, 255, 255}) {
		t.Errorf("watermark pixel = %v, want white", pix[:4])
	}
	if b := pix[len(pix)-2]; b < 150 {
		t.Errorf("unmarked pixel blue = %d, want the source blue", b)
	}
}

func TestProcess_CorruptWebP(t *testing.T) {
	proc := newProc(t)
	corrupt := append([]byte("RIFF\x20\x00\x00\x00WEBP"), bytes.Repeat([]byte{0xAB}, 32)...)

	_, err := proc.Process(context.Background(), webpbridge.FromReader(bytes.NewReader(corrupt)))
	if !errors.Is(err, apperrors.ErrProbeFailed) {
		t.Fatalf("want ErrProbeFailed, got %v", err)
	}
	if _, errs := proc.Stats(); errs != 1 {
		t.Errorf("error count: got %d, want 1", errs)
	}
}

func TestProcess_ContextCancel(t *testing.T) {
	proc := newProc(t)
	raw := newRedJPEG(t, 100, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := proc.Process(ctx, webpbridge.FromReader(bytes.NewReader(raw)), webpbridge.Decode())
	if err == nil {
		t.Error("expected context cancellation error, got nil")
	}
}

func TestProbe_RejectsNonWebP(t *testing.T) {
	proc := newProc(t)
	_, err := proc.Probe(newBluePNG(t, 4, 4))
	if !errors.Is(err, apperrors.ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}
}

func TestProbe_ReportsAlpha(t *testing.T) {
	// The native encoder writes lossless VP8L, which always carries alpha.
	proc := newProcWith(t, func(c *config.Config) { c.Codec = config.CodecNative })
	info, err := proc.Probe(newWebP(t, proc, 6, 4))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Width != 6 || info.Height != 4 {
		t.Errorf("probe: got %dx%d, want 6x4", info.Width, info.Height)
	}
	if !info.HasAlpha {
		t.Error("HasAlpha: got false for a VP8L image")
	}
}

func TestEncode_DefaultFormatFromConfig(t *testing.T) {
	proc := newProcWith(t, func(c *config.Config) { c.DefaultFormat = "png" })

	result, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(newRedJPEG(t, 8, 8))),
		proc.Encode(),
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Primary.OutputFormat != core.FormatPNG {
		t.Errorf("format: got %s, want png", result.Primary.OutputFormat)
	}
	if !bytes.HasPrefix(result.Primary.Output, []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}

	// An explicit conversion still wins over the configured default.
	result, err = proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(newRedJPEG(t, 8, 8))),
		webpbridge.ConvertFormat(webpbridge.WebP),
		proc.Encode(),
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !utils.IsWebP(result.Primary.Output) {
		t.Error("explicit WebP conversion ignored")
	}
}

func TestEncode_AdaptiveFromConfig(t *testing.T) {
	proc := newProcWith(t, func(c *config.Config) {
		c.AdaptiveCompression.Enabled = true
		c.AdaptiveCompression.TargetSizeBytes = 1 // unreachable: walks down to MinQuality
		c.AdaptiveCompression.MinQuality = 40
		c.AdaptiveCompression.MaxQuality = 60
		c.AdaptiveCompression.StepSize = 10
	})

	result, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(newRedJPEG(t, 64, 64))),
		proc.Encode(),
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Primary.Quality != 40 {
		t.Errorf("quality: got %d, want 40", result.Primary.Quality)
	}
	if !utils.IsWebP(result.Primary.Output) {
		t.Error("adaptive output is not WebP")
	}
}

func TestStandalonePipeline(t *testing.T) {
	proc := newProc(t)
	img := proc.NewImage("blue.png", newBluePNG(t, 20, 10))

	out, timings, err := proc.NewPipeline(proc.Load(), webpbridge.Crop(5, 0, 10, 10), proc.Encode()).
		Run(context.Background(), img)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Meta.Width != 10 || out.Meta.Height != 10 {
		t.Errorf("crop: got %dx%d", out.Meta.Width, out.Meta.Height)
	}
	if _, ok := timings["crop"]; !ok {
		t.Error("crop step not timed")
	}
}

// ── Concurrency tests ─────────────────────────────────────────────────────────

func TestProcess_ConcurrentSafety(t *testing.T) {
	proc := newProc(t)
	raw := newRedJPEG(t, 200, 200)

	const goroutines = 16
	var wg sync.WaitGroup
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = proc.Process(context.Background(),
				webpbridge.FromReader(bytes.NewReader(raw)),
				webpbridge.Resize(100, 0),
				webpbridge.EncodeWith(proc.Registry(), core.EncodeOptions{Quality: 80}),
			)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
}

func TestBatch(t *testing.T) {
	proc := newProc(t)
	raw := newRedJPEG(t, 100, 100)

	sources := make([]core.Source, 5)
	for i := range sources {
		sources[i] = webpbridge.FromReader(bytes.NewReader(raw))
	}

	results, errs := proc.Batch(context.Background(), sources, webpbridge.Resize(50, 50))
	for i, err := range errs {
		if err != nil {
			t.Errorf("batch[%d]: %v", i, err)
			continue
		}
		if results[i].Primary.Meta.Width != 50 {
			t.Errorf("batch[%d]: width %d", i, results[i].Primary.Meta.Width)
		}
	}
}

func TestProcessVariants(t *testing.T) {
	proc := newProc(t)
	data := newWebP(t, proc, 64, 32)

	result, err := proc.ProcessVariants(context.Background(),
		webpbridge.FromReader(bytes.NewReader(data)),
		[]core.Step{webpbridge.Decode()},
		[]core.VariantDefinition{
			{Name: "thumb", Steps: []core.Step{webpbridge.Thumbnail(16), proc.Encode()}},
			{Name: "half", Steps: []core.Step{webpbridge.Resize(32, 0), proc.Encode()}},
		})
	if err != nil {
		t.Fatalf("ProcessVariants: %v", err)
	}
	if w := result.Primary.Wrapper.Width(); w != 64 {
		t.Errorf("primary width changed to %d", w)
	}
	thumb, half := result.Variants["thumb"], result.Variants["half"]
	if thumb == nil || half == nil {
		t.Fatalf("missing variants: %v", result.Variants)
	}
	if thumb.Meta.Width != 16 || thumb.Meta.Height != 16 {
		t.Errorf("thumb: %dx%d", thumb.Meta.Width, thumb.Meta.Height)
	}
	if half.Meta.Width != 32 || half.Meta.Height != 16 {
		t.Errorf("half: %dx%d", half.Meta.Width, half.Meta.Height)
	}
}

func TestWorkerPool_Async(t *testing.T) {
	proc := newProc(t)
	raw := newRedJPEG(t, 100, 100)

	resultCh := make(chan core.JobResult, 1)
	id, err := proc.Submit(core.Job{
		Source:   webpbridge.FromReader(bytes.NewReader(raw)),
		Steps:    []core.Step{webpbridge.Resize(50, 0)},
		ResultCh: resultCh,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("async job error: %v", res.Err)
		}
		if res.JobID != id {
			t.Errorf("job id: got %q, want %q", res.JobID, id)
		}
		if res.Result.Primary.Meta.Width != 50 {
			t.Errorf("async width: got %d, want 50", res.Result.Primary.Meta.Width)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async job timed out")
	}
}

// ── Hooks / Metrics test ─────────────────────────────────────────────────────

func TestMetricsHook(t *testing.T) {
	m := hooks.NewInMemoryMetrics()
	proc := newProc(t)
	proc.AddHook(hooks.NewMetricsHook(m))

	_, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(newRedJPEG(t, 100, 100))),
		webpbridge.Resize(50, 0),
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	snap := m.Snapshot()
	for _, step := range []string{"load", "resize"} {
		if snap.StepCalls[step] == 0 {
			t.Errorf("%s step was not recorded in metrics", step)
		}
	}
}

// ── Custom step test ──────────────────────────────────────────────────────────

// brightenStep is a custom pipeline step working directly on wrapper pixels.
type brightenStep struct{ delta uint8 }

func (b *brightenStep) Name() string { return "brighten" }
func (b *brightenStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	w := img.Wrapper
	pix, err := w.GetRaw(core.LayoutRGBA, 8)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(pix); i += 4 {
		pix[i] = clampAdd(pix[i], b.delta)
		pix[i+1] = clampAdd(pix[i+1], b.delta)
		pix[i+2] = clampAdd(pix[i+2], b.delta)
	}
	if err := w.SetRaw(pix, w.Width(), w.Height(), core.LayoutRGBA, 8, 0); err != nil {
		return nil, err
	}
	out := *img
	return &out, nil
}

func clampAdd(a, b uint8) uint8 {
	if int(a)+int(b) > 255 {
		return 255
	}
	return a + b
}

func TestCustomStep(t *testing.T) {
	proc := newProc(t)
	raw := newBluePNG(t, 50, 50)

	result, err := proc.Process(context.Background(),
		webpbridge.FromReader(bytes.NewReader(raw)),
		&brightenStep{delta: 10},
	)
	if err != nil {
		t.Fatalf("Process with custom step: %v", err)
	}
	pix, err := result.Primary.Wrapper.GetRaw(core.LayoutRGBA, 8)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if pix[0] != 60 || pix[2] != 210 {
		t.Errorf("brightened pixel: got %v", pix[:4])
	}
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func newBenchProc(b *testing.B) *webpbridge.Processor {
	b.Helper()
	proc, err := webpbridge.New(webpbridge.DefaultConfig())
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	proc.Start()
	b.Cleanup(proc.Stop)
	return proc
}

func BenchmarkProcess_Resize_JPEG_ToWebP(b *testing.B) {
	proc := newBenchProc(b)
	raw := newRedJPEG(b, 1920, 1080)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := proc.Process(context.Background(),
			webpbridge.FromReader(bytes.NewReader(raw)),
			webpbridge.Resize(960, 0),
			webpbridge.EncodeWith(proc.Registry(), core.EncodeOptions{Quality: 85}),
		)
		if err != nil {
			b.Fatalf("Process: %v", err)
		}
	}
}

func BenchmarkBatch_Parallel(b *testing.B) {
	proc := newBenchProc(b)
	raw := newRedJPEG(b, 800, 600)

	const batchSize = 10
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sources := make([]core.Source, batchSize)
		for j := range sources {
			sources[j] = webpbridge.FromReader(bytes.NewReader(raw))
		}
		proc.Batch(context.Background(), sources, webpbridge.Resize(400, 0))
	}
}

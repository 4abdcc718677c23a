package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Skryldev/webpbridge"
	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
	"github.com/Skryldev/webpbridge/hooks"
	"github.com/Skryldev/webpbridge/wrapper"
)

// commonFlags registers the flags every command shares.
func commonFlags(fs *flag.FlagSet) (cfgPath, codec *string) {
	cfgPath = fs.String("config", "", "YAML configuration file")
	codec = fs.String("codec", "", "WebP backend: libwebp, native, wasm or vips")
	return cfgPath, codec
}

func newProcessor(cfgPath, codec string) (*webpbridge.Processor, error) {
	cfg, err := loadConfig(cfgPath, codec)
	if err != nil {
		return nil, err
	}
	proc, err := webpbridge.New(cfg)
	if err != nil {
		return nil, err
	}
	proc.SetLogger(hooks.NewZerologLogger(log.Logger))
	return proc, nil
}

// ── info ───────────────────────────────────────────────────────────────────────

func runInfo(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	cfgPath, codec := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("info: expected exactly one input file")
	}

	data, err := readInput(fs.Arg(0))
	if err != nil {
		return err
	}
	proc, err := newProcessor(*cfgPath, *codec)
	if err != nil {
		return err
	}
	defer proc.Stop()

	info, err := proc.Probe(data)
	if err != nil {
		return err
	}
	w := proc.NewWrapper()
	fmt.Fprintf(stdout, "File:       %s\n", fs.Arg(0))
	fmt.Fprintf(stdout, "Codec:      %s\n", proc.Codec().Name())
	fmt.Fprintf(stdout, "Size:       %d bytes\n", len(data))
	fmt.Fprintf(stdout, "Dimensions: %dx%d\n", info.Width, info.Height)
	fmt.Fprintf(stdout, "Alpha:      %v\n", info.HasAlpha)
	fmt.Fprintf(stdout, "Raw format: %s\n", w.SupportedRawFormat(core.RawBGRA8))
	return nil
}

// ── decode ─────────────────────────────────────────────────────────────────────

func runDecode(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	cfgPath, codec := commonFlags(fs)
	output := fs.String("o", "", "output file (.png or .jpg); raw bytes with -raw")
	raw := fs.Bool("raw", false, "write unpacked pixels instead of an image file")
	layout := fs.String("layout", "bgra", "raw channel order: rgba or bgra")
	mips := fs.Int("mips", 0, "also build N mip levels and print the mip table")
	quality := fs.Int("q", 0, "JPEG quality (0 = configured default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("decode: expected exactly one input file")
	}
	if *output == "" && *mips == 0 {
		return errors.New("decode: -o is required")
	}

	data, err := readInput(fs.Arg(0))
	if err != nil {
		return err
	}
	proc, err := newProcessor(*cfgPath, *codec)
	if err != nil {
		return err
	}
	defer proc.Stop()

	if *mips > 0 {
		if err := printMips(proc, data, *mips, stdout); err != nil {
			return err
		}
		if *output == "" {
			return nil
		}
	}

	if *raw {
		l := core.ParseLayout(*layout)
		if l != core.LayoutRGBA && l != core.LayoutBGRA {
			return fmt.Errorf("decode: unsupported layout %q", *layout)
		}
		w := proc.NewWrapper()
		if err := w.SetCompressed(data); err != nil {
			return err
		}
		pix, err := w.GetRaw(l, 8)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*output, pix, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s: %dx%d %s/8, %d bytes\n", *output, w.Width(), w.Height(), l, len(pix))
		return nil
	}

	target := formatFromPath(*output)
	if target != core.FormatPNG && target != core.FormatJPEG {
		return fmt.Errorf("decode: cannot infer PNG or JPEG from %q", *output)
	}
	steps := []core.Step{webpbridge.ConvertFormat(target)}
	if *quality > 0 {
		steps = append(steps, webpbridge.Quality(*quality))
	}
	steps = append(steps, proc.Encode())

	res, err := proc.Process(context.Background(),
		webpbridge.FromReaderWithMeta(bytes.NewReader(data), int64(len(data)), core.FormatWebP.ContentType(), fs.Arg(0)),
		steps...)
	if err != nil {
		return err
	}
	return writeResult(*output, res.Primary, stdout)
}

func printMips(proc *webpbridge.Processor, data []byte, levels int, stdout io.Writer) error {
	w := proc.NewWrapper()
	if err := w.SetCompressed(data); err != nil {
		return err
	}
	img, err := w.GetRawImage(core.LayoutBGRA, 8)
	if err != nil {
		return err
	}
	if err := wrapper.GenerateMips(img, levels); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%-5s %-11s %10s %10s\n", "MIP", "SIZE", "OFFSET", "BYTES")
	for i, m := range img.SubImages {
		fmt.Fprintf(stdout, "%-5d %-11s %10d %10d\n", i, fmt.Sprintf("%dx%d", m.Width, m.Height), m.Offset, m.Size)
	}
	return nil
}

// ── encode ─────────────────────────────────────────────────────────────────────

func runEncode(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	cfgPath, codec := commonFlags(fs)
	output := fs.String("o", "", "output .webp file (default: input name with .webp)")
	quality := fs.Int("q", 0, "quality 1-100 (0 = configured default)")
	width := fs.Int("width", 0, "resize to width (0 keeps aspect ratio)")
	height := fs.Int("height", 0, "resize to height (0 keeps aspect ratio)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("encode: expected exactly one input file")
	}
	if *quality < 0 || *quality > 100 {
		return fmt.Errorf("encode: quality %d out of range", *quality)
	}

	in := fs.Arg(0)
	out := *output
	if out == "" {
		if in == "-" {
			return errors.New("encode: -o is required when reading stdin")
		}
		out = replaceExt(in, core.FormatWebP.Extension())
	}

	data, err := readInput(in)
	if err != nil {
		return err
	}
	proc, err := newProcessor(*cfgPath, *codec)
	if err != nil {
		return err
	}
	defer proc.Stop()

	res, err := proc.Process(context.Background(),
		webpbridge.FromReaderWithMeta(bytes.NewReader(data), int64(len(data)), "", in),
		encodeSteps(proc, core.FormatWebP, *quality, *width, *height)...)
	if err != nil {
		return err
	}
	return writeResult(out, res.Primary, stdout)
}

func encodeSteps(proc *webpbridge.Processor, target core.Format, quality, width, height int) []core.Step {
	var steps []core.Step
	if width > 0 || height > 0 {
		steps = append(steps, webpbridge.Resize(width, height))
	}
	steps = append(steps, webpbridge.ConvertFormat(target))
	if quality > 0 {
		steps = append(steps, webpbridge.Quality(quality))
	}
	return append(steps, proc.Encode())
}

// ── batch ──────────────────────────────────────────────────────────────────────

func runBatch(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	cfgPath, codec := commonFlags(fs)
	outDir := fs.String("outdir", ".", "directory for converted files")
	to := fs.String("to", "webp", "output format: webp, png or jpeg")
	quality := fs.Int("q", 0, "quality 1-100 (0 = configured default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("batch: no input files")
	}
	target := core.ParseFormat(strings.ToLower(*to))
	if target == core.FormatUnknown {
		return fmt.Errorf("batch: unknown format %q", *to)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	proc, err := newProcessor(*cfgPath, *codec)
	if err != nil {
		return err
	}
	proc.Start()
	defer proc.Stop()

	steps := encodeSteps(proc, target, *quality, 0, 0)
	// Never more jobs in flight than the queue holds, so Submit only fails
	// on shutdown and workers never block on results.
	limit := max(1, proc.Inner().Config().QueueSize)
	results := make(chan core.JobResult, limit)
	pending := make(map[string]string, limit)
	ctx := context.Background()

	var failed int
	collect := func() {
		r := <-results
		in := pending[r.JobID]
		delete(pending, r.JobID)
		if r.Err != nil {
			log.Error().Err(r.Err).Str("file", in).Msg("batch: conversion failed")
			failed++
			return
		}
		out := filepath.Join(*outDir, replaceExt(filepath.Base(in), target.Extension()))
		if err := writeResult(out, r.Result.Primary, stdout); err != nil {
			log.Error().Err(err).Str("file", in).Msg("batch: write failed")
			failed++
		}
	}

	for _, in := range fs.Args() {
		for len(pending) >= limit {
			collect()
		}
		data, err := os.ReadFile(in)
		if err != nil {
			log.Error().Err(err).Str("file", in).Msg("batch: read failed")
			failed++
			continue
		}
		job := core.Job{
			Ctx:      ctx,
			Source:   webpbridge.FromReaderWithMeta(bytes.NewReader(data), int64(len(data)), "", in),
			Steps:    steps,
			ResultCh: results,
		}
		id, err := proc.Submit(job)
		for errors.Is(err, apperrors.ErrWorkerPoolFull) && len(pending) > 0 {
			collect()
			id, err = proc.Submit(job)
		}
		if err != nil {
			log.Error().Err(err).Str("file", in).Msg("batch: submit failed")
			failed++
			continue
		}
		pending[id] = in
	}
	for len(pending) > 0 {
		collect()
	}

	processed, errs := proc.Stats()
	log.Info().Int64("processed", processed).Int64("errors", errs).Msg("batch done")
	if failed > 0 {
		return fmt.Errorf("batch: %d of %d files failed", failed, fs.NArg())
	}
	return nil
}

// ── helpers ────────────────────────────────────────────────────────────────────

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeResult(path string, img *core.ImageData, stdout io.Writer) error {
	if err := os.WriteFile(path, img.Output, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %dx%d %s, %d bytes\n", path, img.Meta.Width, img.Meta.Height, img.OutputFormat, len(img.Output))
	return nil
}

func formatFromPath(path string) core.Format {
	return core.ParseFormat(strings.ToLower(filepath.Ext(path)))
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

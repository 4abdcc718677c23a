package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/webpbridge"
	"github.com/Skryldev/webpbridge/config"
	"github.com/Skryldev/webpbridge/utils"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// encodeFixture turns a fresh PNG into a WebP file through the encode command.
func encodeFixture(t *testing.T, dir string, w, h int) string {
	t.Helper()
	in := writePNG(t, dir, "src.png", w, h)
	var out bytes.Buffer
	require.NoError(t, run([]string{"encode", "-codec", "native", in}, &out))
	return filepath.Join(dir, "src.webp")
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"help"}, &out))
	assert.Contains(t, out.String(), "webpbridge encode")

	out.Reset()
	assert.Error(t, run(nil, &out))
	assert.ErrorContains(t, run([]string{"explode"}, &out), `unknown command "explode"`)
}

func TestEncode(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "photo.png", 32, 16)
	dst := filepath.Join(dir, "small.webp")

	var out bytes.Buffer
	require.NoError(t, run([]string{"encode", "-codec", "native", "-width", "16", "-o", dst, in}, &out))
	assert.Contains(t, out.String(), "16x8 webp")

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, utils.IsWebP(data))
}

func TestEncode_RejectsQuality(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "photo.png", 4, 4)
	assert.Error(t, run([]string{"encode", "-q", "150", in}, &bytes.Buffer{}))
}

func TestInfo(t *testing.T) {
	dir := t.TempDir()
	src := encodeFixture(t, dir, 12, 6)

	var out bytes.Buffer
	require.NoError(t, run([]string{"info", "-codec", "native", src}, &out))
	assert.Contains(t, out.String(), "Dimensions: 12x6")
	assert.Contains(t, out.String(), "Raw format: BGRA8")

	notWebP := writePNG(t, dir, "plain.png", 2, 2)
	assert.Error(t, run([]string{"info", "-codec", "native", notWebP}, &bytes.Buffer{}))
}

func TestDecode_ToPNG(t *testing.T) {
	dir := t.TempDir()
	src := encodeFixture(t, dir, 10, 4)
	dst := filepath.Join(dir, "back.PNG")

	require.NoError(t, run([]string{"decode", "-codec", "native", "-o", dst, src}, &bytes.Buffer{}))
	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	m, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 4), m.Bounds())
}

func TestDecode_Raw(t *testing.T) {
	dir := t.TempDir()
	src := encodeFixture(t, dir, 5, 3)
	dst := filepath.Join(dir, "pixels.raw")

	require.NoError(t, run([]string{"decode", "-codec", "native", "-raw", "-layout", "rgba", "-o", dst, src}, &bytes.Buffer{}))
	pix, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Len(t, pix, 5*3*4)

	assert.Error(t, run([]string{"decode", "-codec", "native", "-raw", "-layout", "gray", "-o", dst, src}, &bytes.Buffer{}))
}

func TestDecode_Mips(t *testing.T) {
	dir := t.TempDir()
	src := encodeFixture(t, dir, 8, 8)

	var out bytes.Buffer
	require.NoError(t, run([]string{"decode", "-codec", "native", "-mips", "3", src}, &out))
	assert.Contains(t, out.String(), "8x8")
	assert.Contains(t, out.String(), "4x4")
	assert.Contains(t, out.String(), "2x2")
	assert.NotContains(t, out.String(), "1x1")
}

func TestDecode_RequiresOutput(t *testing.T) {
	dir := t.TempDir()
	src := encodeFixture(t, dir, 2, 2)
	assert.ErrorContains(t, run([]string{"decode", src}, &bytes.Buffer{}), "-o is required")
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 6, 6)
	b := writePNG(t, dir, "b.png", 8, 4)
	outDir := filepath.Join(dir, "out")

	var out bytes.Buffer
	require.NoError(t, run([]string{"batch", "-codec", "native", "-outdir", outDir, a, b}, &out))
	for _, name := range []string{"a.webp", "b.webp"} {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		require.NoError(t, err, name)
		assert.True(t, utils.IsWebP(data), name)
	}

	err := run([]string{"batch", "-codec", "native", "-outdir", outDir, a, filepath.Join(dir, "missing.png")}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "1 of 2 files failed")

	assert.Error(t, run([]string{"batch", "-to", "gif", a}, &bytes.Buffer{}))
}

func TestBatch_MoreFilesThanQueue(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "webpbridge.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("workerCount: 1\nqueueSize: 2\n"), 0o644))

	args := []string{"batch", "-config", cfgPath, "-codec", "native", "-outdir", filepath.Join(dir, "out")}
	for i := 0; i < 7; i++ {
		args = append(args, writePNG(t, dir, fmt.Sprintf("img%d.png", i), 4+i, 4))
	}

	require.NoError(t, run(args, &bytes.Buffer{}))
	for i := 0; i < 7; i++ {
		data, err := os.ReadFile(filepath.Join(dir, "out", fmt.Sprintf("img%d.webp", i)))
		require.NoError(t, err)
		assert.True(t, utils.IsWebP(data))
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webpbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codec: wasm\nlogLevel: warn\n"), 0o644))

	cfg, err := loadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, config.CodecWASM, cfg.Codec)

	cfg, err = loadConfig(path, "NATIVE")
	require.NoError(t, err)
	assert.Equal(t, config.CodecNative, cfg.Codec)

	_, err = loadConfig("", "bogus")
	assert.Error(t, err)
}

func TestNewRouter(t *testing.T) {
	cfg := config.Default()
	cfg.Codec = config.CodecNative
	cfg.Local.RootDir = t.TempDir()
	proc, err := webpbridge.New(cfg)
	require.NoError(t, err)
	defer proc.Stop()

	router, err := newRouter(cfg, proc, true)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"storage":true`)
}

package cover

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestImage(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "in.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func assertAspect(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	// Exactly 16:10 within one pixel of rounding.
	assert.LessOrEqual(t, math.Abs(float64(w)*10-float64(h)*16), 16.0,
		"got %dx%d", w, h)
	return img
}

func TestProcess_CropWide(t *testing.T) {
	in := writeTestImage(t, 1920, 1080) // 16:9, wider than 16:10
	out := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, Process(in, out, ModeCrop))

	img := assertAspect(t, out)
	// Height is preserved, width cropped.
	assert.Equal(t, 1080, img.Bounds().Dy())
	assert.Equal(t, 1728, img.Bounds().Dx())
}

func TestProcess_CropTall(t *testing.T) {
	in := writeTestImage(t, 1000, 1000)
	out := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, Process(in, out, ModeCrop))

	img := assertAspect(t, out)
	assert.Equal(t, 1000, img.Bounds().Dx())
	assert.Equal(t, 625, img.Bounds().Dy())
}

func TestProcess_PadWide(t *testing.T) {
	in := writeTestImage(t, 1920, 1080)
	out := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, Process(in, out, ModePad))

	img := assertAspect(t, out)
	// Width preserved, black bars extend the height.
	assert.Equal(t, 1920, img.Bounds().Dx())
	assert.Equal(t, 1200, img.Bounds().Dy())

	// Corner is padding, center is source content.
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Zero(t, r+g+b)
}

func TestProcess_Idempotent(t *testing.T) {
	in := writeTestImage(t, 1600, 1000) // already 16:10
	out := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, Process(in, out, ModeCrop))

	img := assertAspect(t, out)
	assert.Equal(t, 1600, img.Bounds().Dx())
	assert.Equal(t, 1000, img.Bounds().Dy())
}

func TestProcess_MissingInput(t *testing.T) {
	err := Process("/nonexistent.png", filepath.Join(t.TempDir(), "out.png"), ModeCrop)
	assert.Error(t, err)
}

func TestResize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2000, 1250))
	out := Resize(img, 1000)
	assert.Equal(t, 1000, out.Bounds().Dx())
	assert.Equal(t, 625, out.Bounds().Dy())

	// No upscaling.
	small := image.NewRGBA(image.Rect(0, 0, 100, 80))
	assert.Equal(t, small, Resize(small, 1000))
}

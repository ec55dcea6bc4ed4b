// Package cover normalizes cover images to the sink platform's exact 16:10
// aspect ratio.
package cover

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
)

// Mode selects how the excess aspect is handled.
type Mode string

const (
	// ModeCrop center-crops the longer dimension.
	ModeCrop Mode = "crop"
	// ModePad letterboxes with black bars.
	ModePad Mode = "pad"
)

// Target aspect ratio, width:height.
const (
	aspectW = 16
	aspectH = 10
)

// Process reads a raster image, reshapes it to exactly 16:10, and writes it
// to outPath. The output format follows outPath's extension (jpg, png,
// webp). Idempotent: an already-16:10 image is re-encoded unchanged.
func Process(inPath, outPath string, mode Mode) error {
	src, err := decode(inPath)
	if err != nil {
		return err
	}

	var out image.Image
	switch mode {
	case ModePad:
		out = pad(src)
	default:
		out = crop(src)
	}

	return encode(outPath, out)
}

// crop center-crops the source to 16:10.
func crop(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	targetW, targetH := w, h
	if w*aspectH > h*aspectW {
		// Too wide: crop width.
		targetW = h * aspectW / aspectH
	} else {
		targetH = w * aspectH / aspectW
	}

	x0 := b.Min.X + (w-targetW)/2
	y0 := b.Min.Y + (h-targetH)/2
	rect := image.Rect(0, 0, targetW, targetH)

	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, src, image.Pt(x0, y0), draw.Src)
	return dst
}

// pad letterboxes the source into a black 16:10 canvas.
func pad(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	canvasW, canvasH := w, h
	if w*aspectH > h*aspectW {
		// Too wide: extend height.
		canvasH = w * aspectH / aspectW
	} else {
		canvasW = h * aspectW / aspectH
	}

	dst := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	offset := image.Pt((canvasW-w)/2, (canvasH-h)/2)
	draw.Draw(dst, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(w, h))}, src, b.Min, draw.Src)
	return dst
}

// Resize scales an image to the given width, preserving aspect.
func Resize(src image.Image, width int) image.Image {
	b := src.Bounds()
	if b.Dx() <= width {
		return src
	}
	height := b.Dy() * width / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cover: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".webp") {
		img, err := webp.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decoding webp cover: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding cover: %w", err)
	}
	return img, nil
}

func encode(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating cover output: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	case ".webp":
		err = webp.Encode(f, img, &webp.Options{Quality: 90})
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return fmt.Errorf("encoding cover: %w", err)
	}
	return nil
}

package imageprocessor

import (
	"errors"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// RGBBuffer is a row-major, channel-interleaved 8-bit RGB image.
type RGBBuffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// lanczos3 is the windowed sinc filter with a support of three lobes.
var lanczos3 = &draw.Kernel{
	Support: 3,
	At: func(t float64) float64 {
		if t == 0 {
			return 1
		}
		if t >= 3 {
			return 0
		}
		x := math.Pi * t
		return 3 * math.Sin(x) * math.Sin(x/3) / (x * x)
	},
}

// roundHalfUp rounds halves towards positive infinity.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// ResizedDimensions scales width and height by one factor so the shorter
// side equals resizeScale.
func ResizedDimensions(width, height, resizeScale int) (int, int) {
	scale := float64(resizeScale) / float64(min(width, height))
	return roundHalfUp(float64(width) * scale), roundHalfUp(float64(height) * scale)
}

// CropOrigin returns the top-left corner of a centered size x size window
// inside a width x height image. Offsets are clamped into the image.
func CropOrigin(width, height, size int) (left, top int) {
	return clampOffset(roundHalfUp(float64(width-size)/2), width-size),
		clampOffset(roundHalfUp(float64(height-size)/2), height-size)
}

func clampOffset(v, upper int) int {
	if upper <= 0 || v < 0 {
		return 0
	}
	if v > upper {
		return upper
	}
	return v
}

// Transform resizes the decoded image preserving its aspect ratio and crops
// the centered square.
//
// Only the pixels inside the crop window are resampled; the full resized
// image is never materialized. Transparent areas are composited over black.
func (p *Pipeline) Transform(d *Decoded) (*RGBBuffer, error) {
	if d == nil || d.Image == nil {
		return nil, errors.New("transform: nil image")
	}
	size := p.cfg.ImageSize
	sr := d.Image.Bounds()

	newW, newH := ResizedDimensions(sr.Dx(), sr.Dy(), p.cfg.ResizeScale)
	left, top := CropOrigin(newW, newH, size)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	dr := image.Rect(-left, -top, newW-left, newH-top)
	lanczos3.Scale(dst, dr, d.Image, sr, draw.Src, nil)

	pix := make([]uint8, size*size*3)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			src := dst.PixOffset(x, y)
			out := (y*size + x) * 3
			copy(pix[out:out+3], dst.Pix[src:src+3])
		}
	}

	return &RGBBuffer{Width: size, Height: size, Pix: pix}, nil
}

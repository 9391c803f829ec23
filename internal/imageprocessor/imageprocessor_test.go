package imageprocessor

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/gen2brain/avif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// solidImage returns a width x height image filled with c.
func solidImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// gradientImage encodes the pixel position in the red and green channels.
func gradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	return img
}

func encode(t *testing.T, format string, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	case "gif":
		err = gif.Encode(&buf, img, nil)
	case "tiff":
		err = tiff.Encode(&buf, img, nil)
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "avif":
		err = avif.Encode(&buf, img)
	default:
		t.Fatalf("unknown fixture format %q", format)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func newDefaultPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(DefaultConfig())
	require.NoError(t, err)
	return p
}

func TestDecodeSupportedFormats(t *testing.T) {
	p := newDefaultPipeline(t)
	for _, format := range []string{"png", "jpeg", "gif", "tiff", "avif"} {
		t.Run(format, func(t *testing.T) {
			data := encode(t, format, gradientImage(40, 30))

			decoded, err := p.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, Metadata{Width: 40, Height: 30, Format: format}, decoded.Metadata)
			assert.Equal(t, 40, decoded.Image.Bounds().Dx())
		})
	}
}

// 1x1 WebP files, lossy (VP8) and lossless (VP8L). x/image has no encoder.
var webpFixtures = map[string]string{
	"lossy":    "UklGRiIAAABXRUJQVlA4IBYAAAAwAQCdASoBAAEADsD+JaQAA3AAAAAA",
	"lossless": "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA==",
}

func TestDecodeAndPreprocessWebP(t *testing.T) {
	p := newDefaultPipeline(t)
	for name, encoded := range webpFixtures {
		t.Run(name, func(t *testing.T) {
			data, err := base64.StdEncoding.DecodeString(encoded)
			require.NoError(t, err)

			decoded, err := p.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, Metadata{Width: 1, Height: 1, Format: "webp"}, decoded.Metadata)

			tensor, meta, err := p.Preprocess(data)
			require.NoError(t, err)
			assert.Equal(t, "webp", meta.Format)
			assert.Len(t, tensor.Data, 150528)
		})
	}
}

func TestDecodeRejectsBMP(t *testing.T) {
	p := newDefaultPipeline(t)

	_, err := p.Decode(encode(t, "bmp", solidImage(8, 8, color.White)))
	require.Error(t, err)

	var unsupported *UnsupportedFormatError
	require.True(t, errors.As(err, &unsupported), "expected UnsupportedFormatError, got %T", err)
	assert.Equal(t, "bmp", unsupported.Format)
	assert.Equal(t, "Unsupported image format: bmp. Supported formats: jpeg, png, webp, gif, avif, tiff", err.Error())
}

func TestDecodeHonorsConfiguredFormats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SupportedFormats = []string{"png"}
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	_, err = p.Decode(encode(t, "jpeg", solidImage(8, 8, color.White)))
	var unsupported *UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, []string{"png"}, unsupported.Supported)
}

func TestDecodeInvalidPayloads(t *testing.T) {
	p := newDefaultPipeline(t)
	pngData := encode(t, "png", solidImage(16, 16, color.White))

	cases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("definitely not an image"),
		"truncated": pngData[:len(pngData)/2],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Decode(data)
			var invalid *InvalidMetadataError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestDecodeEnforcesPixelLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPixels = 100
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	_, err = p.Decode(encode(t, "png", solidImage(20, 20, color.White)))
	var invalid *InvalidMetadataError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "20x20")
}

// pngHeader returns a PNG holding only the signature and an IHDR chunk.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolor

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDefaultPixelLimitAdmitsLargeImages(t *testing.T) {
	p := newDefaultPipeline(t)

	// 100 Mpx passes the header check and only fails on the missing pixel data.
	_, err := p.Decode(pngHeader(10000, 10000))
	var invalid *InvalidMetadataError
	require.ErrorAs(t, err, &invalid)
	assert.NotContains(t, err.Error(), "pixel limit")

	_, err = p.Decode(pngHeader(20000, 20000))
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "pixel limit")
}

func TestResizedDimensions(t *testing.T) {
	cases := []struct {
		w, h, wantW, wantH int
	}{
		{10, 1000, 256, 25600},
		{1000, 10, 25600, 256},
		{300, 200, 384, 256},
		{256, 256, 256, 256},
		{225, 224, 257, 256},
		{640, 480, 341, 256},
	}
	for _, tc := range cases {
		gotW, gotH := ResizedDimensions(tc.w, tc.h, DefaultResizeScale)
		assert.Equal(t, tc.wantW, gotW, "width for %dx%d", tc.w, tc.h)
		assert.Equal(t, tc.wantH, gotH, "height for %dx%d", tc.w, tc.h)
		assert.Equal(t, DefaultResizeScale, min(gotW, gotH))
	}
}

func TestCropOrigin(t *testing.T) {
	cases := []struct {
		w, h, left, top int
	}{
		{256, 25600, 16, 12688},
		{384, 256, 80, 16},
		{341, 256, 59, 16},
		{225, 224, 1, 0},
		{220, 300, 0, 38},
	}
	for _, tc := range cases {
		left, top := CropOrigin(tc.w, tc.h, DefaultImageSize)
		assert.Equal(t, tc.left, left, "left for %dx%d", tc.w, tc.h)
		assert.Equal(t, tc.top, top, "top for %dx%d", tc.w, tc.h)
	}
}

func TestTransformExtremeAspectRatios(t *testing.T) {
	p := newDefaultPipeline(t)
	for _, dims := range [][2]int{{10, 1000}, {1000, 10}, {1, 300}} {
		img := gradientImage(dims[0], dims[1])
		buf, err := p.Transform(&Decoded{
			Metadata: Metadata{Width: dims[0], Height: dims[1], Format: "png"},
			Image:    img,
		})
		require.NoError(t, err)
		assert.Equal(t, DefaultImageSize, buf.Width)
		assert.Equal(t, DefaultImageSize, buf.Height)
		assert.Len(t, buf.Pix, DefaultImageSize*DefaultImageSize*3)
	}
}

func TestTransformKeepsSolidColor(t *testing.T) {
	p := newDefaultPipeline(t)
	want := color.RGBA{10, 200, 255, 255}

	buf, err := p.Transform(&Decoded{Image: solidImage(300, 200, want)})
	require.NoError(t, err)

	for i := 0; i < len(buf.Pix); i += 3 {
		require.Equal(t, []uint8{want.R, want.G, want.B}, buf.Pix[i:i+3], "pixel %d", i/3)
	}
}

func TestTransformCropsCenter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResizeScale = 4
	cfg.ImageSize = 2
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	// 4x8 with a red band on rows 3-4: the 2x2 crop at (1,3) is all red.
	img := solidImage(4, 8, color.RGBA{0, 0, 255, 255})
	for y := 2; y < 6; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{255, 0, 0, 255})
		}
	}

	buf, err := p.Transform(&Decoded{Image: img})
	require.NoError(t, err)
	for i := 0; i < len(buf.Pix); i += 3 {
		assert.Greater(t, buf.Pix[i], buf.Pix[i+2], "pixel %d should be red dominated", i/3)
	}
}

func TestNormalizeSolidRed(t *testing.T) {
	p := newDefaultPipeline(t)

	tensor, meta, err := p.Preprocess(encode(t, "png", solidImage(300, 200, color.RGBA{255, 0, 0, 255})))
	require.NoError(t, err)
	assert.Equal(t, Metadata{Width: 300, Height: 200, Format: "png"}, meta)

	plane := DefaultImageSize * DefaultImageSize
	require.Len(t, tensor.Data, 3*plane)

	want := [3]float64{
		(1.0 - 0.485) / 0.229,
		(0 - 0.456) / 0.224,
		(0 - 0.406) / 0.225,
	}
	for c := 0; c < 3; c++ {
		for i := 0; i < plane; i++ {
			require.InDelta(t, want[c], tensor.Data[c*plane+i], 1e-3, "channel %d index %d", c, i)
		}
	}
	assert.InDelta(t, 2.2489, want[0], 1e-4)
	assert.InDelta(t, -2.0357, want[1], 1e-4)
	assert.InDelta(t, -1.8044, want[2], 1e-4)
}

func TestNormalizePlanarLayout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImageSize = 2
	cfg.ResizeScale = 2
	cfg.Mean = [3]float64{0, 0, 0}
	cfg.Std = [3]float64{1, 1, 1}
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	buf := &RGBBuffer{Width: 2, Height: 2, Pix: []uint8{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}}
	tensor, err := p.Normalize(buf)
	require.NoError(t, err)

	want := []float32{1, 4, 7, 10, 2, 5, 8, 11, 3, 6, 9, 12}
	require.Len(t, tensor.Data, len(want))
	for i, v := range want {
		assert.InDelta(t, v/255, tensor.Data[i], 1e-7, "index %d", i)
	}
	assert.Equal(t, []int64{1, 3, 2, 2}, tensor.Shape())
}

func TestNormalizeRejectsMismatchedBuffer(t *testing.T) {
	p := newDefaultPipeline(t)
	_, err := p.Normalize(&RGBBuffer{Width: 2, Height: 2, Pix: make([]uint8, 5)})
	require.Error(t, err)
	_, err = p.Normalize(nil)
	require.Error(t, err)
}

func TestPreprocessTensorShape(t *testing.T) {
	p := newDefaultPipeline(t)
	fixtures := map[string]image.Image{
		"png":  gradientImage(640, 480),
		"jpeg": gradientImage(10, 1000),
		"gif":  gradientImage(1000, 10),
		"tiff": gradientImage(224, 224),
		"avif": gradientImage(64, 48),
	}
	for format, img := range fixtures {
		t.Run(format, func(t *testing.T) {
			tensor, _, err := p.Preprocess(encode(t, format, img))
			require.NoError(t, err)
			assert.Len(t, tensor.Data, 150528)
			assert.Equal(t, []int64{1, 3, 224, 224}, tensor.Shape())
			for i, v := range tensor.Data {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					t.Fatalf("non-finite value %v at %d", v, i)
				}
			}
		})
	}
}

func TestPipelineWithAlternateSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResizeScale = 10
	cfg.ImageSize = 8
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	tensor, _, err := p.Preprocess(encode(t, "png", gradientImage(50, 20)))
	require.NoError(t, err)
	assert.Len(t, tensor.Data, cfg.TensorLen())
	assert.Equal(t, 192, cfg.TensorLen())
}

func TestNewPipelineValidatesConfig(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.ImageSize = 0 },
		func(c *Config) { c.ResizeScale = 100 },
		func(c *Config) { c.Std[1] = 0 },
		func(c *Config) { c.SupportedFormats = nil },
		func(c *Config) { c.MaxPixels = -1 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		_, err := NewPipeline(cfg)
		assert.Error(t, err, "case %d", i)
	}
}

func TestPipelineConfigIsCopied(t *testing.T) {
	cfg := DefaultConfig()
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	cfg.SupportedFormats[0] = "bmp"
	got := p.Config()
	assert.Equal(t, "jpeg", got.SupportedFormats[0])

	got.SupportedFormats[1] = "bmp"
	assert.Equal(t, "png", p.Config().SupportedFormats[1])
}

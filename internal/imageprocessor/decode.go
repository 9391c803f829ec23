package imageprocessor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"slices"

	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/avif" // Register AVIF format decoder
	_ "golang.org/x/image/bmp"    // Register BMP so it is rejected by name
	_ "golang.org/x/image/tiff"   // Register TIFF format decoder
	_ "golang.org/x/image/webp"   // Register WebP format decoder
)

// Metadata describes a decoded image.
type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

func (m Metadata) validate() error {
	var missing []string
	if m.Width <= 0 {
		missing = append(missing, "width")
	}
	if m.Height <= 0 {
		missing = append(missing, "height")
	}
	if m.Format == "" {
		missing = append(missing, "format")
	}
	if len(missing) > 0 {
		return &InvalidMetadataError{Reason: fmt.Sprintf("missing %v", missing)}
	}
	return nil
}

// Decoded is an image that passed validation, with its pixel accessor.
type Decoded struct {
	Metadata Metadata
	Image    image.Image
}

// Decode validates and decodes raw image bytes.
//
// The header is inspected before any pixel data is decoded so oversized or
// unsupported uploads are rejected cheaply.
//
// # Errors
//
//   - *InvalidMetadataError if the payload is empty, the header cannot be
//     read, a dimension is missing, the image exceeds MaxPixels, or the pixel
//     data is corrupt
//   - *UnsupportedFormatError if the codec is not in Config.SupportedFormats
func (p *Pipeline) Decode(data []byte) (*Decoded, error) {
	if len(data) == 0 {
		return nil, &InvalidMetadataError{Reason: "empty image payload"}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &InvalidMetadataError{Reason: "unable to read image header", Err: err}
	}

	meta := Metadata{Width: cfg.Width, Height: cfg.Height, Format: format}
	if err := meta.validate(); err != nil {
		return nil, err
	}
	if !slices.Contains(p.cfg.SupportedFormats, meta.Format) {
		return nil, &UnsupportedFormatError{
			Format:    meta.Format,
			Supported: slices.Clone(p.cfg.SupportedFormats),
		}
	}
	if p.cfg.MaxPixels > 0 && meta.Width*meta.Height > p.cfg.MaxPixels {
		return nil, &InvalidMetadataError{
			Reason: fmt.Sprintf("%dx%d exceeds the %d pixel limit", meta.Width, meta.Height, p.cfg.MaxPixels),
		}
	}

	var img image.Image
	if p.cfg.AutoOrient {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, &InvalidMetadataError{Reason: fmt.Sprintf("corrupt %s data", meta.Format), Err: err}
	}

	// Orientation may have swapped the axes.
	bounds := img.Bounds()
	meta.Width, meta.Height = bounds.Dx(), bounds.Dy()

	return &Decoded{Metadata: meta, Image: img}, nil
}

package imageprocessor

import (
	"errors"
	"fmt"
	"slices"
)

// ImageNet normalization constants in R, G, B order.
var (
	ImageNetMean = [3]float64{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float64{0.229, 0.224, 0.225}
)

// SupportedFormats lists the codecs accepted by default, as reported by
// image.DecodeConfig.
var SupportedFormats = []string{"jpeg", "png", "webp", "gif", "avif", "tiff"}

const (
	// DefaultResizeScale is the short-side length after resizing.
	DefaultResizeScale = 256
	// DefaultImageSize is the side of the square crop fed to the model.
	DefaultImageSize = 224
	// DefaultMaxPixels bounds width*height of an accepted upload. It matches
	// libvips' default of 0x3FFF * 0x3FFF.
	DefaultMaxPixels = 0x3FFF * 0x3FFF
)

// Config holds the constants of the preprocessing pipeline.
type Config struct {
	ResizeScale      int
	ImageSize        int
	Mean             [3]float64
	Std              [3]float64
	SupportedFormats []string
	// MaxPixels rejects images larger than this many pixels. Zero disables the check.
	MaxPixels int
	// AutoOrient applies the EXIF orientation tag before any geometry.
	AutoOrient bool
}

// DefaultConfig returns the configuration the deployed model was trained with.
func DefaultConfig() Config {
	return Config{
		ResizeScale:      DefaultResizeScale,
		ImageSize:        DefaultImageSize,
		Mean:             ImageNetMean,
		Std:              ImageNetStd,
		SupportedFormats: slices.Clone(SupportedFormats),
		MaxPixels:        DefaultMaxPixels,
	}
}

// Validate reports whether the configuration can drive a pipeline.
func (c Config) Validate() error {
	if c.ImageSize <= 0 {
		return fmt.Errorf("image size must be positive, got %d", c.ImageSize)
	}
	if c.ResizeScale < c.ImageSize {
		return fmt.Errorf("resize scale %d must not be smaller than image size %d", c.ResizeScale, c.ImageSize)
	}
	for i, s := range c.Std {
		if s == 0 {
			return fmt.Errorf("standard deviation for channel %d is zero", i)
		}
	}
	if len(c.SupportedFormats) == 0 {
		return errors.New("no supported formats configured")
	}
	if c.MaxPixels < 0 {
		return fmt.Errorf("max pixels must not be negative, got %d", c.MaxPixels)
	}
	return nil
}

// TensorLen is the number of float32 values a normalized tensor holds.
func (c Config) TensorLen() int {
	return 3 * c.ImageSize * c.ImageSize
}

// Pipeline runs the decode, transform and normalize stages.
type Pipeline struct {
	cfg Config
}

// NewPipeline validates cfg and returns a pipeline bound to a private copy of it.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preprocessing config: %w", err)
	}
	cfg.SupportedFormats = slices.Clone(cfg.SupportedFormats)
	return &Pipeline{cfg: cfg}, nil
}

// Config returns a copy of the pipeline configuration.
func (p *Pipeline) Config() Config {
	cfg := p.cfg
	cfg.SupportedFormats = slices.Clone(p.cfg.SupportedFormats)
	return cfg
}

// Preprocess runs all three stages on raw image bytes.
func (p *Pipeline) Preprocess(data []byte) (*Tensor, Metadata, error) {
	decoded, err := p.Decode(data)
	if err != nil {
		return nil, Metadata{}, err
	}
	buf, err := p.Transform(decoded)
	if err != nil {
		return nil, decoded.Metadata, err
	}
	tensor, err := p.Normalize(buf)
	if err != nil {
		return nil, decoded.Metadata, err
	}
	return tensor, decoded.Metadata, nil
}

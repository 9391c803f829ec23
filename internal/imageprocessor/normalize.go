package imageprocessor

import "fmt"

// Tensor is a planar CHW float32 image with an implicit batch of one.
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// Shape returns the NCHW shape of the tensor.
func (t *Tensor) Shape() []int64 {
	return []int64{1, int64(t.Channels), int64(t.Height), int64(t.Width)}
}

// Normalize maps each 8-bit channel value v to (v/255 - mean) / std and
// writes it at c*H*W + y*W + x.
func (p *Pipeline) Normalize(buf *RGBBuffer) (*Tensor, error) {
	if buf == nil {
		return nil, fmt.Errorf("normalize: nil buffer")
	}
	plane := buf.Width * buf.Height
	if plane <= 0 || len(buf.Pix) != plane*3 {
		return nil, fmt.Errorf("normalize: buffer holds %d bytes, want %d for %dx%d RGB",
			len(buf.Pix), plane*3, buf.Width, buf.Height)
	}

	mean, std := p.cfg.Mean, p.cfg.Std
	data := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		px := buf.Pix[i*3 : i*3+3]
		for c := 0; c < 3; c++ {
			data[c*plane+i] = float32((float64(px[c])/255.0 - mean[c]) / std[c])
		}
	}

	return &Tensor{Channels: 3, Height: buf.Height, Width: buf.Width, Data: data}, nil
}

// Package imageprocessor turns an uploaded image into the fixed-shape tensor
// consumed by the classification model.
//
// The work is split into three stages, each a method on Pipeline that takes
// the previous stage's value and returns a new one:
//
//   - Decode reads the header, validates metadata and format, then decodes
//     the pixels.
//   - Transform scales the image so its short side equals Config.ResizeScale
//     and crops the centered Config.ImageSize square.
//   - Normalize applies per-channel mean/std normalization and repacks the
//     interleaved RGB bytes into planar CHW float32 data.
//
// # Coordinate System
//
// Pixel buffers are row-major with (0,0) at the top-left corner. Tensor
// index for channel c, row y, column x is c*S*S + y*S + x.
//
// # Thread Safety
//
// A Pipeline holds only its immutable Config and is safe for concurrent use.
// No stage retains references to its input or output.
package imageprocessor

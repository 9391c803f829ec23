package imageprocessor

import (
	"fmt"
	"strings"
)

// InvalidMetadataError reports an image whose header is unreadable or
// incomplete, or whose pixels cannot be decoded.
type InvalidMetadataError struct {
	Reason string
	Err    error
}

func (e *InvalidMetadataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Invalid image metadata: %s: %v", e.Reason, e.Err)
	}
	return "Invalid image metadata: " + e.Reason
}

func (e *InvalidMetadataError) Unwrap() error { return e.Err }

// UnsupportedFormatError reports a decodable image in a codec the model
// pipeline does not accept.
type UnsupportedFormatError struct {
	Format    string
	Supported []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("Unsupported image format: %s. Supported formats: %s",
		e.Format, strings.Join(e.Supported, ", "))
}

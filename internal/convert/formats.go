// Package convert implements the conversion executors that turn an input image
// into a target format.
package convert

import "strings"

// Format describes an output format.
type Format struct {
	Value           string
	Name            string
	SupportsQuality bool
	MimeType        string
}

// Formats lists every supported output format.
var Formats = []Format{
	{Value: "png", Name: "PNG", SupportsQuality: true, MimeType: "image/png"},
	{Value: "jpg", Name: "JPG", SupportsQuality: true, MimeType: "image/jpeg"},
	{Value: "webp", Name: "WebP", SupportsQuality: true, MimeType: "image/webp"},
	{Value: "gif", Name: "GIF", SupportsQuality: false, MimeType: "image/gif"},
	{Value: "bmp", Name: "BMP", SupportsQuality: false, MimeType: "image/bmp"},
	{Value: "tiff", Name: "TIFF", SupportsQuality: true, MimeType: "image/tiff"},
	{Value: "avif", Name: "AVIF", SupportsQuality: true, MimeType: "image/avif"},
	{Value: "ico", Name: "ICO", SupportsQuality: false, MimeType: "image/x-icon"},
}

const (
	// IconMaxSize bounds both dimensions of an ico output. Smaller images are not upscaled.
	IconMaxSize = 256

	fallbackMimeType = "application/octet-stream"
)

// Lookup returns the format for a case-insensitive value.
func Lookup(value string) (Format, bool) {
	value = strings.ToLower(value)
	for _, f := range Formats {
		if f.Value == value {
			return f, true
		}
	}
	return Format{}, false
}

// Supported reports whether value names an output format.
func Supported(value string) bool {
	_, ok := Lookup(value)
	return ok
}

// Names returns the format values in table order.
func Names() []string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = f.Value
	}
	return names
}

// MimeType returns the MIME type of an output format, or application/octet-stream.
func MimeType(value string) string {
	if f, ok := Lookup(value); ok {
		return f.MimeType
	}
	return fallbackMimeType
}

// EffectiveQuality returns the quality to apply, or 0 when it must be ignored:
// out of range values and formats without a quality setting.
func EffectiveQuality(format string, quality int) int {
	f, ok := Lookup(format)
	if !ok || !f.SupportsQuality {
		return 0
	}
	if quality < 1 || quality > 100 {
		return 0
	}
	return quality
}

// SafeExtension reduces a user supplied extension to lowercase [a-z0-9] so it
// can be used in a file name. It returns fallback when nothing is left.
func SafeExtension(ext, fallback string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimPrefix(ext, ".")) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.Len() > 10 {
		return fallback
	}
	return b.String()
}

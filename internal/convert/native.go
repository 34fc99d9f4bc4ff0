package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/dontdude/imgconv/internal/domain"
	"github.com/gabriel-vasile/mimetype"
)

const (
	defaultJPEGQuality = 92
	defaultWebPQuality = 75
)

// Native converts in-process with pure Go codecs (plus libwebp through cgo).
// It decodes png, jpeg, gif, bmp, tiff and webp, and encodes every table
// format except avif.
type Native struct{}

var _ domain.Converter = Native{}

func (Native) Convert(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
	format, ok := Lookup(req.OutputFormat)
	if !ok {
		return domain.ConvertOutput{}, domain.NewConversionError(fmt.Sprintf("unsupported output format %q", req.OutputFormat), nil)
	}
	if format.Value == "avif" {
		return domain.ConvertOutput{}, domain.NewConversionError("avif output requires the magick or docker executor", nil)
	}

	if detected := mimetype.Detect(req.Input); !strings.HasPrefix(detected.String(), "image/") {
		return domain.ConvertOutput{}, domain.NewConversionError(fmt.Sprintf("input is not an image (detected %s)", detected.String()), nil)
	}

	img, err := imaging.Decode(bytes.NewReader(req.Input), imaging.AutoOrientation(true))
	if err != nil {
		return domain.ConvertOutput{}, domain.NewConversionError("failed to decode input image", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.ConvertOutput{}, err
	}

	var buf bytes.Buffer
	if err := encode(&buf, img, format, EffectiveQuality(format.Value, req.Quality)); err != nil {
		return domain.ConvertOutput{}, domain.NewConversionError("failed to encode "+format.Value, err)
	}
	return domain.ConvertOutput{Data: buf.Bytes(), MimeType: format.MimeType}, nil
}

// encode writes img in format. quality is 0 when it does not apply.
func encode(w io.Writer, img image.Image, format Format, quality int) error {
	switch format.Value {
	case "png":
		enc := png.Encoder{CompressionLevel: pngCompression(quality)}
		return enc.Encode(w, img)
	case "jpg":
		if quality == 0 {
			quality = defaultJPEGQuality
		}
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case "webp":
		if quality == 0 {
			quality = defaultWebPQuality
		}
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case "gif":
		return imaging.Encode(w, img, imaging.GIF)
	case "bmp":
		return imaging.Encode(w, img, imaging.BMP)
	case "tiff":
		return imaging.Encode(w, img, imaging.TIFF)
	case "ico":
		return encodeICO(w, imaging.Fit(img, IconMaxSize, IconMaxSize, imaging.Lanczos))
	default:
		return fmt.Errorf("no encoder for %s", format.Value)
	}
}

// pngCompression follows ImageMagick, where the tens digit of the PNG quality
// is the zlib level.
func pngCompression(quality int) png.CompressionLevel {
	switch level := quality / 10; {
	case quality == 0:
		return png.DefaultCompression
	case level <= 1:
		return png.BestSpeed
	case level >= 9:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

package convert

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/dontdude/imgconv/internal/domain"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestNativeConvertsToDecodableFormats(t *testing.T) {
	input := testPNG(t, 40, 30)

	for _, format := range []string{"png", "jpg", "gif", "bmp", "tiff"} {
		t.Run(format, func(t *testing.T) {
			out, err := Native{}.Convert(context.Background(), domain.ConvertRequest{
				Input:          input,
				InputExtension: "png",
				OutputFormat:   format,
				Quality:        80,
			})
			if err != nil {
				t.Fatalf("Convert returned error: %v", err)
			}
			if out.MimeType != MimeType(format) {
				t.Fatalf("MimeType = %q, want %q", out.MimeType, MimeType(format))
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
			if err != nil {
				t.Fatalf("output is not decodable: %v", err)
			}
			if cfg.Width != 40 || cfg.Height != 30 {
				t.Fatalf("output is %dx%d, want 40x30", cfg.Width, cfg.Height)
			}
		})
	}
}

func TestNativeWebP(t *testing.T) {
	out, err := Native{}.Convert(context.Background(), domain.ConvertRequest{
		Input:        testPNG(t, 16, 16),
		OutputFormat: "webp",
		Quality:      80,
	})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if out.MimeType != "image/webp" {
		t.Fatalf("MimeType = %q", out.MimeType)
	}
	if len(out.Data) < 12 || string(out.Data[0:4]) != "RIFF" || string(out.Data[8:12]) != "WEBP" {
		t.Fatal("output is not a RIFF/WEBP container")
	}
}

func TestNativeIconIsDownscaledOnly(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"large landscape", 512, 300, 256, 150},
		{"exact", 256, 256, 256, 256},
		{"small stays small", 32, 20, 32, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Native{}.Convert(context.Background(), domain.ConvertRequest{
				Input:        testPNG(t, tt.w, tt.h),
				OutputFormat: "ico",
				Quality:      90, // ignored for ico
			})
			if err != nil {
				t.Fatalf("Convert returned error: %v", err)
			}
			if out.MimeType != "image/x-icon" {
				t.Fatalf("MimeType = %q", out.MimeType)
			}

			var hdr icoHeader
			var entry icoEntry
			r := bytes.NewReader(out.Data)
			if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
				t.Fatalf("read header: %v", err)
			}
			if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
				t.Fatalf("read entry: %v", err)
			}
			if hdr.Type != 1 || hdr.Count != 1 {
				t.Fatalf("unexpected header %+v", hdr)
			}

			payload := out.Data[entry.ImageOffset:]
			if int(entry.BytesInRes) != len(payload) {
				t.Fatalf("BytesInRes = %d, payload is %d bytes", entry.BytesInRes, len(payload))
			}
			cfg, err := png.DecodeConfig(bytes.NewReader(payload))
			if err != nil {
				t.Fatalf("icon payload is not png: %v", err)
			}
			if cfg.Width != tt.wantW || cfg.Height != tt.wantH {
				t.Fatalf("icon is %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestNativeFailures(t *testing.T) {
	tests := []struct {
		name string
		req  domain.ConvertRequest
	}{
		{"corrupt input", domain.ConvertRequest{Input: []byte("definitely not an image"), InputExtension: "png", OutputFormat: "webp"}},
		{"truncated png", domain.ConvertRequest{Input: testPNG(t, 10, 10)[:30], InputExtension: "png", OutputFormat: "jpg"}},
		{"unknown format", domain.ConvertRequest{Input: testPNG(t, 4, 4), OutputFormat: "psd"}},
		{"avif", domain.ConvertRequest{Input: testPNG(t, 4, 4), OutputFormat: "avif"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Native{}.Convert(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrConversionFailed) {
				t.Fatalf("got %v, want a conversion error", err)
			}
		})
	}
}

package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dontdude/imgconv/internal/domain"
)

// Magick shells out to the ImageMagick CLI found in PATH.
type Magick struct {
	once   sync.Once
	binary string
	legacy bool
	err    error
}

var _ domain.Converter = (*Magick)(nil)

// NewMagick returns an executor that locates the binary on first use.
func NewMagick() *Magick {
	return &Magick{}
}

// find prefers ImageMagick 7 "magick" and falls back to the v6 "convert".
func (m *Magick) find() (string, bool, error) {
	m.once.Do(func() {
		if bin, err := exec.LookPath("magick"); err == nil {
			m.binary = bin
			return
		}
		if bin, err := exec.LookPath("convert"); err == nil {
			m.binary, m.legacy = bin, true
			return
		}
		m.err = errors.New("ImageMagick is not installed or not found in PATH")
	})
	return m.binary, m.legacy, m.err
}

// Available reports whether an ImageMagick binary was found.
func (m *Magick) Available() error {
	_, _, err := m.find()
	return err
}

func (m *Magick) Convert(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
	format, ok := Lookup(req.OutputFormat)
	if !ok {
		return domain.ConvertOutput{}, domain.NewConversionError(fmt.Sprintf("unsupported output format %q", req.OutputFormat), nil)
	}
	bin, legacy, err := m.find()
	if err != nil {
		return domain.ConvertOutput{}, domain.NewConversionError("imagemagick unavailable", err)
	}

	dir, err := os.MkdirTemp("", "imgconv-")
	if err != nil {
		return domain.ConvertOutput{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "input."+SafeExtension(req.InputExtension, "img"))
	outputPath := filepath.Join(dir, "output."+format.Value)
	if err := os.WriteFile(inputPath, req.Input, 0o600); err != nil {
		return domain.ConvertOutput{}, fmt.Errorf("write input: %w", err)
	}

	args := MagickArgs(inputPath, outputPath, format, req.Quality)
	if !legacy {
		args = append([]string{"convert"}, args...)
	}
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return domain.ConvertOutput{}, ctx.Err()
		}
		return domain.ConvertOutput{}, domain.NewConversionError("imagemagick failed", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return domain.ConvertOutput{}, domain.NewConversionError("imagemagick produced no output", err)
	}
	return domain.ConvertOutput{Data: data, MimeType: format.MimeType}, nil
}

// MagickArgs builds the convert arguments (without the binary or subcommand).
func MagickArgs(inputPath, outputPath string, format Format, quality int) []string {
	args := []string{inputPath}
	if q := EffectiveQuality(format.Value, quality); q > 0 {
		args = append(args, "-quality", strconv.Itoa(q))
	}
	if format.Value == "ico" {
		// ">" only shrinks larger images.
		size := strconv.Itoa(IconMaxSize)
		args = append(args, "-resize", size+"x"+size+">")
	}
	return append(args, outputPath)
}

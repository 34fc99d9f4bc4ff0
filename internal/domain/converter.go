package domain

import "context"

// ConvertRequest is the input of a conversion.
type ConvertRequest struct {
	Input          []byte
	InputExtension string
	OutputFormat   string
	// Quality is only honored for formats that support it and when in 1..100.
	Quality int
}

// ConvertOutput is the result of a successful conversion.
type ConvertOutput struct {
	Data     []byte
	MimeType string
}

// Converter performs the actual format transform.
// Implementations return a *ConversionError on failure.
type Converter interface {
	Convert(ctx context.Context, req ConvertRequest) (ConvertOutput, error)
}

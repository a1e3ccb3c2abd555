// Package ocr extracts recognized text from prescription images.
package ocr

import (
	"context"
	"fmt"

	"github.com/medivault/medivault/internal/platform/apperr"
)

// Extractor turns image bytes into raw text. Implementations are opaque:
// the caller stores whatever comes back verbatim.
type Extractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// StaticExtractor returns a fixed result. It backs OCR_PROVIDER=static and
// tests.
type StaticExtractor struct {
	Text string
	Err  error
}

// NewStaticExtractor returns an extractor that always yields text.
func NewStaticExtractor(text string) *StaticExtractor {
	return &StaticExtractor{Text: text}
}

func (s *StaticExtractor) ExtractText(ctx context.Context, _ []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrExtraction, err)
	}
	if s.Err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrExtraction, s.Err)
	}
	return s.Text, nil
}

// DefaultStaticText is what the static provider returns when none is
// configured.
const DefaultStaticText = "Paracetamol 500mg twice daily for 5 days"

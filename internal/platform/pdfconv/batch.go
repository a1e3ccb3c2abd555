package pdfconv

import (
	"context"
	"fmt"

	"github.com/medivault/medivault/internal/platform/apperr"
)

// File is one named input to a conversion.
type File struct {
	Name string
	Data []byte
}

// Convert turns a single file into a PDF according to its kind. PDF input is
// validated and returned unchanged.
func (cv *Converter) Convert(f File) ([]byte, error) {
	switch Classify(f.Name) {
	case KindPDF:
		if err := cv.Validate(f.Data); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		return f.Data, nil
	case KindImage:
		return cv.ImageToPDF(f.Data)
	case KindText:
		return cv.TextToPDF(f.Data)
	default:
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnsupportedFormat, f.Name)
	}
}

// MergeBatch combines files into one PDF. PDF and text files keep their
// relative order; all images follow as a single block of pages, also in
// their relative order. When only one document results it is returned as
// is. Any unsupported file fails the whole batch before conversion starts.
func (cv *Converter) MergeBatch(ctx context.Context, files []File) ([]byte, error) {
	if len(files) == 0 {
		return nil, conversionError("no files")
	}
	for _, f := range files {
		if Classify(f.Name) == KindUnsupported {
			return nil, fmt.Errorf("%w: %s", apperr.ErrUnsupportedFormat, f.Name)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var docs, images [][]byte
	for _, f := range files {
		switch Classify(f.Name) {
		case KindPDF:
			if err := cv.Validate(f.Data); err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			docs = append(docs, f.Data)
		case KindText:
			pdf, err := cv.TextToPDF(f.Data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			docs = append(docs, pdf)
		case KindImage:
			images = append(images, f.Data)
		}
	}

	if len(images) > 0 {
		block, err := cv.MergeImagesToPDF(images)
		if err != nil {
			return nil, err
		}
		docs = append(docs, block)
	}

	if len(docs) == 1 {
		return docs[0], nil
	}
	return cv.MergePDFs(docs)
}

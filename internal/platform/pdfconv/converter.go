package pdfconv

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
	"github.com/mitchellh/go-wordwrap"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/medivault/medivault/internal/platform/apperr"
)

// Text page layout, in points with the origin at the top-left corner.
const (
	pageHeight    = 841.89
	marginLeft    = 50.0
	firstBaseline = pageHeight - 750.0
	bottomMargin  = 50.0
	leading       = 14.5
	fontFamily    = "Helvetica"
	fontSize      = 12.0

	// MaxLineRunes is the width above which a line is word-wrapped.
	MaxLineRunes = 80
)

var disableConfigOnce sync.Once

// Converter renders and merges PDF documents. It is safe for concurrent use.
type Converter struct{}

// NewConverter returns a Converter using pdfcpu's default configuration.
func NewConverter() *Converter {
	disableConfigOnce.Do(api.DisableConfigDir)
	return &Converter{}
}

// pdfcpu records the running command on its configuration, so each call
// gets its own.
func (cv *Converter) config() *model.Configuration {
	return model.NewDefaultConfiguration()
}

// documentDate stamps every rendered PDF so equal input gives equal bytes.
var documentDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

func newDocument() *fpdf.Fpdf {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCreationDate(documentDate)
	pdf.SetModificationDate(documentDate)
	pdf.SetAutoPageBreak(false, 0)
	return pdf
}

func conversionError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperr.ErrConversion, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Text
// ---------------------------------------------------------------------------

// WrapLines splits text into display lines. Line endings are normalized and
// any line longer than MaxLineRunes is wrapped at word boundaries. A single
// word longer than the limit is kept whole.
func WrapLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if utf8.RuneCountInString(line) <= MaxLineRunes {
			out = append(out, line)
			continue
		}
		out = append(out, strings.Split(wordwrap.WrapString(line, MaxLineRunes), "\n")...)
	}
	return out
}

// TextToPDF lays out UTF-8 text on A4 pages in 12pt Helvetica. Overflowing
// text continues on a new page.
func (cv *Converter) TextToPDF(data []byte) ([]byte, error) {
	if !utf8.Valid(data) {
		return nil, conversionError("text is not valid UTF-8")
	}

	pdf := newDocument()
	pdf.SetFont(fontFamily, "", fontSize)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	y := firstBaseline
	for _, line := range WrapLines(string(data)) {
		if y > pageHeight-bottomMargin {
			pdf.AddPage()
			y = firstBaseline
		}
		if line != "" {
			pdf.Text(marginLeft, y, tr(line))
		}
		y += leading
	}

	return output(pdf)
}

// ---------------------------------------------------------------------------
// Images
// ---------------------------------------------------------------------------

// ImageToPDF places one image on a single page sized to its pixel
// dimensions.
func (cv *Converter) ImageToPDF(data []byte) ([]byte, error) {
	return cv.MergeImagesToPDF([][]byte{data})
}

// MergeImagesToPDF produces one page per image, in input order, each page
// sized to its image.
func (cv *Converter) MergeImagesToPDF(images [][]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, conversionError("no images to convert")
	}

	pdf := newDocument()
	pdf.SetMargins(0, 0, 0)

	for i, data := range images {
		img, err := prepareImage(data)
		if err != nil {
			return nil, conversionError("image %d: %v", i+1, err)
		}
		name := fmt.Sprintf("image-%d", i)
		opts := fpdf.ImageOptions{ImageType: img.kind}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img.data))
		if pdf.Err() {
			return nil, conversionError("image %d: %v", i+1, pdf.Error())
		}

		w, h := float64(img.width), float64(img.height)
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
		pdf.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")
	}

	return output(pdf)
}

type preparedImage struct {
	kind          string
	data          []byte
	width, height int
}

// prepareImage decodes an image and returns bytes fpdf can embed. JPEGs are
// passed through; every other format is re-encoded as PNG.
func prepareImage(data []byte) (*preparedImage, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty image")
	}

	if format == "jpeg" {
		return &preparedImage{kind: "JPG", data: data, width: b.Dx(), height: b.Dy()}, nil
	}

	// Normalize to 8-bit NRGBA so 16-bit and paletted sources embed cleanly.
	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, nrgba); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return &preparedImage{kind: "PNG", data: buf.Bytes(), width: b.Dx(), height: b.Dy()}, nil
}

// ---------------------------------------------------------------------------
// PDF
// ---------------------------------------------------------------------------

// MergePDFs concatenates documents in input order. The result has as many
// pages as all inputs combined.
func (cv *Converter) MergePDFs(docs [][]byte) ([]byte, error) {
	switch len(docs) {
	case 0:
		return nil, conversionError("no documents to merge")
	case 1:
		if err := cv.Validate(docs[0]); err != nil {
			return nil, err
		}
		return append([]byte(nil), docs[0]...), nil
	}

	rsc := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		rsc[i] = bytes.NewReader(d)
	}
	var buf bytes.Buffer
	if err := api.MergeRaw(rsc, &buf, false, cv.config()); err != nil {
		return nil, conversionError("merge: %v", err)
	}
	return buf.Bytes(), nil
}

// Validate reports whether data parses as a PDF.
func (cv *Converter) Validate(data []byte) error {
	if err := api.Validate(bytes.NewReader(data), cv.config()); err != nil {
		return conversionError("invalid pdf: %v", err)
	}
	return nil
}

// PageCount returns the number of pages in a PDF.
func (cv *Converter) PageCount(data []byte) (int, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), cv.config())
	if err != nil {
		return 0, conversionError("read pdf: %v", err)
	}
	return ctx.PageCount, nil
}

func output(pdf *fpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, conversionError("render: %v", err)
	}
	return buf.Bytes(), nil
}

package pdfconv

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/medivault/medivault/internal/platform/apperr"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(w, h)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func gifBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, testImage(w, h), nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

func textPDF(t *testing.T, cv *Converter, text string) []byte {
	t.Helper()
	out, err := cv.TextToPDF([]byte(text))
	if err != nil {
		t.Fatalf("TextToPDF: %v", err)
	}
	return out
}

func pageDims(t *testing.T, data []byte) []types.Dim {
	t.Helper()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		t.Fatalf("read pdf: %v", err)
	}
	dims, err := ctx.PageDims()
	if err != nil {
		t.Fatalf("page dims: %v", err)
	}
	return dims
}

func assertDim(t *testing.T, got types.Dim, w, h float64) {
	t.Helper()
	if math.Abs(got.Width-w) > 0.5 || math.Abs(got.Height-h) > 0.5 {
		t.Errorf("page = %.2fx%.2f, want %.2fx%.2f", got.Width, got.Height, w, h)
	}
}

// ---------------------------------------------------------------------------
// Classify
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"report.pdf", KindPDF},
		{"REPORT.PDF", KindPDF},
		{"scan.jpg", KindImage},
		{"scan.JPEG", KindImage},
		{"scan.png", KindImage},
		{"scan.gif", KindImage},
		{"scan.bmp", KindImage},
		{"scan.tiff", KindImage},
		{"scan.tif", KindUnsupported},
		{"notes.txt", KindText},
		{"notes.text", KindText},
		{"virus.exe", KindUnsupported},
		{"README", KindUnsupported},
		{"archive.pdf.zip", KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.name); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	if got := Extension("Scan.JPG"); got != "jpg" {
		t.Errorf("Extension() = %q, want jpg", got)
	}
	if got := Extension("noext"); got != "" {
		t.Errorf("Extension() = %q, want empty", got)
	}
}

// ---------------------------------------------------------------------------
// Text
// ---------------------------------------------------------------------------

func TestWrapLines_LongLineWrapsAtWords(t *testing.T) {
	line := strings.Repeat("word ", 30) // 150 runes
	lines := WrapLines(line)
	if len(lines) < 2 {
		t.Fatalf("expected wrapped output, got %d line(s)", len(lines))
	}
	if lines[0] == "" {
		t.Error("wrapped output must not start with an empty line")
	}
	for i, l := range lines {
		if utf8.RuneCountInString(l) > MaxLineRunes {
			t.Errorf("line %d has %d runes", i, utf8.RuneCountInString(l))
		}
		if strings.Contains(l, "wor ") || strings.HasSuffix(l, "wo") {
			t.Errorf("line %d split mid-word: %q", i, l)
		}
	}
}

func TestWrapLines_KeepsLongWordWhole(t *testing.T) {
	word := strings.Repeat("x", 120)
	lines := WrapLines(word)
	if len(lines) != 1 || lines[0] != word {
		t.Errorf("expected single unbroken line, got %v", lines)
	}
}

func TestWrapLines_NormalizesLineEndings(t *testing.T) {
	lines := WrapLines("a\r\nb\rc\n")
	want := []string{"a", "b", "c", ""}
	if len(lines) != len(want) {
		t.Fatalf("got %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestTextToPDF_SinglePage(t *testing.T) {
	cv := NewConverter()
	out := textPDF(t, cv, "Patient: Jane Doe\nDiagnosis: mild fever\n")

	dims := pageDims(t, out)
	if len(dims) != 1 {
		t.Fatalf("expected 1 page, got %d", len(dims))
	}
	assertDim(t, dims[0], 595.28, 841.89)
}

func TestTextToPDF_OverflowAddsPage(t *testing.T) {
	cv := NewConverter()
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("line of clinical notes\n")
	}
	out := textPDF(t, cv, sb.String())

	n, err := cv.PageCount(out)
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pages, got %d", n)
	}
}

func TestTextToPDF_EmptyText(t *testing.T) {
	cv := NewConverter()
	out := textPDF(t, cv, "")
	n, err := cv.PageCount(out)
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 blank page, got %d", n)
	}
}

func TestTextToPDF_InvalidUTF8(t *testing.T) {
	cv := NewConverter()
	_, err := cv.TextToPDF([]byte{0xff, 0xfe, 0xfd})
	if !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Images
// ---------------------------------------------------------------------------

func TestImageToPDF_PageSizedToImage(t *testing.T) {
	cv := NewConverter()
	tests := []struct {
		name string
		data []byte
	}{
		{"png", pngBytes(t, 120, 80)},
		{"jpeg", jpegBytes(t, 120, 80)},
		{"gif", gifBytes(t, 120, 80)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := cv.ImageToPDF(tt.data)
			if err != nil {
				t.Fatalf("ImageToPDF: %v", err)
			}
			dims := pageDims(t, out)
			if len(dims) != 1 {
				t.Fatalf("expected 1 page, got %d", len(dims))
			}
			assertDim(t, dims[0], 120, 80)
		})
	}
}

func TestImageToPDF_CorruptImage(t *testing.T) {
	cv := NewConverter()
	_, err := cv.ImageToPDF([]byte("definitely not a png"))
	if !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestMergeImagesToPDF_OnePagePerImage(t *testing.T) {
	cv := NewConverter()
	out, err := cv.MergeImagesToPDF([][]byte{pngBytes(t, 50, 60), jpegBytes(t, 70, 30)})
	if err != nil {
		t.Fatalf("MergeImagesToPDF: %v", err)
	}
	dims := pageDims(t, out)
	if len(dims) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(dims))
	}
	assertDim(t, dims[0], 50, 60)
	assertDim(t, dims[1], 70, 30)
}

// ---------------------------------------------------------------------------
// PDF
// ---------------------------------------------------------------------------

func TestMergePDFs_SumsPages(t *testing.T) {
	cv := NewConverter()
	a := textPDF(t, cv, "first")
	b, err := cv.MergeImagesToPDF([][]byte{pngBytes(t, 10, 10), pngBytes(t, 20, 20)})
	if err != nil {
		t.Fatalf("MergeImagesToPDF: %v", err)
	}

	out, err := cv.MergePDFs([][]byte{a, b})
	if err != nil {
		t.Fatalf("MergePDFs: %v", err)
	}
	n, err := cv.PageCount(out)
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 pages, got %d", n)
	}
}

func TestMergePDFs_Empty(t *testing.T) {
	cv := NewConverter()
	if _, err := cv.MergePDFs(nil); !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestValidate_RejectsGarbage(t *testing.T) {
	cv := NewConverter()
	if err := cv.Validate([]byte("%PDF-1.4 garbage")); !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// MergeBatch
// ---------------------------------------------------------------------------

func TestMergeBatch_DocumentsThenImages(t *testing.T) {
	cv := NewConverter()
	// a.pdf has two pages of its own sizes so its position is observable.
	a, err := cv.MergeImagesToPDF([][]byte{pngBytes(t, 111, 222), pngBytes(t, 123, 321)})
	if err != nil {
		t.Fatalf("MergeImagesToPDF: %v", err)
	}
	files := []File{
		{Name: "a.pdf", Data: a},
		{Name: "b.png", Data: pngBytes(t, 100, 200)},
		{Name: "c.txt", Data: []byte("c")},
		{Name: "d.jpg", Data: jpegBytes(t, 300, 150)},
	}

	out, err := cv.MergeBatch(context.Background(), files)
	if err != nil {
		t.Fatalf("MergeBatch: %v", err)
	}

	dims := pageDims(t, out)
	if len(dims) != 5 {
		t.Fatalf("expected 5 pages, got %d", len(dims))
	}
	assertDim(t, dims[0], 111, 222)       // a.pdf page 1
	assertDim(t, dims[1], 123, 321)       // a.pdf page 2
	assertDim(t, dims[2], 595.28, 841.89) // c.txt
	assertDim(t, dims[3], 100, 200)       // b.png
	assertDim(t, dims[4], 300, 150)       // d.jpg
}

func TestMergeBatch_SinglePDFReturnedUnchanged(t *testing.T) {
	cv := NewConverter()
	in := textPDF(t, cv, "only document")

	out, err := cv.MergeBatch(context.Background(), []File{{Name: "only.pdf", Data: in}})
	if err != nil {
		t.Fatalf("MergeBatch: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("expected single PDF to be returned byte-identical")
	}
}

func TestMergeBatch_SingleConvertedFileMatchesDirectConversion(t *testing.T) {
	cv := NewConverter()
	text := []byte("Blood panel\nAll values within range")
	img := pngBytes(t, 64, 48)

	wantText, err := cv.TextToPDF(text)
	if err != nil {
		t.Fatalf("TextToPDF: %v", err)
	}
	wantImage, err := cv.ImageToPDF(img)
	if err != nil {
		t.Fatalf("ImageToPDF: %v", err)
	}

	// Cross a clock second so any time-dependent output would differ.
	time.Sleep(1100 * time.Millisecond)

	gotText, err := cv.MergeBatch(context.Background(), []File{{Name: "notes.txt", Data: text}})
	if err != nil {
		t.Fatalf("MergeBatch txt: %v", err)
	}
	if !bytes.Equal(gotText, wantText) {
		t.Error("single .txt batch differs from TextToPDF output")
	}

	gotImage, err := cv.MergeBatch(context.Background(), []File{{Name: "scan.png", Data: img}})
	if err != nil {
		t.Fatalf("MergeBatch png: %v", err)
	}
	if !bytes.Equal(gotImage, wantImage) {
		t.Error("single .png batch differs from ImageToPDF output")
	}
}

func TestMergeBatch_ImagesOnlyFormOneBlock(t *testing.T) {
	cv := NewConverter()
	files := []File{
		{Name: "1.png", Data: pngBytes(t, 40, 40)},
		{Name: "2.jpg", Data: jpegBytes(t, 60, 30)},
	}
	out, err := cv.MergeBatch(context.Background(), files)
	if err != nil {
		t.Fatalf("MergeBatch: %v", err)
	}
	dims := pageDims(t, out)
	if len(dims) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(dims))
	}
	assertDim(t, dims[0], 40, 40)
	assertDim(t, dims[1], 60, 30)
}

func TestMergeBatch_UnsupportedFailsWholeBatch(t *testing.T) {
	cv := NewConverter()
	files := []File{
		{Name: "a.txt", Data: []byte("fine")},
		{Name: "virus.exe", Data: []byte("MZ")},
	}
	_, err := cv.MergeBatch(context.Background(), files)
	if !errors.Is(err, apperr.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if !strings.Contains(err.Error(), "virus.exe") {
		t.Errorf("expected error to name the file, got %q", err.Error())
	}
}

func TestMergeBatch_Empty(t *testing.T) {
	cv := NewConverter()
	if _, err := cv.MergeBatch(context.Background(), nil); !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestConvert_DispatchesByKind(t *testing.T) {
	cv := NewConverter()
	pdf := textPDF(t, cv, "x")

	out, err := cv.Convert(File{Name: "x.pdf", Data: pdf})
	if err != nil {
		t.Fatalf("Convert pdf: %v", err)
	}
	if !bytes.Equal(out, pdf) {
		t.Error("expected PDF passthrough")
	}

	if _, err := cv.Convert(File{Name: "x.png", Data: pngBytes(t, 5, 5)}); err != nil {
		t.Fatalf("Convert png: %v", err)
	}
	if _, err := cv.Convert(File{Name: "x.docx", Data: []byte("PK")}); !errors.Is(err, apperr.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

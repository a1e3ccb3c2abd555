// Package pdfconv normalizes uploaded documents into PDF. It classifies
// files by name, renders text and images onto PDF pages, and merges PDFs.
package pdfconv

import (
	"path/filepath"
	"strings"
)

// Kind is the coarse category a file is dispatched on.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPDF
	KindImage
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindImage:
		return "image"
	case KindText:
		return "text"
	default:
		return "unsupported"
	}
}

var kindBySuffix = map[string]Kind{
	".pdf":  KindPDF,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".bmp":  KindImage,
	".tiff": KindImage,
	".txt":  KindText,
	".text": KindText,
}

// Classify maps a filename to its Kind by case-insensitive suffix. Content
// is never inspected.
func Classify(filename string) Kind {
	return kindBySuffix[strings.ToLower(filepath.Ext(filename))]
}

// Extension returns the lower-cased extension of filename without the dot.
func Extension(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

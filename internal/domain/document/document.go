// Package document detects input formats, extracts plain text and splits it
// into synthesis-sized chunks.
package document

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"readaloud/internal/apperr"
)

type Format string

const (
	FormatTXT  Format = "txt"
	FormatMD   Format = "md"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatEPUB Format = "epub"
	// FormatMOBI is recognized so it can be rejected with a clear message.
	FormatMOBI Format = "mobi"
)

var extensions = map[string]Format{
	".txt":      FormatTXT,
	".text":     FormatTXT,
	".md":       FormatMD,
	".markdown": FormatMD,
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".epub":     FormatEPUB,
	".mobi":     FormatMOBI,
	".azw":      FormatMOBI,
	".azw3":     FormatMOBI,
}

// SupportedFormats lists the formats Extract can read.
func SupportedFormats() []Format {
	return []Format{FormatTXT, FormatMD, FormatPDF, FormatDOCX, FormatEPUB}
}

// Document is the extracted text of one input file.
type Document struct {
	Path   string
	Format Format
	Text   string
	Pages  int
}

// Detect works out a file's format from its extension, falling back to its
// leading bytes. Unknown binary content is a VALIDATION error.
func Detect(path string) (Format, error) {
	if f, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return f, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", apperr.Validation("cannot open %s: %v", path, err)
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", apperr.Validation("cannot read %s: %v", path, err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return FormatPDF, nil
	case len(head) >= 68 && string(head[60:68]) == "BOOKMOBI":
		return FormatMOBI, nil
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return detectZip(path)
	case len(head) > 0 && utf8.Valid(trimPartialRune(head)) && !bytes.ContainsRune(head, 0):
		return FormatTXT, nil
	}
	return "", apperr.Validation("unsupported document format: %s", path)
}

func detectZip(path string) (Format, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", apperr.Validation("unsupported document format: %s", path)
	}
	defer zr.Close()

	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			return FormatDOCX, nil
		case "META-INF/container.xml":
			return FormatEPUB, nil
		}
	}
	return "", apperr.Validation("unsupported document format: %s", path)
}

// trimPartialRune drops a UTF-8 sequence cut off by the sniff window.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size > 1 {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

// Scan lists the readable documents directly inside dir, sorted by name.
// Subdirectories and unknown extensions are skipped.
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperr.Validation("cannot read directory %s: %v", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, ok := extensions[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok || f == FormatMOBI {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

package document

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"readaloud/internal/apperr"

	"github.com/ledongthuc/pdf"
	"github.com/sirupsen/logrus"
)

// Extractor turns documents into plain text.
type Extractor struct {
	log logrus.FieldLogger
}

func NewExtractor(log logrus.FieldLogger) *Extractor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{log: log.WithField("component", "document")}
}

// Extract detects the format of path and returns its text. Unreadable or
// unsupported input is a VALIDATION error.
func (e *Extractor) Extract(path string) (*Document, error) {
	format, err := Detect(path)
	if err != nil {
		return nil, err
	}
	if format == FormatMOBI {
		return nil, apperr.Validation("no reader available for mobi documents: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Validation("cannot read %s: %v", path, err)
	}

	doc := &Document{Path: path, Format: format, Pages: 1}
	switch format {
	case FormatTXT:
		doc.Text = string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	case FormatMD:
		doc.Text = markdownText(data)
	case FormatPDF:
		doc.Text, doc.Pages, err = e.extractPDF(data)
	case FormatDOCX:
		doc.Text, err = extractDOCX(data)
	case FormatEPUB:
		doc.Text, doc.Pages, err = extractEPUB(data)
	}
	if err != nil {
		return nil, apperr.Validation("cannot extract text from %s: %v", path, err)
	}

	doc.Text = strings.TrimSpace(doc.Text)
	if doc.Text == "" {
		return nil, apperr.Validation("no text found in %s", path)
	}

	e.log.WithFields(logrus.Fields{
		"path":   path,
		"format": format,
		"pages":  doc.Pages,
		"chars":  len([]rune(doc.Text)),
	}).Debug("Extracted document text")
	return doc, nil
}

func (e *Extractor) extractPDF(data []byte) (text string, pages int, err error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := pageText(page)
		if err != nil {
			e.log.WithError(err).WithField("page", i).Warn("Skipping unreadable PDF page")
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	return buf.String(), numPages, nil
}

// pageText recovers from the panics the PDF content parser raises on
// malformed streams.
func pageText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}

package pdfextract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"pdfchat/internal/model"
)

// ExtractPages reads the entire content of r and returns one Page per PDF
// page that has extractable text. Page numbers are 0-based; pages without
// text are skipped, so the numbering need not be contiguous.
func ExtractPages(r io.Reader) ([]model.Page, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf failed: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("pdf is empty")
	}

	reader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}

	var pages []model.Page
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// A single undecodable page should not sink the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, model.Page{Number: i - 1, Text: text})
	}
	return pages, nil
}

// ExtractText returns the concatenated plain text of the whole document.
// Empty string with nil error means the PDF has no extractable text.
func ExtractText(r io.Reader) (string, error) {
	pages, err := ExtractPages(r)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, p := range pages {
		sb.WriteString(p.Text)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

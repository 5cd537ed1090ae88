package parsers

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/manifold-chat/core/internal/apperr"
)

// pdfParser extracts plain text page by page. Grounded on
// pkg/shuttle/builtin/document_parse.go's use of ledongthuc/pdf.
type pdfParser struct{}

func newPDFParser() *pdfParser { return &pdfParser{} }

func (p *pdfParser) Name() string { return "pdf" }

func (p *pdfParser) Extensions() []string { return []string{".pdf"} }

const maxPDFPages = 500

func (p *pdfParser) Parse(data []byte, filename string) (string, Metadata, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "encrypt") {
			return "", nil, apperr.New(apperr.ParseFailed, "encrypted")
		}
		return "", nil, apperr.Wrap(apperr.ParseFailed, "open pdf", err)
	}

	totalPages := reader.NumPage()
	pagesToRead := totalPages
	if pagesToRead > maxPDFPages {
		pagesToRead = maxPDFPages
	}

	var sb strings.Builder
	extractedPages := 0
	for i := 1; i <= pagesToRead; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text != "" {
			sb.WriteString(text)
			sb.WriteByte('\n')
			extractedPages++
		}
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", nil, apperr.New(apperr.ParseFailed, "no extractable text (scanned or image-only pdf?)")
	}
	return text, Metadata{"page_count": totalPages, "pages_extracted": extractedPages}, nil
}

package parsers

import (
	"strings"
	"unicode/utf8"

	"github.com/manifold-chat/core/internal/apperr"
)

// plainTextParser handles raw text and lightly-structured text formats
// (markdown, source code, CSV) where the bytes already are the content.
type plainTextParser struct{}

func newPlainTextParser() *plainTextParser { return &plainTextParser{} }

func (p *plainTextParser) Name() string { return "plain_text" }

func (p *plainTextParser) Extensions() []string {
	return []string{".txt", ".md", ".markdown", ".csv", ".json", ".yaml", ".yml", ".log", ".go", ".py", ".js", ".ts"}
}

func (p *plainTextParser) Parse(data []byte, filename string) (string, Metadata, error) {
	if !utf8.Valid(data) {
		return "", nil, apperr.New(apperr.ParseFailed, "not valid utf-8 text")
	}
	text := strings.TrimRight(string(data), "\x00")
	if strings.TrimSpace(text) == "" {
		return "", nil, apperr.New(apperr.ParseFailed, "empty text content")
	}
	return text, Metadata{}, nil
}

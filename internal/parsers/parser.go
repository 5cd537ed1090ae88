// Package parsers implements C3: format-dispatched synchronous document
// parsers run in a bounded worker pool, producing plain text + metadata for
// the ingestion pipeline.
package parsers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/manifold-chat/core/internal/apperr"
)

// Metadata carries at minimum {filename, file_extension, parser_name,
// text_length, line_count} plus any format-specific fields.
type Metadata map[string]any

// Parser implements parse_sync(bytes, filename) -> (text, metadata) | Error.
type Parser interface {
	// Name identifies the parser for the parser_name metadata field.
	Name() string
	// Extensions lists the lowercase, dot-prefixed extensions this parser
	// claims in the factory's dispatch table.
	Extensions() []string
	// Parse extracts plain text and metadata from raw bytes. Implementations
	// may try several internal strategies in order and return the first
	// that yields non-empty text.
	Parse(data []byte, filename string) (string, Metadata, error)
}

// Factory dispatches by filename extension to a registered Parser.
type Factory struct {
	byExt map[string]Parser
}

func NewFactory() *Factory {
	f := &Factory{byExt: make(map[string]Parser)}
	f.register(newPlainTextParser())
	f.register(newWordParser())
	f.register(newPDFParser())
	f.register(newSpreadsheetParser())
	return f
}

func (f *Factory) register(p Parser) {
	for _, ext := range p.Extensions() {
		f.byExt[ext] = p
	}
}

// ParseSync dispatches filename's extension to its registered parser.
func (f *Factory) ParseSync(data []byte, filename string) (string, Metadata, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	p, ok := f.byExt[ext]
	if !ok {
		return "", nil, apperr.New(apperr.UnsupportedFormat, fmt.Sprintf("unsupported file extension %q", ext))
	}
	if len(data) == 0 {
		return "", nil, apperr.New(apperr.ParseFailed, "empty input")
	}

	text, meta, err := p.Parse(data, filename)
	if err != nil {
		return "", nil, err
	}
	if meta == nil {
		meta = Metadata{}
	}
	meta["filename"] = filename
	meta["file_extension"] = ext
	meta["parser_name"] = p.Name()
	meta["text_length"] = len(text)
	meta["line_count"] = strings.Count(text, "\n") + 1
	return text, meta, nil
}

// Pool bounds how many parses run concurrently (<=4, per §4.3) so a burst
// of uploads cannot exhaust CPU.
type Pool struct {
	factory *Factory
	sem     chan struct{}
}

func NewPool(factory *Factory, size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{factory: factory, sem: make(chan struct{}, size)}
}

type Result struct {
	Text     string
	Metadata Metadata
	Err      error
}

// Submit runs data/filename through the factory, blocking until a worker
// slot is free or ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, data []byte, filename string) Result {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{Err: apperr.Wrap(apperr.Cancelled, "parse pool wait", ctx.Err())}
	}
	defer func() { <-p.sem }()

	text, meta, err := p.factory.ParseSync(data, filename)
	return Result{Text: text, Metadata: meta, Err: err}
}

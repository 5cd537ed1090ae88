// Package chunking implements the first step of C4: splitting parsed
// document text into chunks ready for embedding.
package chunking

import (
	"strings"

	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/textsplitters"
)

// Chunk is a single span of source text, pre-embedding and pre-ID.
type Chunk struct {
	Text  string
	Index int
}

// Splitter turns one document's text into an ordered list of chunks.
type Splitter interface {
	Split(text string) []Chunk
}

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Build selects the configured splitting strategy. "smart" defers to the
// general-purpose textsplitters package (its recursive heading/paragraph/
// sentence cascade); anything else — including the empty default — uses
// the authoritative recursive character splitter with the KB's configured
// chunk_size/chunk_overlap/separators, matching a LangChain-style
// RecursiveCharacterTextSplitter.
func Build(spec model.ChunkingSpec) Splitter {
	if spec.Strategy == "smart" {
		return &smartSplitter{cfg: spec}
	}
	seps := spec.Separators
	if len(seps) == 0 {
		seps = defaultSeparators
	}
	size := spec.ChunkSize
	if size <= 0 {
		size = 1000
	}
	overlap := spec.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &recursiveCharacterSplitter{chunkSize: size, overlap: overlap, separators: seps}
}

// recursiveCharacterSplitter implements the ordered-separator-ladder
// strategy: try splitting on the first separator, recurse into any
// resulting span still larger than chunkSize using the remaining
// separators, and as a last resort cut every chunkSize runes. Adjacent
// chunks are then merged up to chunkSize and re-windowed with overlap.
type recursiveCharacterSplitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

func (s *recursiveCharacterSplitter) Split(text string) []Chunk {
	pieces := s.splitText(text, s.separators)
	merged := s.mergeWithOverlap(pieces)

	out := make([]Chunk, 0, len(merged))
	idx := 0
	for _, m := range merged {
		if strings.TrimSpace(m) == "" {
			continue
		}
		out = append(out, Chunk{Text: m, Index: idx})
		idx++
	}
	return out
}

func (s *recursiveCharacterSplitter) splitText(text string, separators []string) []string {
	if len([]rune(text)) <= s.chunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return s.splitFixed(text)
	}

	sep := separators[0]
	rest := separators[1:]

	var parts []string
	if sep == "" {
		parts = s.splitFixed(text)
	} else {
		parts = strings.Split(text, sep)
		for i := range parts {
			if i < len(parts)-1 {
				parts[i] += sep
			}
		}
	}

	var out []string
	for _, p := range parts {
		if len([]rune(p)) > s.chunkSize {
			out = append(out, s.splitText(p, rest)...)
		} else if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *recursiveCharacterSplitter) splitFixed(text string) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += s.chunkSize {
		end := i + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// mergeWithOverlap packs consecutive pieces into windows close to
// chunkSize, carrying the configured overlap of trailing runes forward
// into the next window so adjacent chunks share context.
func (s *recursiveCharacterSplitter) mergeWithOverlap(pieces []string) []string {
	if len(pieces) == 0 {
		return nil
	}
	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
		}
	}

	for _, p := range pieces {
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(p)) > s.chunkSize {
			flush()
			if s.overlap > 0 {
				tail := lastRunes(current.String(), s.overlap)
				current.Reset()
				current.WriteString(tail)
			} else {
				current.Reset()
			}
		}
		current.WriteString(p)
	}
	flush()
	return out
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// smartSplitter adapts the general-purpose textsplitters package's
// recursive heading/paragraph/sentence/fixed cascade as the overridable
// "smart chunking" strategy.
type smartSplitter struct {
	cfg model.ChunkingSpec
}

func (s *smartSplitter) Split(text string) []Chunk {
	size := s.cfg.ChunkSize
	if size <= 0 {
		size = 1000
	}
	splitter, err := textsplitters.NewFromConfig(textsplitters.Config{
		Kind: textsplitters.KindRecursive,
		Recursive: textsplitters.RecursiveConfig{
			Markdown:   textsplitters.MarkdownConfig{},
			Paragraphs: textsplitters.BoundaryConfig{Size: size},
			Sentences:  textsplitters.BoundaryConfig{Size: size},
			Fallback:   textsplitters.FixedConfig{Size: size, Overlap: s.cfg.Overlap},
		},
	})
	if err != nil {
		return (&recursiveCharacterSplitter{chunkSize: size, overlap: s.cfg.Overlap, separators: defaultSeparators}).Split(text)
	}
	texts := splitter.Split(text)
	out := make([]Chunk, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		out = append(out, Chunk{Text: t, Index: i})
	}
	return out
}

package textsplitters

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// BoundaryConfig controls the sentence and paragraph splitters, and the
// within-section grouping markdownSplitter applies after it cuts at
// headings.
type BoundaryConfig struct {
	Unit      Unit      // chars or tokens for target size
	Size      int       // target size; if <=0 default to 500
	Overlap   int       // optional overlap in same unit (best-effort)
	Tokenizer Tokenizer // used when Unit==tokens
}

var sentRe = regexp.MustCompile(`(?s)([^\.!?]+[\.!?]+|[^\.!?]+$)`) // naive sentence finder

func sentencesOf(text string) []string {
	parts := sentRe.FindAllString(strings.TrimSpace(text), -1)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func paragraphsOf(text string) []string {
	raw := regexp.MustCompile(`\n\s*\n+`).Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func measure(text string, unit Unit, tok Tokenizer) int {
	if unit == UnitTokens {
		if tok == nil {
			tok = WhitespaceTokenizer{}
		}
		return len(tok.Tokenize(text))
	}
	return utf8.RuneCountInString(text)
}

func clipOverlapTail(chunk string, want int, unit Unit, tok Tokenizer) string {
	if want <= 0 || chunk == "" {
		return ""
	}
	if unit == UnitTokens {
		if tok == nil {
			tok = WhitespaceTokenizer{}
		}
		toks := tok.Tokenize(chunk)
		if want >= len(toks) {
			return chunk
		}
		return tok.Detokenize(toks[len(toks)-want:])
	}
	n := utf8.RuneCountInString(chunk)
	if want >= n {
		return chunk
	}
	idxs := make([]int, 0, n+1)
	idxs = append(idxs, 0)
	for i := 0; i < len(chunk); {
		_, w := utf8.DecodeRuneInString(chunk[i:])
		i += w
		idxs = append(idxs, i)
	}
	start := idxs[n-want]
	return chunk[start:]
}

// groupByTarget packs units (sentences, paragraphs, markdown sections) into
// windows close to the configured target size, carrying the configured
// overlap forward the same way chunking.recursiveCharacterSplitter does for
// the non-smart strategy.
func groupByTarget(units []string, cfg BoundaryConfig) []string {
	size := cfg.Size
	if size <= 0 {
		size = 500
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	var tok Tokenizer
	if cfg.Unit == UnitTokens {
		tok = cfg.Tokenizer
		if tok == nil {
			tok = WhitespaceTokenizer{}
		}
	}

	var chunks []string
	var cur strings.Builder
	var tail string
	for i, u := range units {
		if u == "" {
			continue
		}
		candidate := u
		if cur.Len() > 0 {
			candidate = cur.String() + "\n" + u
		}
		m := measure(candidate, cfg.Unit, tok)
		if m <= size || cur.Len() == 0 {
			if cur.Len() > 0 {
				cur.WriteString("\n")
			}
			cur.WriteString(u)
			if i == len(units)-1 {
				if s := cur.String(); s != "" {
					chunks = append(chunks, s)
				}
			}
			continue
		}
		if s := cur.String(); s != "" {
			chunks = append(chunks, s)
		}
		tail = clipOverlapTail(cur.String(), cfg.Overlap, cfg.Unit, tok)
		cur.Reset()
		if tail != "" {
			cur.WriteString(tail)
			cur.WriteString("\n")
		}
		cur.WriteString(u)
		if i == len(units)-1 {
			if s := cur.String(); s != "" {
				chunks = append(chunks, s)
			}
		}
	}
	if len(units) == 0 {
		return nil
	}
	return chunks
}

// boundarySplitter groups text into windows along sentence or paragraph
// boundaries. The "hybrid" mode — paragraphs that fall back to sentences
// once a paragraph grows past twice the target size — is not exposed as a
// Kind; markdownSplitter uses it internally to group each heading's body.
type boundarySplitter struct {
	mode string // "sent"|"para"|"hybrid"
	cfg  BoundaryConfig
}

func newSentenceSplitter(cfg BoundaryConfig) (Splitter, error) {
	return &boundarySplitter{mode: "sent", cfg: cfg}, nil
}

func newParagraphSplitter(cfg BoundaryConfig) (Splitter, error) {
	return &boundarySplitter{mode: "para", cfg: cfg}, nil
}

func (s *boundarySplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var units []string
	switch s.mode {
	case "para":
		units = paragraphsOf(text)
	case "hybrid":
		paras := paragraphsOf(text)
		for _, p := range paras {
			if s.cfg.Size > 0 && measure(p, s.cfg.Unit, s.cfg.Tokenizer) > s.cfg.Size*2 {
				units = append(units, sentencesOf(p)...)
			} else {
				units = append(units, p)
			}
		}
	default:
		units = sentencesOf(text)
	}
	return groupByTarget(units, s.cfg)
}

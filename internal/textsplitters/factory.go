package textsplitters

import "fmt"

// Kind identifies one stage of the splitting cascade.
type Kind string

const (
	// KindFixed selects the fixed-length splitter, the cascade's last resort.
	KindFixed Kind = "fixed"
	// KindSentences groups along sentence boundaries up to a target size.
	KindSentences Kind = "sentences"
	// KindParagraphs groups along paragraph boundaries up to a target size.
	KindParagraphs Kind = "paragraphs"
	// KindMarkdown splits by Markdown headings, then groups within sections.
	KindMarkdown Kind = "markdown"
	// KindRecursive runs the full cascade: headings -> paragraphs -> sentences -> fixed.
	KindRecursive Kind = "recursive"
)

// Unit indicates what a splitter measures when comparing text against a
// configured target size.
type Unit string

const (
	// UnitChars measures Unicode characters (runes).
	UnitChars Unit = "chars"
	// UnitTokens measures tokens, as defined by a Tokenizer implementation.
	UnitTokens Unit = "tokens"
)

// Config selects and configures one splitter. Kind picks the strategy; only
// the matching sub-config need be populated.
type Config struct {
	Kind      Kind
	Fixed     FixedConfig
	Boundary  BoundaryConfig
	Markdown  MarkdownConfig
	Recursive RecursiveConfig
}

// NewFromConfig constructs a Splitter from a Config.
func NewFromConfig(c Config) (Splitter, error) {
	switch c.Kind {
	case KindFixed:
		return newFixedSplitter(c.Fixed)
	case KindSentences:
		return newSentenceSplitter(c.Boundary)
	case KindParagraphs:
		return newParagraphSplitter(c.Boundary)
	case KindMarkdown:
		return newMarkdownSplitter(c.Markdown)
	case KindRecursive:
		return newRecursiveSplitter(c.Recursive)
	default:
		return nil, fmt.Errorf("unknown splitter kind: %q", c.Kind)
	}
}

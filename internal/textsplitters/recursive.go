package textsplitters

// RecursiveConfig layers the cascade chunking.Build's "smart" strategy
// runs: Markdown headings, then paragraphs, then sentences, with Fallback
// as the last-resort fixed-length cut for anything still too large.
type RecursiveConfig struct {
	Markdown   MarkdownConfig
	Paragraphs BoundaryConfig
	Sentences  BoundaryConfig
	Fallback   FixedConfig
}

type recursiveSplitter struct{ cfg RecursiveConfig }

func newRecursiveSplitter(cfg RecursiveConfig) (Splitter, error) {
	return &recursiveSplitter{cfg: cfg}, nil
}

// Split runs the four-stage cascade section by section: a span that
// survives one stage unchanged (a single sentence with no paragraph
// breaks, say) just passes through to the next.
func (r *recursiveSplitter) Split(text string) []string {
	md, _ := newMarkdownSplitter(r.cfg.Markdown)
	sections := md.Split(text)
	if len(sections) == 0 {
		sections = []string{text}
	}

	var out []string
	for _, sec := range sections {
		if sec == "" {
			continue
		}
		p, _ := newParagraphSplitter(r.cfg.Paragraphs)
		paragraphs := p.Split(sec)
		if len(paragraphs) == 0 {
			paragraphs = []string{sec}
		}
		for _, para := range paragraphs {
			s, _ := newSentenceSplitter(r.cfg.Sentences)
			sentences := s.Split(para)
			if len(sentences) == 0 {
				sentences = []string{para}
			}
			for _, sent := range sentences {
				if r.cfg.Fallback.Size > 0 {
					fx, _ := newFixedSplitter(r.cfg.Fallback)
					out = append(out, fx.Split(sent)...)
				} else {
					out = append(out, sent)
				}
			}
		}
	}
	return out
}

// Package textsplitters implements the heading/paragraph/sentence/fixed
// splitting cascade behind chunking.Build's "smart" strategy.
//
// The cascade is recursive: a document is first cut at Markdown headings,
// each section is then grouped into paragraph-sized spans, those are
// grouped again at sentence boundaries, and anything still oversized falls
// back to a fixed-length cut. Each stage is independently usable via
// NewFromConfig for callers that want a single strategy rather than the
// full cascade.
package textsplitters

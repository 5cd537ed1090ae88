package textsplitters

// Splitter splits one document's text into chunk-sized spans for
// embedding. Implementations must be safe to reuse across documents.
type Splitter interface {
	// Split yields non-empty spans for the input text, in document order.
	Split(text string) []string
}

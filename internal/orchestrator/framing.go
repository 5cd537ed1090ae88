package orchestrator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Tag identifies an auxiliary, sentinel-framed event on the outgoing
// stream. Content deltas carry no tag — they are forwarded verbatim.
type Tag string

const (
	TagToolStatus  Tag = "TOOL_STATUS"
	TagReferences  Tag = "REFERENCES"
	TagGraphData   Tag = "GRAPH_DATA"
)

const (
	framePrefix = "__"
	frameInfix  = "__"
	frameSuffix = "__END__"
)

// encodeFrame renders one auxiliary event as a single sentinel-delimited
// line: __TAG__<json>__END__. A naive client that only looks for plain text
// and strips these lines still reconstructs a sensible answer body.
func encodeFrame(tag Tag, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s frame: %w", tag, err)
	}
	return framePrefix + string(tag) + frameInfix + string(b) + frameSuffix, nil
}

// ToolStatusEvent reports a tool call's lifecycle on the side channel.
type ToolStatusEvent struct {
	ToolName string `json:"tool_name"`
	Status   string `json:"status"` // "started" | "succeeded" | "failed"
	Detail   string `json:"detail,omitempty"`
}

// ReferencesEvent carries newly minted citation pairs this step.
type ReferencesEvent struct {
	References []referencePair `json:"references"`
}

type referencePair struct {
	RefMarker int    `json:"ref_marker"`
	RefID     string `json:"ref_id"`
	Lean      any    `json:"lean"`
	Rich      any    `json:"rich"`
}

// GraphDataEvent records a graph-search tool's session id for later
// visualization extraction.
type GraphDataEvent struct {
	SessionIDs []string `json:"session_ids"`
}

// frameReader is the receiver-side counterpart: a small state machine that
// recognizes complete __TAG__...__END__ lines amid plain content, splitting
// each read chunk into (plain text, tag, json) triples.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &frameReader{scanner: s}
}

// DecodedFrame is either a plain-text line (Tag == "") or a recognized
// auxiliary event.
type DecodedFrame struct {
	Tag     Tag
	Payload string
	Text    string
}

func (f *frameReader) Next() (DecodedFrame, bool) {
	if !f.scanner.Scan() {
		return DecodedFrame{}, false
	}
	line := f.scanner.Text()
	if !strings.HasPrefix(line, framePrefix) || !strings.HasSuffix(line, frameSuffix) {
		return DecodedFrame{Text: line}, true
	}
	body := strings.TrimPrefix(line, framePrefix)
	body = strings.TrimSuffix(body, frameSuffix)
	idx := strings.Index(body, frameInfix)
	if idx < 0 {
		return DecodedFrame{Text: line}, true
	}
	tag := Tag(body[:idx])
	payload := body[idx+len(frameInfix):]
	return DecodedFrame{Tag: tag, Payload: payload}, true
}

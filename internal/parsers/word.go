package parsers

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/richardlehane/mscfb"

	"github.com/manifold-chat/core/internal/apperr"
)

// wordParser handles the Word family: .docx (OOXML, a zip of XML parts) via
// the standard library's archive/zip + encoding/xml, and legacy .doc
// (an OLE2 compound file) via mscfb, the same compound-file reader
// excelize pulls in transitively for legacy .xls support. Neither format
// has a dedicated text-extraction library anywhere in the example pack, so
// .docx is handled directly against its documented XML schema rather than
// reaching for an out-of-pack dependency.
type wordParser struct{}

func newWordParser() *wordParser { return &wordParser{} }

func (p *wordParser) Name() string { return "word" }

func (p *wordParser) Extensions() []string { return []string{".docx", ".doc"} }

func (p *wordParser) Parse(data []byte, filename string) (string, Metadata, error) {
	if strings.HasSuffix(strings.ToLower(filename), ".docx") {
		return p.parseDocx(data)
	}
	return p.parseLegacyDoc(data)
}

type wordParagraph struct {
	Runs []wordRun `xml:"r"`
}

type wordRun struct {
	Text string `xml:"t"`
}

type wordDocumentXML struct {
	Body struct {
		Paragraphs []wordParagraph `xml:"p"`
	} `xml:"body"`
}

func (p *wordParser) parseDocx(data []byte) (string, Metadata, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, apperr.Wrap(apperr.ParseFailed, "docx is not a valid zip archive", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return "", nil, apperr.Wrap(apperr.ParseFailed, "open word/document.xml", err)
			}
			docXML, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return "", nil, apperr.Wrap(apperr.ParseFailed, "read word/document.xml", err)
			}
			break
		}
	}
	if docXML == nil {
		return "", nil, apperr.New(apperr.ParseFailed, "docx missing word/document.xml")
	}

	var doc wordDocumentXML
	if err := xml.Unmarshal(docXML, &doc); err != nil {
		return "", nil, apperr.Wrap(apperr.ParseFailed, "parse document.xml", err)
	}

	var sb strings.Builder
	paraCount := 0
	for _, para := range doc.Body.Paragraphs {
		var paraText strings.Builder
		for _, r := range para.Runs {
			paraText.WriteString(r.Text)
		}
		if paraText.Len() > 0 {
			sb.WriteString(paraText.String())
			sb.WriteByte('\n')
			paraCount++
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", nil, apperr.New(apperr.ParseFailed, "no text content extracted from docx")
	}
	return text, Metadata{"paragraph_count": paraCount}, nil
}

var printableRun = regexp.MustCompile(`[\x20-\x7e]{4,}`)

// parseLegacyDoc walks the compound file's streams and pulls out runs of
// printable ASCII as a best-effort text approximation; legacy binary .doc
// interleaves text with formatting tables that aren't worth fully decoding
// for this pipeline's purposes.
func (p *wordParser) parseLegacyDoc(data []byte) (string, Metadata, error) {
	reader, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return "", nil, apperr.Wrap(apperr.ParseFailed, "doc is not a valid compound file", err)
	}

	var sb strings.Builder
	streamCount := 0
	for entry, err := reader.Next(); err == nil; entry, err = reader.Next() {
		if entry.Name != "WordDocument" {
			continue
		}
		streamCount++
		buf := make([]byte, entry.Size)
		if _, err := io.ReadFull(reader, buf); err != nil {
			continue
		}
		for _, m := range printableRun.FindAll(buf, -1) {
			sb.Write(m)
			sb.WriteByte('\n')
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", nil, apperr.New(apperr.ParseFailed, fmt.Sprintf("no extractable text in legacy doc (%d streams scanned)", streamCount))
	}
	return text, Metadata{"legacy_format": true}, nil
}

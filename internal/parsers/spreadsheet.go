package parsers

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/manifold-chat/core/internal/apperr"
)

// spreadsheetParser renders every sheet of an .xlsx workbook as
// pipe-delimited rows of plain text. Grounded on
// pkg/shuttle/builtin/document_parse.go's use of xuri/excelize.
type spreadsheetParser struct{}

func newSpreadsheetParser() *spreadsheetParser { return &spreadsheetParser{} }

func (p *spreadsheetParser) Name() string { return "spreadsheet" }

func (p *spreadsheetParser) Extensions() []string { return []string{".xlsx"} }

func (p *spreadsheetParser) Parse(data []byte, filename string) (string, Metadata, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, apperr.Wrap(apperr.ParseFailed, "open xlsx", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var sb strings.Builder
	tableCount := 0
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		tableCount++
		sb.WriteString(fmt.Sprintf("# %s\n", sheet))
		for _, row := range rows {
			sb.WriteString(strings.Join(row, " | "))
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", nil, apperr.New(apperr.ParseFailed, "workbook has no non-empty sheets")
	}
	return text, Metadata{"sheet_count": len(sheets), "table_count": tableCount}, nil
}

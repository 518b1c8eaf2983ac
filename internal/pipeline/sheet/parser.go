package sheet

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"grist/internal/pipeline"
	"grist/internal/services"
)

// Parser normalizes spreadsheet bytes into sheets of column-keyed rows.
// xlsx workbooks are read with excelize; csv files become a single sheet.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(ctx context.Context, filename string, r io.Reader) (*pipeline.ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".xlsx", ".xlsm":
		return p.parseWorkbook(ctx, filename, r)
	case ".csv":
		return p.parseCSV(filename, r)
	default:
		return nil, services.Wrap(services.ErrPermanent, "parse", "unsupported_format",
			fmt.Sprintf("no parser for %q files", ext), nil)
	}
}

func (p *Parser) parseWorkbook(ctx context.Context, filename string, r io.Reader) (*pipeline.ParsedDocument, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "parse", "corrupt_file", "workbook could not be opened", err)
	}
	defer book.Close()

	doc := &pipeline.ParsedDocument{Filename: filename, Format: "xlsx"}
	for _, name := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := book.GetRows(name)
		if err != nil {
			return nil, services.Wrap(services.ErrPermanent, "parse", "corrupt_file",
				fmt.Sprintf("sheet %q could not be read", name), err)
		}
		sheet := buildSheet(name, rows)
		if len(sheet.Rows) == 0 {
			continue
		}
		doc.Sheets = append(doc.Sheets, sheet)
	}
	return doc, nil
}

func (p *Parser) parseCSV(filename string, r io.Reader) (*pipeline.ParsedDocument, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "parse", "corrupt_file", "csv could not be read", err)
	}
	doc := &pipeline.ParsedDocument{Filename: filename, Format: "csv"}
	sheet := buildSheet("Sheet1", records)
	if len(sheet.Rows) > 0 {
		doc.Sheets = append(doc.Sheets, sheet)
	}
	return doc, nil
}

// buildSheet treats the first row as the header and the rest as records.
// Blank header cells get positional names; fully blank rows are dropped.
func buildSheet(name string, rows [][]string) pipeline.Sheet {
	sheet := pipeline.Sheet{Name: name}
	if len(rows) == 0 {
		return sheet
	}
	header := rows[0]
	columns := make([]string, len(header))
	for i, cell := range header {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			cell = fmt.Sprintf("column_%d", i+1)
		}
		columns[i] = cell
	}
	sheet.Columns = columns

	for _, row := range rows[1:] {
		record := make(map[string]any, len(columns))
		empty := true
		for i, column := range columns {
			value := ""
			if i < len(row) {
				value = strings.TrimSpace(row[i])
			}
			if value != "" {
				empty = false
			}
			record[column] = value
		}
		if empty {
			continue
		}
		sheet.Rows = append(sheet.Rows, record)
	}
	return sheet
}

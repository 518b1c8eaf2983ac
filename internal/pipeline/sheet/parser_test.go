package sheet

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"grist/internal/services"
)

func workbookFixture(t *testing.T) *bytes.Buffer {
	t.Helper()
	book := excelize.NewFile()
	defer book.Close()

	for cell, value := range map[string]any{
		"A1": "invoice_number", "B1": "amount", "C1": "",
		"A2": "INV-001", "B2": 120.50, "C2": "net 30",
		"A3": "INV-002", "B3": 75,
	} {
		if err := book.SetCellValue("Sheet1", cell, value); err != nil {
			t.Fatalf("SetCellValue: %v", err)
		}
	}
	if _, err := book.NewSheet("Empty"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}

	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf
}

func TestParseWorkbook(t *testing.T) {
	doc, err := NewParser().Parse(context.Background(), "invoices.xlsx", workbookFixture(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Format != "xlsx" {
		t.Fatalf("format = %q", doc.Format)
	}
	if len(doc.Sheets) != 1 {
		t.Fatalf("expected the empty sheet to be dropped, got %d sheets", len(doc.Sheets))
	}
	sheet := doc.Sheets[0]
	if sheet.Name != "Sheet1" {
		t.Fatalf("sheet name = %q", sheet.Name)
	}
	if len(sheet.Columns) != 3 || sheet.Columns[2] != "column_3" {
		t.Fatalf("columns = %v", sheet.Columns)
	}
	if len(sheet.Rows) != 2 {
		t.Fatalf("rows = %d", len(sheet.Rows))
	}
	if sheet.Rows[0]["invoice_number"] != "INV-001" {
		t.Fatalf("row 0 = %v", sheet.Rows[0])
	}
}

func TestParseCSV(t *testing.T) {
	input := "name,total\nacme,100\n,\nglobex,200\n"
	doc, err := NewParser().Parse(context.Background(), "report.csv", strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Sheets) != 1 {
		t.Fatalf("sheets = %d", len(doc.Sheets))
	}
	sheet := doc.Sheets[0]
	if len(sheet.Rows) != 2 {
		t.Fatalf("blank row should be dropped, rows = %v", sheet.Rows)
	}
	if sheet.Rows[1]["name"] != "globex" {
		t.Fatalf("row 1 = %v", sheet.Rows[1])
	}
}

func TestParseUnsupportedExtension(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), "scan.pdf", strings.NewReader("%PDF"))
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported_format") {
		t.Fatalf("expected unsupported_format in %v", err)
	}
}

func TestParseCorruptWorkbook(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), "bad.xlsx", strings.NewReader("not a zip archive"))
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "corrupt_file") {
		t.Fatalf("expected corrupt_file in %v", err)
	}
}

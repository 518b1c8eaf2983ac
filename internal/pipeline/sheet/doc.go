// Package sheet implements the spreadsheet pipeline stages: an excelize/csv
// parser and an AI extractor that fans out one inference call per sheet.
package sheet

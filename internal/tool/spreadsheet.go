package tool

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	SpreadsheetToolName = "generate_spreadsheet"
	SpreadsheetFileName = "spreadsheet.xlsx"
	SpreadsheetMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	sheetName = "Sheet1"
)

// ErrGeneration wraps every failure to turn row data into a workbook.
var ErrGeneration = errors.New("spreadsheet generation failed")

// SpreadsheetTool builds a single-sheet XLSX workbook from a 2-D array of
// cells and returns it base64-encoded.
type SpreadsheetTool struct{}

func NewSpreadsheetTool() *SpreadsheetTool { return &SpreadsheetTool{} }

func (t *SpreadsheetTool) Name() string { return SpreadsheetToolName }

func (t *SpreadsheetTool) Description() string {
	return "Generate an Excel spreadsheet from tabular data. The first row is usually the header row."
}

func (t *SpreadsheetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"data": map[string]any{
				"type":        "array",
				"description": "Rows of the sheet; each row is an array of cells.",
				"items": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": []string{"string", "number", "boolean"},
					},
				},
			},
		},
		"required":             []string{"data"},
		"additionalProperties": false,
	}
}

func (t *SpreadsheetTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rows, err := parseRows(args)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return GenerateSpreadsheet(rows)
}

// GenerateSpreadsheet serializes rows into an XLSX workbook. Cells must be
// strings, numbers, booleans or nil.
func GenerateSpreadsheet(rows [][]any) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		for j, cell := range row {
			if !isScalarCell(cell) {
				return "", fmt.Errorf("%w: row %d column %d: unsupported cell type %T", ErrGeneration, i+1, j+1, cell)
			}
		}
		if len(row) == 0 {
			continue
		}
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		if err := f.SetSheetRow(sheetName, axis, &row); err != nil {
			return "", fmt.Errorf("%w: row %d: %w", ErrGeneration, i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func parseRows(args map[string]any) ([][]any, error) {
	raw, ok := args["data"]
	if !ok || raw == nil {
		return nil, errors.New("missing required argument: data")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("data must be an array of rows, got %T", raw)
	}
	rows := make([][]any, 0, len(list))
	for i, r := range list {
		row, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("row %d must be an array, got %T", i+1, r)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isScalarCell(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int64, int32:
		return true
	}
	return false
}

package tool

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func openWorkbook(t *testing.T, b64 string) *excelize.File {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestSpreadsheet_MixedGrid(t *testing.T) {
	tool := NewSpreadsheetTool()
	out, err := tool.Execute(context.Background(), map[string]any{
		"data": []any{
			[]any{"name", "qty", "ok"},
			[]any{"apple", 3.0, true},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, out)

	f := openWorkbook(t, out)
	assert.Equal(t, []string{sheetName}, f.GetSheetList())
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"name", "qty", "ok"}, rows[0])
	assert.Equal(t, "apple", rows[1][0])
	assert.Equal(t, "3", rows[1][1])
	assert.Equal(t, "TRUE", rows[1][2])
}

func TestSpreadsheet_EmptyData(t *testing.T) {
	out, err := NewSpreadsheetTool().Execute(context.Background(), map[string]any{"data": []any{}})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestSpreadsheet_MalformedInput(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing data", map[string]any{}},
		{"data not array", map[string]any{"data": "a,b"}},
		{"row not array", map[string]any{"data": []any{"a"}}},
		{"nested object cell", map[string]any{"data": []any{[]any{map[string]any{"x": 1}}}}},
		{"nested array cell", map[string]any{"data": []any{[]any{[]any{1}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpreadsheetTool().Execute(context.Background(), tt.args)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGeneration)
		})
	}
}

func TestSpreadsheet_SchemaRequiresData(t *testing.T) {
	params := NewSpreadsheetTool().Parameters()
	assert.Equal(t, []string{"data"}, params["required"])
	assert.Equal(t, false, params["additionalProperties"])
}

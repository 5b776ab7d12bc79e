package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]interface{}) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}
	return f
}

func TestSumupXLSX_Parse(t *testing.T) {
	f := buildWorkbook(t, [][]interface{}{
		{"outlet", "reader", "amount", "currency", "timestamp", "card_last4"},
		{"Bar", "SU-1", "12.50", "CHF", "2024-06-01T12:00:00", "9876"},
		{"Merch", "OT-1", "8.00", "CHF", "2024-06-01T12:30:00", "1234"},
	})
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	cands, err := (&SumupXLSX{}).Parse(buf)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	require.NoError(t, cands[0].Err)
	assert.Equal(t, "Bar", cands[0].SellingPointName)
	assert.Equal(t, int64(1250), cands[0].AmountCents)

	require.NoError(t, cands[1].Err)
	assert.Equal(t, "Merch", cands[1].SellingPointName)
	assert.Equal(t, int64(800), cands[1].AmountCents)

	// same logical row content hashes identically across CSV and XLSX
	assert.Equal(t,
		Fingerprint("Bar", "SU-1", "12.50", "CHF", "2024-06-01T12:00:00", "9876"),
		cands[0].SourceRowHash)
}

func TestSumupXLSX_Parse_MissingColumns(t *testing.T) {
	f := buildWorkbook(t, [][]interface{}{
		{"a", "b"},
		{"1", "2"},
	})
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	_, err = (&SumupXLSX{}).Parse(buf)
	assert.Error(t, err)
}

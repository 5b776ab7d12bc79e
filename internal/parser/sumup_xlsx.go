package parser

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// SumupXLSX decodes the SumUp export in XLSX form: the first sheet, a header
// row, then one data row per transaction with the same columns as the CSV
// variant. There is no CSV header to sniff against, so this format is picked
// by explicit parser selection.
type SumupXLSX struct{}

func (*SumupXLSX) Name() string { return "sumup_xlsx" }

func (*SumupXLSX) Sniff(header []string) bool {
	return containsAll(header, sumupColumns)
}

func (p *SumupXLSX) Parse(r io.Reader) ([]Candidate, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q has no header row", sheet)
	}
	header := rows[0]
	if !p.Sniff(header) {
		return nil, fmt.Errorf("header %v is missing required columns", header)
	}
	idx := columnIndex(header)

	out := make([]Candidate, 0, len(rows)-1)
	for i, rec := range rows[1:] {
		out = append(out, sumupRow(idx, rec, i+2))
	}
	return out, nil
}

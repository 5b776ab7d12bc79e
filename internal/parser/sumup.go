package parser

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
)

// Sumup decodes the mock SumUp CSV export. Unlike Worldline, amounts are in
// major currency units ("12.50"); they are converted exactly to cents, and
// sub-cent amounts are rejected.
type Sumup struct{}

var sumupColumns = []string{
	"outlet", "reader", "amount", "currency", "timestamp", "card_last4",
}

var centsPerUnit = decimal.NewFromInt(100)

func (*Sumup) Name() string { return "mock_sumup" }

func (*Sumup) Sniff(header []string) bool {
	return containsAll(header, sumupColumns)
}

func (p *Sumup) Parse(r io.Reader) ([]Candidate, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !p.Sniff(header) {
		return nil, fmt.Errorf("header %v is missing required columns", header)
	}
	idx := columnIndex(header)

	var out []Candidate
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			out = append(out, Candidate{Err: fmt.Errorf("line %d: %w", line, err)})
			continue
		}
		out = append(out, sumupRow(idx, rec, line))
	}
	return out, nil
}

// sumupRow decodes one SumUp-format row. Shared by the CSV and XLSX variants.
func sumupRow(idx map[string]int, rec []string, line int) Candidate {
	var (
		rawOutlet   = cell(rec, idx["outlet"])
		rawReader   = cell(rec, idx["reader"])
		rawAmount   = cell(rec, idx["amount"])
		rawCurrency = cell(rec, idx["currency"])
		rawTime     = cell(rec, idx["timestamp"])
		rawLast4    = cell(rec, idx["card_last4"])
	)
	c := Candidate{
		SellingPointName: rawOutlet,
		EPTLabel:         rawReader,
		Currency:         rawCurrency,
		CardLast4:        rawLast4,
		SourceRowHash:    Fingerprint(rawOutlet, rawReader, rawAmount, rawCurrency, rawTime, rawLast4),
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		c.Err = fmt.Errorf("line %d: amount %q: %w", line, rawAmount, err)
		return c
	}
	cents := amount.Mul(centsPerUnit)
	if !cents.IsInteger() {
		c.Err = fmt.Errorf("line %d: amount %q has sub-cent precision", line, rawAmount)
		return c
	}
	c.AmountCents = cents.IntPart()

	if c.OccurredAt, err = parseISOTime(rawTime); err != nil {
		c.Err = fmt.Errorf("line %d: timestamp %q: %w", line, rawTime, err)
	}
	return c
}

package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Worldline decodes the mock Worldline CSV export: amounts already in minor
// units, ISO-8601 timestamps, currency and card_last4 passed through as-is.
type Worldline struct{}

var worldlineColumns = []string{
	"selling_point", "ept", "amount_cents", "currency", "occurred_at", "card_last4",
}

func (*Worldline) Name() string { return "mock_worldline" }

func (*Worldline) Sniff(header []string) bool {
	return containsAll(header, worldlineColumns)
}

func (p *Worldline) Parse(r io.Reader) ([]Candidate, error) {
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

		var (
			rawSP       = cell(rec, idx["selling_point"])
			rawEPT      = cell(rec, idx["ept"])
			rawAmount   = cell(rec, idx["amount_cents"])
			rawCurrency = cell(rec, idx["currency"])
			rawOccurred = cell(rec, idx["occurred_at"])
			rawLast4    = cell(rec, idx["card_last4"])
		)
		c := Candidate{
			SellingPointName: rawSP,
			EPTLabel:         rawEPT,
			Currency:         rawCurrency,
			CardLast4:        rawLast4,
			SourceRowHash:    Fingerprint(rawSP, rawEPT, rawAmount, rawCurrency, rawOccurred, rawLast4),
		}
		if c.AmountCents, err = strconv.ParseInt(rawAmount, 10, 64); err != nil {
			c.Err = fmt.Errorf("line %d: amount_cents %q: %w", line, rawAmount, err)
		} else if c.OccurredAt, err = parseISOTime(rawOccurred); err != nil {
			c.Err = fmt.Errorf("line %d: occurred_at %q: %w", line, rawOccurred, err)
		}
		out = append(out, c)
	}
	return out, nil
}

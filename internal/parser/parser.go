// Package parser decodes payment-provider export files into canonical
// transaction candidates. Each provider format is one Parser implementation
// registered under a unique name; adding a format never touches the importer.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"time"
)

// Candidate is one decoded data row awaiting identity resolution. The raw
// selling-point name and EPT label are resolved against the target event by
// the importer.
type Candidate struct {
	SellingPointName string
	EPTLabel         string
	AmountCents      int64
	Currency         string
	OccurredAt       time.Time
	CardLast4        string
	SourceRowHash    string

	// Err is set when the row could not be decoded. Such candidates still
	// count as processed but only feed the importer's error tally.
	Err error
}

// Parser decodes one provider export format.
type Parser interface {
	Name() string

	// Sniff reports whether this parser's expected column set is a subset
	// of the given header.
	Sniff(header []string) bool

	// Parse decodes r as a headered export and returns one candidate per
	// data row, in row order. Row-level decode failures are reported on the
	// candidate itself so one bad row never aborts the file.
	Parse(r io.Reader) ([]Candidate, error)
}

// Fingerprint derives the dedup key for a row: the SHA-256 hex digest of the
// pipe-joined raw field values, in this fixed order. Inputs are the textual
// values from the file, not parsed forms, so re-importing identical rows
// always reproduces the same fingerprint.
func Fingerprint(sellingPoint, ept, amount, currency, occurredAt, cardLast4 string) string {
	joined := strings.Join([]string{sellingPoint, ept, amount, currency, occurredAt, cardLast4}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// Registry maps parser names to implementations.
type Registry struct {
	parsers map[string]Parser
}

func NewRegistry(ps ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser, len(ps))}
	for _, p := range ps {
		r.parsers[p.Name()] = p
	}
	return r
}

// Default returns a registry with the built-in provider formats.
func Default() *Registry {
	return NewRegistry(&Worldline{}, &Sumup{}, &SumupXLSX{})
}

func (r *Registry) Get(name string) (Parser, bool) {
	p, ok := r.parsers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.parsers))
	for n := range r.parsers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Detect returns the first registered parser, in name order, whose Sniff
// claims the header.
func (r *Registry) Detect(header []string) (Parser, bool) {
	for _, n := range r.Names() {
		if p := r.parsers[n]; p.Sniff(header) {
			return p, true
		}
	}
	return nil, false
}

// containsAll reports whether header covers every expected column name.
func containsAll(header, expected []string) bool {
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[strings.TrimSpace(h)] = struct{}{}
	}
	for _, e := range expected {
		if _, ok := have[e]; !ok {
			return false
		}
	}
	return true
}

// columnIndex maps trimmed column names to their position in the header.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

// cell returns rec[i] or "" when the row is shorter than the header, which
// XLSX row extraction produces for trailing empty cells.
func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// parseISOTime accepts RFC 3339 as well as the bare ISO-8601 form without a
// zone offset that provider exports commonly use.
func parseISOTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mperrin/festipos/internal/model"
	"github.com/mperrin/festipos/internal/parser"
	"github.com/mperrin/festipos/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrEventNotFound means the referenced event does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrUnknownParser means the import named an unregistered parser.
	ErrUnknownParser = errors.New("unknown parser")
	// ErrUnreadableFile means the uploaded file could not be decoded at all
	// (bad header, truncated workbook); no row was processed.
	ErrUnreadableFile = errors.New("unreadable import file")
)

// ImportReport holds the per-run counters returned to the caller.
type ImportReport struct {
	Processed         int `json:"processed"`
	Inserted          int `json:"inserted"`
	SkippedDuplicates int `json:"skipped_duplicates"`
	Errors            int `json:"errors"`
}

// ImportService is the dedup/ingest engine: it feeds parser candidates into
// storage one row at a time, leaning on the (source, source_row_hash) unique
// index for idempotence.
type ImportService struct {
	repo    repo.RepositoryInterface
	parsers *parser.Registry
	log     *zap.SugaredLogger
}

func NewImportService(r repo.RepositoryInterface, reg *parser.Registry, logger *zap.SugaredLogger) *ImportService {
	return &ImportService{repo: r, parsers: reg, log: logger}
}

// Run imports one uploaded file into the event using the named parser.
//
// Every candidate is committed independently: a bad row, or a duplicate
// rejected by the storage constraint, never rolls back rows already
// persisted in the same run. A caller-supplied fallback EPT is used for rows
// whose label resolves to nothing, but only if it belongs to the row's
// resolved selling point.
func (s *ImportService) Run(ctx context.Context, eventID, parserName string, file io.Reader, fallbackEPTID string) (ImportReport, error) {
	var rep ImportReport

	if _, err := s.repo.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rep, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return rep, err
	}

	p, file, err := s.selectParser(parserName, file)
	if err != nil {
		return rep, err
	}

	cands, err := p.Parse(file)
	if err != nil {
		return rep, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	// Resolve the fallback terminal once; rows only use it when it belongs
	// to their own selling point.
	var fallback *model.EPT
	if fallbackEPTID != "" {
		fallback, err = s.repo.GetEPT(ctx, fallbackEPTID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return rep, err
			}
			s.log.Warnf("import %s: fallback ept %s does not exist", eventID, fallbackEPTID)
			fallback = nil
		}
	}

	for _, c := range cands {
		rep.Processed++

		if c.Err != nil {
			rep.Errors++
			s.log.Debugf("import %s: bad row: %v", eventID, c.Err)
			continue
		}

		sp, err := s.repo.FindSellingPointByName(ctx, eventID, c.SellingPointName)
		if err != nil {
			rep.Errors++
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				s.log.Warnf("import %s: selling point %q: %v", eventID, c.SellingPointName, err)
			}
			continue
		}

		ept := s.resolveEPT(ctx, sp, c.EPTLabel, fallback)
		if ept == nil {
			rep.Errors++
			continue
		}

		t := &model.Transaction{
			EventID:        eventID,
			SellingPointID: sp.ID,
			EPTID:          ept.ID,
			AmountCents:    c.AmountCents,
			Currency:       c.Currency,
			OccurredAt:     c.OccurredAt,
			CardLast4:      c.CardLast4,
			Source:         p.Name(),
			SourceRowHash:  c.SourceRowHash,
		}
		switch err := s.repo.CreateTransaction(ctx, t); {
		case err == nil:
			rep.Inserted++
		case errors.Is(err, gorm.ErrDuplicatedKey):
			rep.SkippedDuplicates++
		default:
			rep.Errors++
			s.log.Warnf("import %s: insert: %v", eventID, err)
		}
	}

	s.record(ctx, eventID, parserName, rep)
	return rep, nil
}

// AutoDetect asks the registry to claim the file by its CSV header instead
// of naming a parser explicitly.
const AutoDetect = "auto"

// selectParser resolves the parser by name, or sniffs the CSV header across
// the registry when the caller passed AutoDetect. The consumed header line is
// stitched back in front of the remaining stream.
func (s *ImportService) selectParser(name string, file io.Reader) (parser.Parser, io.Reader, error) {
	if name != AutoDetect {
		p, ok := s.parsers.Get(name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownParser, name, s.parsers.Names())
		}
		return p, file, nil
	}

	br := bufio.NewReader(file)
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	header := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	p, ok := s.parsers.Detect(header)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no registered parser claims header %v", ErrUnknownParser, header)
	}
	return p, io.MultiReader(strings.NewReader(line), br), nil
}

// resolveEPT matches the row's label within the selling point, falling back
// to the caller-supplied terminal when the label is absent or unknown.
func (s *ImportService) resolveEPT(ctx context.Context, sp *model.SellingPoint, label string, fallback *model.EPT) *model.EPT {
	if label != "" {
		ept, err := s.repo.FindEPTByLabel(ctx, sp.ID, label)
		if err == nil {
			return ept
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warnf("ept lookup %q in %s: %v", label, sp.ID, err)
			return nil
		}
	}
	if fallback != nil && fallback.SellingPointID == sp.ID {
		return fallback
	}
	return nil
}

// record persists the audit trail of a finished run: an ImportRun row, an
// outbox notification for the poller, and a summary-cache invalidation.
// All best-effort; the report already belongs to the caller.
func (s *ImportService) record(ctx context.Context, eventID, parserName string, rep ImportReport) {
	run := &model.ImportRun{
		EventID:           eventID,
		Parser:            parserName,
		Processed:         rep.Processed,
		Inserted:          rep.Inserted,
		SkippedDuplicates: rep.SkippedDuplicates,
		Errors:            rep.Errors,
	}
	if err := s.repo.CreateImportRun(ctx, run); err != nil {
		s.log.Warnf("import %s: record run: %v", eventID, err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"event_id":           eventID,
		"parser":             parserName,
		"processed":          rep.Processed,
		"inserted":           rep.Inserted,
		"skipped_duplicates": rep.SkippedDuplicates,
		"errors":             rep.Errors,
	})
	evt := &model.OutboxEvent{
		Aggregate:   "Event",
		AggregateID: eventID,
		EventType:   "ImportCompleted",
		Payload:     string(payload),
	}
	if err := s.repo.CreateOutboxEvent(ctx, evt); err != nil {
		s.log.Warnf("import %s: outbox: %v", eventID, err)
	}

	if rep.Inserted > 0 {
		if err := s.repo.InvalidateSummary(ctx, eventID); err != nil {
			s.log.Warnf("import %s: invalidate summary cache: %v", eventID, err)
		}
	}
}

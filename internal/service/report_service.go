package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mperrin/festipos/internal/model"
	"github.com/mperrin/festipos/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrBadBucketSpec means the timeline bucket parameter is not <n><s|m|h>.
var ErrBadBucketSpec = errors.New("invalid bucket spec")

// DefaultBucket is used when the timeline request carries no bucket spec.
const DefaultBucket = "5m"

type EPTSummary struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	TotalCents int64  `json:"total_cents"`
}

type SellingPointSummary struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	TotalCents int64        `json:"total_cents"`
	EPTs       []EPTSummary `json:"epts"`
}

type EventSummary struct {
	EventID       string                `json:"event_id"`
	SellingPoints []SellingPointSummary `json:"selling_points"`
}

type TimelineWindow struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

type TimelineSeries struct {
	SellingPointID string  `json:"selling_point_id"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	Cumulative     []int64 `json:"cumulative"`
}

type EventTimeline struct {
	Event   TimelineWindow   `json:"event"`
	Buckets []time.Time      `json:"buckets"`
	Series  []TimelineSeries `json:"series"`
}

// ReportService computes read-only aggregate views over an event's
// transaction log.
type ReportService struct {
	repo     repo.RepositoryInterface
	cacheTTL time.Duration
	log      *zap.SugaredLogger
}

func NewReportService(r repo.RepositoryInterface, cacheTTL time.Duration, logger *zap.SugaredLogger) *ReportService {
	return &ReportService{repo: r, cacheTTL: cacheTTL, log: logger}
}

// Summary groups the event's transactions by selling point and by EPT and
// composes the totals into a tree. Groups with no transactions report 0,
// never disappear. The result is cached best-effort in redis.
func (s *ReportService) Summary(ctx context.Context, eventID string) (*EventSummary, error) {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return nil, err
	}

	if raw, err := s.repo.GetCachedSummary(ctx, eventID); err == nil {
		var cached EventSummary
		if json.Unmarshal(raw, &cached) == nil {
			return &cached, nil
		}
	}

	spSums, err := s.repo.SumBySellingPoint(ctx, eventID)
	if err != nil {
		return nil, err
	}
	eptSums, err := s.repo.SumByEPT(ctx, eventID)
	if err != nil {
		return nil, err
	}

	sps, err := s.repo.ListSellingPoints(ctx, eventID)
	if err != nil {
		return nil, err
	}

	out := &EventSummary{EventID: event.ID, SellingPoints: make([]SellingPointSummary, 0, len(sps))}
	for _, sp := range sps {
		epts, err := s.repo.ListEPTs(ctx, sp.ID)
		if err != nil {
			return nil, err
		}
		spSummary := SellingPointSummary{
			ID:         sp.ID,
			Name:       sp.Name,
			TotalCents: spSums[sp.ID],
			EPTs:       make([]EPTSummary, 0, len(epts)),
		}
		for _, ept := range epts {
			spSummary.EPTs = append(spSummary.EPTs, EPTSummary{
				ID:         ept.ID,
				Label:      ept.Label,
				TotalCents: eptSums[ept.ID],
			})
		}
		out.SellingPoints = append(out.SellingPoints, spSummary)
	}

	if raw, err := json.Marshal(out); err == nil {
		if err := s.repo.CacheSummary(ctx, eventID, raw, s.cacheTTL); err != nil {
			s.log.Warnf("summary %s: cache write: %v", eventID, err)
		}
	}
	return out, nil
}

// ParseBucket parses a bucket-width spec of the form <positive int><s|m|h>.
func ParseBucket(spec string) (time.Duration, error) {
	if len(spec) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadBucketSpec, spec)
	}
	n, err := strconv.Atoi(spec[:len(spec)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadBucketSpec, spec)
	}
	switch spec[len(spec)-1] {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadBucketSpec, spec)
}

// Timeline computes, for every selling point of the event, a cumulative
// revenue series aligned to fixed-width buckets spanning the event window.
//
// Bucket boundaries run from start_at to end_at inclusive; each selling
// point's transactions are merged against the boundaries in one forward
// sweep, so the cost is O(transactions + buckets), not their product.
func (s *ReportService) Timeline(ctx context.Context, eventID, bucketSpec string) (*EventTimeline, error) {
	width, err := ParseBucket(bucketSpec)
	if err != nil {
		return nil, err
	}

	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return nil, err
	}

	var buckets []time.Time
	for ts := event.StartAt; !ts.After(event.EndAt); ts = ts.Add(width) {
		buckets = append(buckets, ts)
	}
	if len(buckets) == 0 {
		// degenerate window (end before start): a single bucket at start_at
		buckets = []time.Time{event.StartAt}
	}

	txs, err := s.repo.ListEventTransactions(ctx, eventID)
	if err != nil {
		return nil, err
	}
	bySP := make(map[string][]model.Transaction)
	for _, t := range txs {
		bySP[t.SellingPointID] = append(bySP[t.SellingPointID], t)
	}

	sps, err := s.repo.ListSellingPoints(ctx, eventID)
	if err != nil {
		return nil, err
	}

	out := &EventTimeline{
		Event:   TimelineWindow{StartAt: event.StartAt, EndAt: event.EndAt},
		Buckets: buckets,
		Series:  make([]TimelineSeries, 0, len(sps)),
	}
	for _, sp := range sps {
		list := bySP[sp.ID] // already sorted by occurred_at
		series := TimelineSeries{
			SellingPointID: sp.ID,
			Lat:            sp.Latitude,
			Lng:            sp.Longitude,
			Cumulative:     make([]int64, len(buckets)),
		}
		var running int64
		i := 0
		for bi, boundary := range buckets {
			for i < len(list) && !list[i].OccurredAt.After(boundary) {
				running += list[i].AmountCents
				i++
			}
			series.Cumulative[bi] = running
		}
		out.Series = append(out.Series, series)
	}
	return out, nil
}

package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mperrin/festipos/internal/logger"
	"github.com/mperrin/festipos/internal/model"
	"github.com/mperrin/festipos/internal/parser"
	"github.com/mperrin/festipos/internal/repo"
)

func newTestRepo(t *testing.T) (*repo.Repository, context.Context) {
	t.Helper()
	// per-test in-memory database; shared cache so every pooled connection
	// sees the same data
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Event{}, &model.SellingPoint{}, &model.EPT{},
		&model.Transaction{}, &model.OutboxEvent{}, &model.ImportRun{},
	))

	// cache ops are best-effort, so an expectation-less mock simply makes
	// every cache call a miss
	rdb, _ := redismock.NewClientMock()

	log, err := logger.NewLogger()
	require.NoError(t, err)

	return repo.NewRepository(db, rdb, &kafka.Writer{}, log), context.Background()
}

// seedEvent creates an event with two selling points (Bar, Merch) and one EPT
// each, mirroring the sample data the seed command produces.
func seedEvent(t *testing.T, r *repo.Repository, ctx context.Context) (*model.Event, map[string]*model.SellingPoint, map[string]*model.EPT) {
	t.Helper()
	event := &model.Event{
		Name:    t.Name(),
		StartAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC),
	}
	require.NoError(t, r.CreateEvent(ctx, event))

	sps := map[string]*model.SellingPoint{}
	epts := map[string]*model.EPT{}
	for name, label := range map[string]string{"Bar": "WL-1", "Merch": "OT-1"} {
		sp := &model.SellingPoint{EventID: event.ID, Name: name, Latitude: 46.52, Longitude: 6.57}
		require.NoError(t, r.CreateSellingPoint(ctx, sp))
		sps[name] = sp

		ept := &model.EPT{SellingPointID: sp.ID, Provider: model.ProviderWorldline, Label: label}
		require.NoError(t, r.CreateEPT(ctx, ept))
		epts[label] = ept
	}
	return event, sps, epts
}

func newImportService(t *testing.T, r *repo.Repository) *ImportService {
	t.Helper()
	log, err := logger.NewLogger()
	require.NoError(t, err)
	return NewImportService(r, parser.Default(), log)
}

const twoRowCSV = `selling_point,ept,amount_cents,currency,occurred_at,card_last4
Bar,WL-1,1200,CHF,2024-06-01T12:10:00,4242
Merch,OT-1,800,CHF,2024-06-01T12:20:00,1111
`

func TestImport_TwoValidRowsThenIdempotentReplay(t *testing.T) {
	r, ctx := newTestRepo(t)
	event, _, _ := seedEvent(t, r, ctx)
	svc := newImportService(t, r)

	rep, err := svc.Run(ctx, event.ID, "mock_worldline", strings.NewReader(twoRowCSV), "")
	require.NoError(t, err)
	assert.Equal(t, ImportReport{Processed: 2, Inserted: 2, SkippedDuplicates: 0, Errors: 0}, rep)

	// byte-identical replay: the unique index rejects everything
	rep, err = svc.Run(ctx, event.ID, "mock_worldline", strings.NewReader(twoRowCSV), "")
	require.NoError(t, err)
	assert.Equal(t, ImportReport{Processed: 2, Inserted: 0, SkippedDuplicates: 2, Errors: 0}, rep)

	txs, err := r.ListEventTransactions(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestImport_UnknownSellingPointCountsAsError(t *testing.T) {
	r, ctx := newTestRepo(t)
	event, _, _ := seedEvent(t, r, ctx)
	svc := newImportService(t, r)

	csv := "selling_point,ept,amount_cents,currency,occurred_at,card_last4\n" +
		"Ghost Stand,WL-1,1200,CHF,2024-06-01T12:10:00,4242\n" +
		"Bar,WL-1,700,CHF,2024-06-01T12:15:00,4242\n"

	rep, err := svc.Run(ctx, event.ID, "mock_worldline", strings.NewReader(csv), "")
	require.NoError(t, err)
	assert.Equal(t, ImportReport{Processed: 2, Inserted: 1, SkippedDuplicates: 0, Errors: 1}, rep)
}

func TestImport_FallbackEPT(t *testing.T) {
	r, ctx := newTestRepo(t)
	event, _, epts := seedEvent(t, r, ctx)
	svc := newImportService(t, r)

	// row names a reader label the Bar stand does not have
	csv := "selling_point,ept,amount_cents,currency,occurred_at,card_last4\n" +
		"Bar,UNKNOWN,1200,CHF,2024-06-01T12:10:00,4242\n"

	// fallback belongs to Bar: the row is rescued
	rep, err := svc.Run(ctx, event.ID, "mock_worldline", strings.NewReader(csv), epts["WL-1"].ID)
	require.NoError(t, err)
	assert.Equal(t, ImportReport{Processed: 1, Inserted: 1, SkippedDuplicates: 0, Errors: 0}, rep)

	txs, err := r.ListEventTransactions(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, epts["WL-1"].ID, txs[0].EPTID)
}

func TestImport_FallbackEPTMustBelongToResolvedSellingPoint(t *testing.T) {
	r, ctx := newTestRepo(t)
	event, _, epts := seedEvent(t, r, ctx)
	svc := newImportService(t, r)

	// fallback is Merch's terminal, the row resolves to Bar
	csv := "selling_point,ept,amount_cents,currency,occurred_at,card_last4\n" +
		"Bar,UNKNOWN,1200,CHF,2024-06-01T12:10:00,4242\n"

	rep, err := svc.Run(ctx, event.ID, "mock_worldline", strings.NewReader(csv), epts["OT-1"].ID)
	require.NoError(t, err)
	assert.Equal(t, ImportReport{Processed: 1, Inserted: 0, SkippedDuplicates: 0, Errors: 1}, rep)
}

func TestImport_MalformedRowIsAbsorbed(t *testing.T) {
	r, ctx := newTestRepo(t)
	event, _, _ := seedEvent(t, r, ctx)
	svc := newImportService(t, r)

	csv := "selling_point,ept,amount_cents,currency,occurred_at,card_last4\n" +
		"Bar,WL-1,twelve,CHF,2024-06-01T12:10:00,4242\n" +
		"Bar,WL-1,500,CHF,2024-06-01T12:11:00,4242\n"

	rep, err := svc.Run(ctx, event.ID, "mock_worldline", strings.NewReader(csv), "")
	require.NoError(t, err)
	assert.Equal(t, ImportReport{Processed: 2, Inserted: 1, SkippedDuplicates: 0, Errors: 1}, rep)
}

func TestImport_UnknownParser(t *testing.T) {
	r, ctx := newTestRepo(t)
	event, _, _ := seedEvent(t, r, ctx)
	svc := newImportService(t, r)

	_, err := svc.Run(ctx, event.ID, "no_such_parser", strings.NewReader(twoRowCSV), "")
	assert.ErrorIs(t, err, ErrUnknownParser)
}

func TestImport_AutoDetectPicksWorldline(t *testing.T) {
	r, ctx := newTestRepo(t)
	event, _, _ := seedEvent(t, r, ctx)
	svc := newImportService(t, r)

	rep, err := svc.Run(ctx, event.ID, AutoDetect, strings.NewReader(twoRowCSV), "")
	require.NoError(t, err)
	assert.Equal(t, ImportReport{Processed: 2, Inserted: 2, SkippedDuplicates: 0, Errors: 0}, rep)

	// source records the detected parser, not "auto"
	txs, err := r.ListEventTransactions(ctx, event.ID)
	require.NoError(t, err)
	require.NotEmpty(t, txs)
	assert.Equal(t, "mock_worldline", txs[0].Source)
}

func TestImport_AutoDetectUnclaimedHeader(t *testing.T) {
	r, ctx := newTestRepo(t)
	event, _, _ := seedEvent(t, r, ctx)
	svc := newImportService(t, r)

	_, err := svc.Run(ctx, event.ID, AutoDetect, strings.NewReader("a,b,c\n1,2,3\n"), "")
	assert.ErrorIs(t, err, ErrUnknownParser)
}

func TestImport_MissingEvent(t *testing.T) {
	r, ctx := newTestRepo(t)
	svc := newImportService(t, r)

	_, err := svc.Run(ctx, "no-such-event", "mock_worldline", strings.NewReader(twoRowCSV), "")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestImport_SumupAmountsLandInCents(t *testing.T) {
	r, ctx := newTestRepo(t)
	event, _, epts := seedEvent(t, r, ctx)

	// give Bar a sumup reader
	su := &model.EPT{SellingPointID: epts["WL-1"].SellingPointID, Provider: model.ProviderSumup, Label: "SU-1"}
	require.NoError(t, r.CreateEPT(ctx, su))

	svc := newImportService(t, r)
	csv := "outlet,reader,amount,currency,timestamp,card_last4\n" +
		"Bar,SU-1,12.50,CHF,2024-06-01T12:10:00,9876\n"

	rep, err := svc.Run(ctx, event.ID, "mock_sumup", strings.NewReader(csv), "")
	require.NoError(t, err)
	assert.Equal(t, ImportReport{Processed: 1, Inserted: 1, SkippedDuplicates: 0, Errors: 0}, rep)

	txs, err := r.ListEventTransactions(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(1250), txs[0].AmountCents)
	assert.Equal(t, "mock_sumup", txs[0].Source)
}

func TestImport_RunsAreAudited(t *testing.T) {
	r, ctx := newTestRepo(t)
	event, _, _ := seedEvent(t, r, ctx)
	svc := newImportService(t, r)

	_, err := svc.Run(ctx, event.ID, "mock_worldline", strings.NewReader(twoRowCSV), "")
	require.NoError(t, err)

	var runs []model.ImportRun
	require.NoError(t, r.DB(ctx).Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, event.ID, runs[0].EventID)
	assert.Equal(t, 2, runs[0].Inserted)

	evts, err := r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "ImportCompleted", evts[0].EventType)
	assert.Equal(t, event.ID, evts[0].AggregateID)
}

package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mperrin/festipos/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RepositoryInterface restricts the storage surface the services depend on
// (and keeps unit tests mockable).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	SaveEvent(ctx context.Context, e *model.Event) error
	DeleteEvent(ctx context.Context, id string) error

	CreateSellingPoint(ctx context.Context, sp *model.SellingPoint) error
	GetSellingPoint(ctx context.Context, id string) (*model.SellingPoint, error)
	ListSellingPoints(ctx context.Context, eventID string) ([]model.SellingPoint, error)
	SaveSellingPoint(ctx context.Context, sp *model.SellingPoint) error
	DeleteSellingPoint(ctx context.Context, id string) error
	FindSellingPointByName(ctx context.Context, eventID, name string) (*model.SellingPoint, error)

	CreateEPT(ctx context.Context, e *model.EPT) error
	GetEPT(ctx context.Context, id string) (*model.EPT, error)
	ListEPTs(ctx context.Context, sellingPointID string) ([]model.EPT, error)
	SaveEPT(ctx context.Context, e *model.EPT) error
	DeleteEPT(ctx context.Context, id string) error
	FindEPTByLabel(ctx context.Context, sellingPointID, label string) (*model.EPT, error)

	CreateTransaction(ctx context.Context, t *model.Transaction) error
	ListEventTransactions(ctx context.Context, eventID string) ([]model.Transaction, error)
	SumBySellingPoint(ctx context.Context, eventID string) (map[string]int64, error)
	SumByEPT(ctx context.Context, eventID string) (map[string]int64, error)

	CreateImportRun(ctx context.Context, run *model.ImportRun) error
	CreateOutboxEvent(ctx context.Context, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheSummary(ctx context.Context, eventID string, payload []byte, ttl time.Duration) error
	GetCachedSummary(ctx context.Context, eventID string) ([]byte, error)
	InvalidateSummary(ctx context.Context, eventID string) error
}

// Repository implements RepositoryInterface over gorm, redis and kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// ---- events ----

func (r *Repository) CreateEvent(ctx context.Context, e *model.Event) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *Repository) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	if err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) ListEvents(ctx context.Context) ([]model.Event, error) {
	var evts []model.Event
	err := r.db.WithContext(ctx).Order("start_at").Find(&evts).Error
	return evts, err
}

func (r *Repository) SaveEvent(ctx context.Context, e *model.Event) error {
	return r.db.WithContext(ctx).Save(e).Error
}

// DeleteEvent removes an event and everything under it. The cascade is done
// explicitly so it holds on sqlite test databases where FK enforcement is off.
func (r *Repository) DeleteEvent(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", id).Delete(&model.Transaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("selling_point_id IN (?)",
			tx.Model(&model.SellingPoint{}).Select("id").Where("event_id = ?", id),
		).Delete(&model.EPT{}).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id = ?", id).Delete(&model.SellingPoint{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Event{ID: id}).Error
	})
}

// ---- selling points ----

func (r *Repository) CreateSellingPoint(ctx context.Context, sp *model.SellingPoint) error {
	return r.db.WithContext(ctx).Create(sp).Error
}

func (r *Repository) GetSellingPoint(ctx context.Context, id string) (*model.SellingPoint, error) {
	var sp model.SellingPoint
	if err := r.db.WithContext(ctx).First(&sp, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sp, nil
}

func (r *Repository) ListSellingPoints(ctx context.Context, eventID string) ([]model.SellingPoint, error) {
	var sps []model.SellingPoint
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("name").Find(&sps).Error
	return sps, err
}

func (r *Repository) SaveSellingPoint(ctx context.Context, sp *model.SellingPoint) error {
	return r.db.WithContext(ctx).Save(sp).Error
}

func (r *Repository) DeleteSellingPoint(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("selling_point_id = ?", id).Delete(&model.Transaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("selling_point_id = ?", id).Delete(&model.EPT{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.SellingPoint{ID: id}).Error
	})
}

func (r *Repository) FindSellingPointByName(ctx context.Context, eventID, name string) (*model.SellingPoint, error) {
	var sp model.SellingPoint
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND name = ?", eventID, name).
		First(&sp).Error
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

// ---- EPTs ----

func (r *Repository) CreateEPT(ctx context.Context, e *model.EPT) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *Repository) GetEPT(ctx context.Context, id string) (*model.EPT, error) {
	var e model.EPT
	if err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) ListEPTs(ctx context.Context, sellingPointID string) ([]model.EPT, error) {
	var epts []model.EPT
	err := r.db.WithContext(ctx).Where("selling_point_id = ?", sellingPointID).Order("label").Find(&epts).Error
	return epts, err
}

func (r *Repository) SaveEPT(ctx context.Context, e *model.EPT) error {
	return r.db.WithContext(ctx).Save(e).Error
}

func (r *Repository) DeleteEPT(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ept_id = ?", id).Delete(&model.Transaction{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.EPT{ID: id}).Error
	})
}

func (r *Repository) FindEPTByLabel(ctx context.Context, sellingPointID, label string) (*model.EPT, error) {
	var e model.EPT
	err := r.db.WithContext(ctx).
		Where("selling_point_id = ? AND label = ?", sellingPointID, label).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ---- transactions ----

// CreateTransaction inserts one row. A (source, source_row_hash) collision
// surfaces as gorm.ErrDuplicatedKey; callers treat that as an expected
// duplicate, not a failure.
func (r *Repository) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// ListEventTransactions returns every transaction of the event ordered by
// selling point then occurrence time, the order the timeline sweep expects.
func (r *Repository) ListEventTransactions(ctx context.Context, eventID string) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("selling_point_id").
		Order("occurred_at").
		Find(&txs).Error
	return txs, err
}

type groupSum struct {
	GroupID string
	Total   int64
}

func (r *Repository) SumBySellingPoint(ctx context.Context, eventID string) (map[string]int64, error) {
	return r.groupedSum(ctx, eventID, "selling_point_id")
}

func (r *Repository) SumByEPT(ctx context.Context, eventID string) (map[string]int64, error) {
	return r.groupedSum(ctx, eventID, "ept_id")
}

func (r *Repository) groupedSum(ctx context.Context, eventID, column string) (map[string]int64, error) {
	var rows []groupSum
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select(column + " AS group_id, COALESCE(SUM(amount_cents), 0) AS total").
		Where("event_id = ?", eventID).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sums := make(map[string]int64, len(rows))
	for _, row := range rows {
		sums[row.GroupID] = row.Total
	}
	return sums, nil
}

// ---- import audit & outbox ----

func (r *Repository) CreateImportRun(ctx context.Context, run *model.ImportRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) CreateOutboxEvent(ctx context.Context, evt *model.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(evt).Error
}

func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%d", evt.AggregateID, evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// ---- summary cache ----

func summaryKey(eventID string) string { return "summary:" + eventID }

// CacheSummary is best-effort; a nil redis client disables caching entirely.
func (r *Repository) CacheSummary(ctx context.Context, eventID string, payload []byte, ttl time.Duration) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Set(ctx, summaryKey(eventID), payload, ttl).Err()
}

func (r *Repository) GetCachedSummary(ctx context.Context, eventID string) ([]byte, error) {
	if r.rdb == nil {
		return nil, redis.Nil
	}
	return r.rdb.Get(ctx, summaryKey(eventID)).Bytes()
}

func (r *Repository) InvalidateSummary(ctx context.Context, eventID string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, summaryKey(eventID)).Err()
}

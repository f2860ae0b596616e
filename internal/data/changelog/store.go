package changelog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
	"gorm.io/gorm"
)

const insertBatchSize = 500

// TransactionSummary aggregates the logs of one transaction id.
type TransactionSummary struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	FirstID       int64     `json:"first_id"`
	LogCount      int64     `json:"log_count"`
	RollbackCount int64     `json:"rollback_count"`
}

func (s TransactionSummary) RolledBack() bool { return s.RollbackCount > 0 }

// Store persists logs. Every method takes the caller's transaction; a nil tx
// falls back to the store's own handle.
type Store interface {
	AddMany(ctx context.Context, tx *gorm.DB, logs []Log) error
	ByTransactionID(ctx context.Context, tx *gorm.DB, txID uuid.UUID) ([]Log, error)
	PreviousLogs(ctx context.Context, tx *gorm.DB, keys []EntityKey, excludeTxID uuid.UUID) ([]Log, error)
	ListTransactions(ctx context.Context, tx *gorm.DB, limit int, beforeID int64) ([]TransactionSummary, error)
	PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type store struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) Store {
	return &store{db: db, log: baseLog.With("repo", "ChangelogStore")}
}

func (s *store) AddMany(ctx context.Context, tx *gorm.DB, logs []Log) error {
	t := tx
	if t == nil {
		t = s.db
	}
	if len(logs) == 0 {
		return nil
	}
	return t.WithContext(ctx).CreateInBatches(logs, insertBatchSize).Error
}

func (s *store) ByTransactionID(ctx context.Context, tx *gorm.DB, txID uuid.UUID) ([]Log, error) {
	t := tx
	if t == nil {
		t = s.db
	}
	var out []Log
	if txID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(ctx).
		Where("transaction_id = ?", txID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// previousLogsSQL picks, per entity, the newest log older than the first log
// the excluded transaction wrote for that entity. Bounding by sequence keeps
// later transactions out of the "state before" lookup.
const previousLogsSQL = `
WITH cur AS (
	SELECT collection_name, model_id, MIN(id) AS first_id
	FROM uow_log
	WHERE transaction_id = ?
	GROUP BY collection_name, model_id
)
SELECT id FROM (
	SELECT l.id,
		ROW_NUMBER() OVER (PARTITION BY l.collection_name, l.model_id ORDER BY l.id DESC) AS rn
	FROM uow_log l
	LEFT JOIN cur ON cur.collection_name = l.collection_name AND cur.model_id = l.model_id
	WHERE l.transaction_id <> ?
		AND l.model_id IN ?
		AND (cur.first_id IS NULL OR l.id < cur.first_id)
) ranked
WHERE rn = 1`

// PreviousLogs returns at most one log per key: the latest one, by sequence,
// written by a transaction other than excludeTxID. Keys without such a log
// are absent from the result.
func (s *store) PreviousLogs(ctx context.Context, tx *gorm.DB, keys []EntityKey, excludeTxID uuid.UUID) ([]Log, error) {
	t := tx
	if t == nil {
		t = s.db
	}
	if len(keys) == 0 {
		return []Log{}, nil
	}
	want := make(map[EntityKey]struct{}, len(keys))
	ids := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
		if _, ok := seen[k.ModelID]; ok {
			continue
		}
		seen[k.ModelID] = struct{}{}
		ids = append(ids, k.ModelID)
	}

	var picked []int64
	if err := t.WithContext(ctx).Raw(previousLogsSQL, excludeTxID, excludeTxID, ids).Scan(&picked).Error; err != nil {
		return nil, err
	}
	if len(picked) == 0 {
		return []Log{}, nil
	}
	var rows []Log
	if err := t.WithContext(ctx).Where("id IN ?", picked).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	// model_id IN matches across tables; keep only requested pairs.
	out := rows[:0]
	for _, l := range rows {
		if _, ok := want[l.Key()]; ok {
			out = append(out, l)
		}
	}
	s.log.Debug("Loaded previous logs", "keys", len(keys), "found", len(out), "transaction_id", excludeTxID)
	return out, nil
}

type summaryRow struct {
	TransactionID uuid.UUID `gorm:"column:transaction_id"`
	FirstID       int64     `gorm:"column:first_id"`
	LogCount      int64     `gorm:"column:log_count"`
	RollbackCount int64     `gorm:"column:rollback_count"`
}

// ListTransactions pages transactions newest first. beforeID is the FirstID
// cursor of the previous page; zero starts at the newest.
func (s *store) ListTransactions(ctx context.Context, tx *gorm.DB, limit int, beforeID int64) ([]TransactionSummary, error) {
	t := tx
	if t == nil {
		t = s.db
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := t.WithContext(ctx).
		Model(&Log{}).
		Select(`transaction_id,
			MIN(id) AS first_id,
			COUNT(*) AS log_count,
			SUM(CASE WHEN action LIKE 'rollback%' THEN 1 ELSE 0 END) AS rollback_count`).
		Group("transaction_id")
	if beforeID > 0 {
		q = q.Having("MIN(id) < ?", beforeID)
	}
	var rows []summaryRow
	if err := q.Order("first_id DESC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]TransactionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, TransactionSummary(r))
	}
	return out, nil
}

// PurgeBefore deletes logs created before cutoff. It is a retention tool and
// is never called by a unit of work.
func (s *store) PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	t := tx
	if t == nil {
		t = s.db
	}
	res := t.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&Log{})
	if res.Error != nil {
		return 0, res.Error
	}
	s.log.Info("Purged uow logs", "cutoff", cutoff.UTC(), "deleted", res.RowsAffected)
	return res.RowsAffected, nil
}

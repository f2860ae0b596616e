package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	"github.com/subgate-microservice/subgate-sub000/internal/domain/webhook"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	TableDeliveryTask = "delivery_task"
	TableTelegram     = "telegram"

	defaultSendLimit = 500
)

type DeliveryTaskRecord struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	URL         string         `gorm:"column:url;not null" json:"url"`
	Data        datatypes.JSON `gorm:"column:data;not null" json:"data"`
	Delays      datatypes.JSON `gorm:"column:delays;not null" json:"delays"`
	PartKey     string         `gorm:"column:partkey;not null;index" json:"partkey"`
	AuthID      uuid.UUID      `gorm:"column:auth_id;type:uuid;not null;index" json:"auth_id"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Retries     int            `gorm:"column:retries;not null" json:"retries"`
	ErrorInfo   datatypes.JSON `gorm:"column:error_info;not null" json:"error_info"`
	LastRetryAt *time.Time     `gorm:"column:last_retry_at" json:"last_retry_at"`
	NextRetryAt *time.Time     `gorm:"column:next_retry_at;index" json:"next_retry_at"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null" json:"created_at"`
}

func (DeliveryTaskRecord) TableName() string { return TableDeliveryTask }

type deliveryTaskMapper struct{}

func (deliveryTaskMapper) ModelID(t *webhook.DeliveryTask) string { return t.ID.String() }

func (deliveryTaskMapper) ToRecord(t *webhook.DeliveryTask) (DeliveryTaskRecord, error) {
	if t == nil {
		return DeliveryTaskRecord{}, errors.New("nil delivery task")
	}
	data, err := valueJSON(t.Data)
	if err != nil {
		return DeliveryTaskRecord{}, err
	}
	delays, err := listJSON(t.Delays)
	if err != nil {
		return DeliveryTaskRecord{}, err
	}
	errInfo, err := valueJSON(t.ErrorInfo)
	if err != nil {
		return DeliveryTaskRecord{}, err
	}
	return DeliveryTaskRecord{
		ID:          t.ID,
		URL:         t.URL,
		Data:        data,
		Delays:      delays,
		PartKey:     t.PartKey,
		AuthID:      t.AuthID,
		Status:      string(t.Status),
		Retries:     t.Retries,
		ErrorInfo:   errInfo,
		LastRetryAt: utcPtr(t.LastRetryAt),
		NextRetryAt: utcPtr(t.NextRetryAt()),
		CreatedAt:   t.CreatedAt.UTC(),
	}, nil
}

func (deliveryTaskMapper) ToEntity(r DeliveryTaskRecord) (*webhook.DeliveryTask, error) {
	t := &webhook.DeliveryTask{
		ID:          r.ID,
		URL:         r.URL,
		PartKey:     r.PartKey,
		AuthID:      r.AuthID,
		Status:      webhook.DeliveryStatus(r.Status),
		Retries:     r.Retries,
		LastRetryAt: utcPtr(r.LastRetryAt),
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if err := decodeJSON(r.Data, &t.Data); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.Delays, &t.Delays); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.ErrorInfo, &t.ErrorInfo); err != nil {
		return nil, err
	}
	return t, nil
}

type DeliveryTaskRepo struct {
	*Buffer[*webhook.DeliveryTask, DeliveryTaskRecord]
}

var _ webhook.DeliveryTaskRepo = (*DeliveryTaskRepo)(nil)

func NewDeliveryTaskRepo(env Env) *DeliveryTaskRepo {
	return &DeliveryTaskRepo{
		Buffer: NewBuffer[*webhook.DeliveryTask, DeliveryTaskRecord](env, TableDeliveryTask, "DeliveryTask", deliveryTaskMapper{}),
	}
}

func (r *DeliveryTaskRepo) GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*webhook.DeliveryTask, error) {
	return r.Buffer.GetOneByID(ctx, id.String(), lock)
}

// GetDeliveriesForSend returns up to limit tasks whose next retry is due,
// earliest first.
func (r *DeliveryTaskRepo) GetDeliveriesForSend(ctx context.Context, limit int, lock domain.Lock) ([]*webhook.DeliveryTask, error) {
	return r.Select(ctx, duePage(limit), lock, dueScope(r.env.Now()))
}

type TelegramRecord struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	URL         string         `gorm:"column:url;not null" json:"url"`
	Data        datatypes.JSON `gorm:"column:data;not null" json:"data"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Retries     int            `gorm:"column:retries;not null" json:"retries"`
	MaxRetries  int            `gorm:"column:max_retries;not null" json:"max_retries"`
	ErrorInfo   datatypes.JSON `gorm:"column:error_info;not null" json:"error_info"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
	SentAt      *time.Time     `gorm:"column:sent_at" json:"sent_at"`
	NextRetryAt *time.Time     `gorm:"column:next_retry_at;index" json:"next_retry_at"`
}

func (TelegramRecord) TableName() string { return TableTelegram }

type telegramMapper struct{}

func (telegramMapper) ModelID(t *webhook.Telegram) string { return t.ID.String() }

func (telegramMapper) ToRecord(t *webhook.Telegram) (TelegramRecord, error) {
	if t == nil {
		return TelegramRecord{}, errors.New("nil telegram")
	}
	data, err := valueJSON(t.Data)
	if err != nil {
		return TelegramRecord{}, err
	}
	errInfo, err := valueJSON(t.ErrorInfo)
	if err != nil {
		return TelegramRecord{}, err
	}
	return TelegramRecord{
		ID:          t.ID,
		URL:         t.URL,
		Data:        data,
		Status:      string(t.Status),
		Retries:     t.Retries,
		MaxRetries:  t.MaxRetries,
		ErrorInfo:   errInfo,
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
		SentAt:      utcPtr(t.SentAt),
		NextRetryAt: utcPtr(t.NextRetryAt),
	}, nil
}

func (telegramMapper) ToEntity(r TelegramRecord) (*webhook.Telegram, error) {
	t := &webhook.Telegram{
		ID:          r.ID,
		URL:         r.URL,
		Status:      webhook.DeliveryStatus(r.Status),
		Retries:     r.Retries,
		MaxRetries:  r.MaxRetries,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		SentAt:      utcPtr(r.SentAt),
		NextRetryAt: utcPtr(r.NextRetryAt),
	}
	if err := decodeJSON(r.Data, &t.Data); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.ErrorInfo, &t.ErrorInfo); err != nil {
		return nil, err
	}
	return t, nil
}

type TelegramRepo struct {
	*Buffer[*webhook.Telegram, TelegramRecord]
}

var _ webhook.TelegramRepo = (*TelegramRepo)(nil)

func NewTelegramRepo(env Env) *TelegramRepo {
	return &TelegramRepo{Buffer: NewBuffer[*webhook.Telegram, TelegramRecord](env, TableTelegram, "Telegram", telegramMapper{})}
}

func (r *TelegramRepo) GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*webhook.Telegram, error) {
	return r.Buffer.GetOneByID(ctx, id.String(), lock)
}

func (r *TelegramRepo) GetMessagesForSend(ctx context.Context, limit int, lock domain.Lock) ([]*webhook.Telegram, error) {
	return r.Select(ctx, duePage(limit), lock, dueScope(r.env.Now()))
}

func duePage(limit int) domain.Page {
	if limit <= 0 {
		limit = defaultSendLimit
	}
	return domain.Page{Limit: limit, OrderBy: []domain.Order{{Field: "next_retry_at"}, {Field: "id"}}}
}

func dueScope(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.
			Where(clause.Neq{Column: column("status"), Value: string(webhook.StatusSuccessSent)}).
			Where(clause.Neq{Column: column("next_retry_at"), Value: nil}).
			Where(clause.Lte{Column: column("next_retry_at"), Value: now.UTC()})
	}
}

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

const TableWebhook = "webhook"

type WebhookRecord struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	EventCode string         `gorm:"column:event_code;not null;index" json:"event_code"`
	TargetURL string         `gorm:"column:target_url;not null" json:"target_url"`
	Delays    datatypes.JSON `gorm:"column:delays;not null" json:"delays"`
	AuthID    uuid.UUID      `gorm:"column:auth_id;type:uuid;not null;index" json:"auth_id"`
	CreatedAt time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
	DeletedAt *time.Time     `gorm:"column:deleted_at;index" json:"deleted_at"`
}

func (WebhookRecord) TableName() string { return TableWebhook }

type webhookMapper struct{}

func (webhookMapper) ModelID(w *webhook.Webhook) string { return w.ID.String() }

func (webhookMapper) ToRecord(w *webhook.Webhook) (WebhookRecord, error) {
	if w == nil {
		return WebhookRecord{}, errors.New("nil webhook")
	}
	delays, err := listJSON(w.Delays)
	if err != nil {
		return WebhookRecord{}, err
	}
	return WebhookRecord{
		ID:        w.ID,
		EventCode: w.EventCode,
		TargetURL: w.TargetURL,
		Delays:    delays,
		AuthID:    w.AuthID,
		CreatedAt: w.CreatedAt.UTC(),
		UpdatedAt: w.UpdatedAt.UTC(),
	}, nil
}

func (webhookMapper) ToEntity(r WebhookRecord) (*webhook.Webhook, error) {
	w := &webhook.Webhook{
		ID:        r.ID,
		EventCode: r.EventCode,
		TargetURL: r.TargetURL,
		AuthID:    r.AuthID,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if err := decodeJSON(r.Delays, &w.Delays); err != nil {
		return nil, err
	}
	return w, nil
}

type WebhookRepo struct {
	*Buffer[*webhook.Webhook, WebhookRecord]
}

var _ webhook.WebhookRepo = (*WebhookRepo)(nil)

func NewWebhookRepo(env Env) *WebhookRepo {
	return &WebhookRepo{Buffer: NewBuffer[*webhook.Webhook, WebhookRecord](env, TableWebhook, "Webhook", webhookMapper{})}
}

func (r *WebhookRepo) GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*webhook.Webhook, error) {
	return r.Buffer.GetOneByID(ctx, id.String(), lock)
}

func (r *WebhookRepo) GetSelected(ctx context.Context, f webhook.WebhookFilter, lock domain.Lock) ([]*webhook.Webhook, error) {
	return r.Select(ctx, f.Page, lock, func(q *gorm.DB) *gorm.DB {
		if len(f.IDs) > 0 {
			q = q.Where(clause.IN{Column: column("id"), Values: uuidValues(f.IDs)})
		}
		if len(f.AuthIDs) > 0 {
			q = q.Where(clause.IN{Column: column("auth_id"), Values: uuidValues(f.AuthIDs)})
		}
		if len(f.EventCodes) > 0 {
			q = q.Where(clause.IN{Column: column("event_code"), Values: stringValues(f.EventCodes)})
		}
		return q
	})
}

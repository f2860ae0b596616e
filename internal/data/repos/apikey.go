package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	"github.com/subgate-microservice/subgate-sub000/internal/domain/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const TableApikey = "apikey"

type ApikeyRecord struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PublicID     string    `gorm:"column:public_id;not null;uniqueIndex" json:"public_id"`
	Title        string    `gorm:"column:title;not null" json:"title"`
	AuthID       uuid.UUID `gorm:"column:auth_id;type:uuid;not null;index" json:"auth_id"`
	HashedSecret string    `gorm:"column:hashed_secret;not null" json:"hashed_secret"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (ApikeyRecord) TableName() string { return TableApikey }

type apikeyMapper struct{}

func (apikeyMapper) ModelID(k *auth.Apikey) string { return k.ID.String() }

func (apikeyMapper) ToRecord(k *auth.Apikey) (ApikeyRecord, error) {
	if k == nil {
		return ApikeyRecord{}, errors.New("nil apikey")
	}
	return ApikeyRecord{
		ID:           k.ID,
		PublicID:     k.PublicID,
		Title:        k.Title,
		AuthID:       k.AuthID,
		HashedSecret: k.HashedSecret,
		CreatedAt:    k.CreatedAt.UTC(),
	}, nil
}

func (apikeyMapper) ToEntity(r ApikeyRecord) (*auth.Apikey, error) {
	return &auth.Apikey{
		ID:           r.ID,
		PublicID:     r.PublicID,
		Title:        r.Title,
		AuthID:       r.AuthID,
		HashedSecret: r.HashedSecret,
		CreatedAt:    r.CreatedAt.UTC(),
	}, nil
}

type ApikeyRepo struct {
	*Buffer[*auth.Apikey, ApikeyRecord]
}

var _ auth.ApikeyRepo = (*ApikeyRepo)(nil)

func NewApikeyRepo(env Env) *ApikeyRepo {
	return &ApikeyRepo{Buffer: NewBuffer[*auth.Apikey, ApikeyRecord](env, TableApikey, "Apikey", apikeyMapper{})}
}

func (r *ApikeyRepo) GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*auth.Apikey, error) {
	return r.Buffer.GetOneByID(ctx, id.String(), lock)
}

func (r *ApikeyRepo) GetOneByPublicID(ctx context.Context, publicID string, lock domain.Lock) (*auth.Apikey, error) {
	return r.GetOneBy(ctx, lock, "public_id", publicID)
}

func (r *ApikeyRepo) GetSelected(ctx context.Context, f auth.ApikeyFilter, lock domain.Lock) ([]*auth.Apikey, error) {
	return r.Select(ctx, f.Page, lock, func(q *gorm.DB) *gorm.DB {
		if len(f.AuthIDs) > 0 {
			q = q.Where(clause.IN{Column: column("auth_id"), Values: uuidValues(f.AuthIDs)})
		}
		return q
	})
}

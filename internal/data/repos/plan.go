package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	"github.com/subgate-microservice/subgate-sub000/internal/domain/subscription"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const TablePlan = "plan"

type PlanRecord struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Title        string         `gorm:"column:title;not null" json:"title"`
	Price        float64        `gorm:"column:price;not null" json:"price"`
	Currency     string         `gorm:"column:currency;not null" json:"currency"`
	BillingCycle string         `gorm:"column:billing_cycle;not null" json:"billing_cycle"`
	Description  *string        `gorm:"column:description" json:"description"`
	Level        int            `gorm:"column:level;not null" json:"level"`
	Features     *string        `gorm:"column:features" json:"features"`
	UsageRates   datatypes.JSON `gorm:"column:usage_rates;not null" json:"usage_rates"`
	Discounts    datatypes.JSON `gorm:"column:discounts;not null" json:"discounts"`
	Fields       datatypes.JSON `gorm:"column:fields;not null" json:"fields"`
	AuthID       uuid.UUID      `gorm:"column:auth_id;type:uuid;not null;index" json:"auth_id"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
	DeletedAt    *time.Time     `gorm:"column:deleted_at;index" json:"deleted_at"`
}

func (PlanRecord) TableName() string { return TablePlan }

type planMapper struct{}

func (planMapper) ModelID(p *subscription.Plan) string { return p.ID.String() }

func (planMapper) ToRecord(p *subscription.Plan) (PlanRecord, error) {
	if p == nil {
		return PlanRecord{}, errors.New("nil plan")
	}
	rates, err := listJSON(p.UsageRates)
	if err != nil {
		return PlanRecord{}, err
	}
	discounts, err := listJSON(p.Discounts)
	if err != nil {
		return PlanRecord{}, err
	}
	fields, err := objectJSON(p.Fields)
	if err != nil {
		return PlanRecord{}, err
	}
	return PlanRecord{
		ID:           p.ID,
		Title:        p.Title,
		Price:        p.Price,
		Currency:     p.Currency,
		BillingCycle: string(p.BillingCycle),
		Description:  p.Description,
		Level:        p.Level,
		Features:     p.Features,
		UsageRates:   rates,
		Discounts:    discounts,
		Fields:       fields,
		AuthID:       p.AuthID,
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
	}, nil
}

func (planMapper) ToEntity(r PlanRecord) (*subscription.Plan, error) {
	p := &subscription.Plan{
		ID:           r.ID,
		Title:        r.Title,
		Price:        r.Price,
		Currency:     r.Currency,
		AuthID:       r.AuthID,
		BillingCycle: subscription.Period(r.BillingCycle),
		Description:  r.Description,
		Level:        r.Level,
		Features:     r.Features,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if err := decodeJSON(r.UsageRates, &p.UsageRates); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.Discounts, &p.Discounts); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.Fields, &p.Fields); err != nil {
		return nil, err
	}
	return p, nil
}

type PlanRepo struct {
	*Buffer[*subscription.Plan, PlanRecord]
}

var _ subscription.PlanRepo = (*PlanRepo)(nil)

func NewPlanRepo(env Env) *PlanRepo {
	return &PlanRepo{Buffer: NewBuffer[*subscription.Plan, PlanRecord](env, TablePlan, "Plan", planMapper{})}
}

func (r *PlanRepo) GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*subscription.Plan, error) {
	return r.Buffer.GetOneByID(ctx, id.String(), lock)
}

func (r *PlanRepo) GetSelected(ctx context.Context, f subscription.PlanFilter, lock domain.Lock) ([]*subscription.Plan, error) {
	return r.Select(ctx, f.Page, lock, func(q *gorm.DB) *gorm.DB {
		if len(f.IDs) > 0 {
			q = q.Where(clause.IN{Column: column("id"), Values: uuidValues(f.IDs)})
		}
		if len(f.AuthIDs) > 0 {
			q = q.Where(clause.IN{Column: column("auth_id"), Values: uuidValues(f.AuthIDs)})
		}
		return q
	})
}

func uuidValues(ids []uuid.UUID) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, id)
	}
	return out
}

func stringValues[T ~string](items []T) []any {
	out := make([]any, 0, len(items))
	for _, s := range items {
		out = append(out, string(s))
	}
	return out
}

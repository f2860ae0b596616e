package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
)

// Period is a billing or usage renewal cycle.
type Period string

const (
	Daily      Period = "daily"
	Weekly     Period = "weekly"
	Monthly    Period = "monthly"
	Quarterly  Period = "quarterly"
	Semiannual Period = "semiannual"
	Annual     Period = "annual"
)

// Days is the cycle length. Unknown periods have length zero.
func (p Period) Days() int {
	switch p {
	case Daily:
		return 1
	case Weekly:
		return 7
	case Monthly:
		return 31
	case Quarterly:
		return 92
	case Semiannual:
		return 183
	case Annual:
		return 365
	}
	return 0
}

func (p Period) Valid() bool { return p.Days() > 0 }

func (p Period) NextBillingDate(from time.Time) time.Time {
	return from.AddDate(0, 0, p.Days())
}

const (
	EventPlanCreated = "plan_created"
	EventPlanUpdated = "plan_updated"
	EventPlanDeleted = "plan_deleted"
)

type UsageRate struct {
	Title          string  `json:"title"`
	Code           string  `json:"code"`
	Unit           string  `json:"unit"`
	AvailableUnits float64 `json:"available_units"`
	RenewCycle     Period  `json:"renew_cycle"`
}

type Discount struct {
	Title       string     `json:"title"`
	Code        string     `json:"code"`
	Description *string    `json:"description"`
	Size        float64    `json:"size"`
	ValidUntil  *time.Time `json:"valid_until"`
}

type Plan struct {
	ID           uuid.UUID
	Title        string
	Price        float64
	Currency     string
	AuthID       uuid.UUID
	BillingCycle Period
	Description  *string
	Level        int
	Features     *string
	UsageRates   []UsageRate
	Discounts    []Discount
	Fields       map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPlan builds a plan with a fresh id, level 10 and a monthly cycle.
func NewPlan(title string, price float64, currency string, authID uuid.UUID, now time.Time) (*Plan, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: plan title is required", apperrors.ErrInvalidArgument)
	}
	if price < 0 {
		return nil, fmt.Errorf("%w: plan price must be >= 0", apperrors.ErrInvalidArgument)
	}
	now = now.UTC()
	return &Plan{
		ID:           uuid.New(),
		Title:        title,
		Price:        price,
		Currency:     strings.ToUpper(strings.TrimSpace(currency)),
		AuthID:       authID,
		BillingCycle: Monthly,
		Level:        10,
		Fields:       map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Touch bumps UpdatedAt. Callers mutate fields directly, then touch.
func (p *Plan) Touch(now time.Time) { p.UpdatedAt = now.UTC() }

type PlanFilter struct {
	IDs     []uuid.UUID
	AuthIDs []uuid.UUID
	Page    domain.Page
}

type PlanRepo interface {
	AddOne(item *Plan) error
	AddMany(items []*Plan) error
	UpdateOne(item *Plan) error
	DeleteOne(item *Plan) error
	DeleteMany(items []*Plan) error
	SafeDeleteOne(item *Plan) error
	GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*Plan, error)
	GetSelected(ctx context.Context, filter PlanFilter, lock domain.Lock) ([]*Plan, error)
}

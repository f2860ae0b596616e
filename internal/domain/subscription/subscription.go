package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusExpired Status = "expired"
)

const (
	EventSubscriptionCreated = "subscription_created"
	EventSubscriptionPaused  = "subscription_paused"
	EventSubscriptionResumed = "subscription_resumed"
	EventSubscriptionExpired = "subscription_expired"
	EventSubscriptionRenewed = "subscription_renewed"
)

type PlanInfo struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Level       int       `json:"level"`
	Features    *string   `json:"features"`
}

type BillingInfo struct {
	Price        float64   `json:"price"`
	Currency     string    `json:"currency"`
	BillingCycle Period    `json:"billing_cycle"`
	LastBilling  time.Time `json:"last_billing"`
}

type Usage struct {
	Title          string    `json:"title"`
	Code           string    `json:"code"`
	Unit           string    `json:"unit"`
	AvailableUnits float64   `json:"available_units"`
	UsedUnits      float64   `json:"used_units"`
	RenewCycle     Period    `json:"renew_cycle"`
	LastRenew      time.Time `json:"last_renew"`
}

type Subscription struct {
	ID           uuid.UUID
	Plan         PlanInfo
	Billing      BillingInfo
	SubscriberID string
	AuthID       uuid.UUID
	Autorenew    bool
	Status       Status
	PausedFrom   *time.Time
	Usages       []Usage
	Discounts    []Discount
	Fields       map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewSubscription starts an active subscription of subscriberID to plan.
// Usages are seeded from the plan's usage rates.
func NewSubscription(plan *Plan, subscriberID string, now time.Time) (*Subscription, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: plan is required", apperrors.ErrInvalidArgument)
	}
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return nil, fmt.Errorf("%w: subscriber id is required", apperrors.ErrInvalidArgument)
	}
	now = now.UTC()
	usages := make([]Usage, 0, len(plan.UsageRates))
	for _, r := range plan.UsageRates {
		usages = append(usages, Usage{
			Title:          r.Title,
			Code:           r.Code,
			Unit:           r.Unit,
			AvailableUnits: r.AvailableUnits,
			RenewCycle:     r.RenewCycle,
			LastRenew:      now,
		})
	}
	discounts := append([]Discount(nil), plan.Discounts...)
	return &Subscription{
		ID: uuid.New(),
		Plan: PlanInfo{
			ID:          plan.ID,
			Title:       plan.Title,
			Description: plan.Description,
			Level:       plan.Level,
			Features:    plan.Features,
		},
		Billing: BillingInfo{
			Price:        plan.Price,
			Currency:     plan.Currency,
			BillingCycle: plan.BillingCycle,
			LastBilling:  now,
		},
		SubscriberID: subscriberID,
		AuthID:       plan.AuthID,
		Status:       StatusActive,
		Usages:       usages,
		Discounts:    discounts,
		Fields:       map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *Subscription) IsActive() bool { return s.Status == StatusActive }

// ExpirationDate is the end of the current billing period. A paused
// subscription is extended by the time spent paused.
func (s *Subscription) ExpirationDate(now time.Time) time.Time {
	exp := s.Billing.BillingCycle.NextBillingDate(s.Billing.LastBilling)
	if s.Status == StatusPaused && s.PausedFrom != nil {
		exp = exp.Add(now.Sub(*s.PausedFrom))
	}
	return exp
}

func (s *Subscription) Pause(now time.Time) error {
	if s.Status != StatusActive {
		return fmt.Errorf("%w: only an active subscription can be paused, status is %q", apperrors.ErrInvalidArgument, s.Status)
	}
	now = now.UTC()
	s.Status = StatusPaused
	s.PausedFrom = &now
	s.UpdatedAt = now
	return nil
}

// Resume reactivates a paused subscription, shifting LastBilling forward by
// the paused interval.
func (s *Subscription) Resume(now time.Time) error {
	if s.Status != StatusPaused {
		return fmt.Errorf("%w: only a paused subscription can be resumed, status is %q", apperrors.ErrInvalidArgument, s.Status)
	}
	now = now.UTC()
	if s.PausedFrom != nil {
		s.Billing.LastBilling = s.Billing.LastBilling.Add(now.Sub(*s.PausedFrom))
	}
	s.Status = StatusActive
	s.PausedFrom = nil
	s.UpdatedAt = now
	return nil
}

func (s *Subscription) Expire(now time.Time) {
	s.Status = StatusExpired
	s.PausedFrom = nil
	s.UpdatedAt = now.UTC()
}

// Renew starts a new billing period and reactivates the subscription.
func (s *Subscription) Renew(now time.Time) {
	now = now.UTC()
	s.Billing.LastBilling = now
	s.Status = StatusActive
	s.PausedFrom = nil
	s.UpdatedAt = now
}

// Event builds a domain event about s.
func (s *Subscription) Event(code string, now time.Time) domain.Event {
	return domain.NewEvent(code, s.AuthID, map[string]any{
		"subscription_id": s.ID.String(),
		"subscriber_id":   s.SubscriberID,
		"status":          string(s.Status),
	}, now)
}

type SubscriptionFilter struct {
	IDs           []uuid.UUID
	AuthIDs       []uuid.UUID
	PlanIDs       []uuid.UUID
	SubscriberIDs []string
	Statuses      []Status
	ExpiresBefore *time.Time
	Page          domain.Page
}

type SubscriptionRepo interface {
	AddOne(item *Subscription) error
	AddMany(items []*Subscription) error
	UpdateOne(item *Subscription) error
	DeleteOne(item *Subscription) error
	DeleteMany(items []*Subscription) error
	SafeDeleteOne(item *Subscription) error
	GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*Subscription, error)
	GetSelected(ctx context.Context, filter SubscriptionFilter, lock domain.Lock) ([]*Subscription, error)
	GetSubscriberActiveOne(ctx context.Context, subscriberID string, authID uuid.UUID, lock domain.Lock) (*Subscription, error)
}

// ErrActiveStatusConflict matches every *ActiveStatusConflict.
var ErrActiveStatusConflict = errors.New("active status conflict")

// ActiveStatusConflict is returned when a subscriber would end up with a
// second active subscription under the same auth id.
type ActiveStatusConflict struct {
	SubscriberID string
	Cause        error
}

func (e *ActiveStatusConflict) Error() string {
	if e.SubscriberID == "" {
		return "subscriber already has an active subscription"
	}
	return fmt.Sprintf("subscriber with id %q already has an active subscription", e.SubscriberID)
}

func (e *ActiveStatusConflict) Is(target error) bool { return target == ErrActiveStatusConflict }

func (e *ActiveStatusConflict) Unwrap() error { return e.Cause }

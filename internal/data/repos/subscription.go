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

const (
	TableSubscription = "subscription"
	// GuardIndex is the unique index enforcing one active subscription per
	// subscriber and auth id.
	GuardIndex  = "idx_subscription_active_status_guard"
	GuardColumn = "active_status_guard"
)

type SubscriptionRecord struct {
	ID                uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PlanID            uuid.UUID      `gorm:"column:plan_id;type:uuid;not null;index" json:"plan_id"`
	PlanTitle         string         `gorm:"column:plan_title;not null" json:"plan_title"`
	PlanDescription   *string        `gorm:"column:plan_description" json:"plan_description"`
	PlanLevel         int            `gorm:"column:plan_level;not null" json:"plan_level"`
	PlanFeatures      *string        `gorm:"column:plan_features" json:"plan_features"`
	Price             float64        `gorm:"column:price;not null" json:"price"`
	Currency          string         `gorm:"column:currency;not null" json:"currency"`
	BillingCycle      string         `gorm:"column:billing_cycle;not null" json:"billing_cycle"`
	LastBilling       time.Time      `gorm:"column:last_billing;not null" json:"last_billing"`
	SubscriberID      string         `gorm:"column:subscriber_id;not null;index" json:"subscriber_id"`
	AuthID            uuid.UUID      `gorm:"column:auth_id;type:uuid;not null;index" json:"auth_id"`
	Autorenew         bool           `gorm:"column:autorenew;not null" json:"autorenew"`
	Status            string         `gorm:"column:status;not null;index" json:"status"`
	PausedFrom        *time.Time     `gorm:"column:paused_from" json:"paused_from"`
	ExpirationDate    time.Time      `gorm:"column:expiration_date;not null;index" json:"expiration_date"`
	Usages            datatypes.JSON `gorm:"column:usages;not null" json:"usages"`
	Discounts         datatypes.JSON `gorm:"column:discounts;not null" json:"discounts"`
	Fields            datatypes.JSON `gorm:"column:fields;not null" json:"fields"`
	ActiveStatusGuard string         `gorm:"column:active_status_guard;not null;uniqueIndex:idx_subscription_active_status_guard" json:"active_status_guard"`
	CreatedAt         time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
	DeletedAt         *time.Time     `gorm:"column:deleted_at;index" json:"deleted_at"`
}

func (SubscriptionRecord) TableName() string { return TableSubscription }

// ActiveStatusGuard is deterministic while the subscription is active and a
// fresh unique value otherwise, so the unique index only binds active rows.
func ActiveStatusGuard(s *subscription.Subscription) string {
	if s.IsActive() {
		return s.SubscriberID + "_" + s.AuthID.String()
	}
	return uuid.NewString()
}

type subscriptionMapper struct{}

func (subscriptionMapper) ModelID(s *subscription.Subscription) string { return s.ID.String() }

func (subscriptionMapper) ToRecord(s *subscription.Subscription) (SubscriptionRecord, error) {
	if s == nil {
		return SubscriptionRecord{}, errors.New("nil subscription")
	}
	usages, err := listJSON(s.Usages)
	if err != nil {
		return SubscriptionRecord{}, err
	}
	discounts, err := listJSON(s.Discounts)
	if err != nil {
		return SubscriptionRecord{}, err
	}
	fields, err := objectJSON(s.Fields)
	if err != nil {
		return SubscriptionRecord{}, err
	}
	return SubscriptionRecord{
		ID:                s.ID,
		PlanID:            s.Plan.ID,
		PlanTitle:         s.Plan.Title,
		PlanDescription:   s.Plan.Description,
		PlanLevel:         s.Plan.Level,
		PlanFeatures:      s.Plan.Features,
		Price:             s.Billing.Price,
		Currency:          s.Billing.Currency,
		BillingCycle:      string(s.Billing.BillingCycle),
		LastBilling:       s.Billing.LastBilling.UTC(),
		SubscriberID:      s.SubscriberID,
		AuthID:            s.AuthID,
		Autorenew:         s.Autorenew,
		Status:            string(s.Status),
		PausedFrom:        utcPtr(s.PausedFrom),
		ExpirationDate:    s.Billing.BillingCycle.NextBillingDate(s.Billing.LastBilling).UTC(),
		Usages:            usages,
		Discounts:         discounts,
		Fields:            fields,
		ActiveStatusGuard: ActiveStatusGuard(s),
		CreatedAt:         s.CreatedAt.UTC(),
		UpdatedAt:         s.UpdatedAt.UTC(),
	}, nil
}

func (subscriptionMapper) ToEntity(r SubscriptionRecord) (*subscription.Subscription, error) {
	s := &subscription.Subscription{
		ID: r.ID,
		Plan: subscription.PlanInfo{
			ID:          r.PlanID,
			Title:       r.PlanTitle,
			Description: r.PlanDescription,
			Level:       r.PlanLevel,
			Features:    r.PlanFeatures,
		},
		Billing: subscription.BillingInfo{
			Price:        r.Price,
			Currency:     r.Currency,
			BillingCycle: subscription.Period(r.BillingCycle),
			LastBilling:  r.LastBilling.UTC(),
		},
		SubscriberID: r.SubscriberID,
		AuthID:       r.AuthID,
		Autorenew:    r.Autorenew,
		Status:       subscription.Status(r.Status),
		PausedFrom:   utcPtr(r.PausedFrom),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if err := decodeJSON(r.Usages, &s.Usages); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.Discounts, &s.Discounts); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.Fields, &s.Fields); err != nil {
		return nil, err
	}
	return s, nil
}

type SubscriptionRepo struct {
	*Buffer[*subscription.Subscription, SubscriptionRecord]
}

var _ subscription.SubscriptionRepo = (*SubscriptionRepo)(nil)

func NewSubscriptionRepo(env Env) *SubscriptionRepo {
	return &SubscriptionRepo{
		Buffer: NewBuffer[*subscription.Subscription, SubscriptionRecord](env, TableSubscription, "Subscription", subscriptionMapper{}),
	}
}

func (r *SubscriptionRepo) GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*subscription.Subscription, error) {
	return r.Buffer.GetOneByID(ctx, id.String(), lock)
}

// GetSubscriberActiveOne returns the active subscription of subscriberID
// under authID, if any.
func (r *SubscriptionRepo) GetSubscriberActiveOne(ctx context.Context, subscriberID string, authID uuid.UUID, lock domain.Lock) (*subscription.Subscription, error) {
	active := &subscription.Subscription{SubscriberID: subscriberID, AuthID: authID, Status: subscription.StatusActive}
	return r.GetOneBy(ctx, lock, GuardColumn, ActiveStatusGuard(active))
}

func (r *SubscriptionRepo) GetSelected(ctx context.Context, f subscription.SubscriptionFilter, lock domain.Lock) ([]*subscription.Subscription, error) {
	return r.Select(ctx, f.Page, lock, func(q *gorm.DB) *gorm.DB {
		if len(f.IDs) > 0 {
			q = q.Where(clause.IN{Column: column("id"), Values: uuidValues(f.IDs)})
		}
		if len(f.AuthIDs) > 0 {
			q = q.Where(clause.IN{Column: column("auth_id"), Values: uuidValues(f.AuthIDs)})
		}
		if len(f.PlanIDs) > 0 {
			q = q.Where(clause.IN{Column: column("plan_id"), Values: uuidValues(f.PlanIDs)})
		}
		if len(f.SubscriberIDs) > 0 {
			q = q.Where(clause.IN{Column: column("subscriber_id"), Values: stringValues(f.SubscriberIDs)})
		}
		if len(f.Statuses) > 0 {
			q = q.Where(clause.IN{Column: column("status"), Values: stringValues(f.Statuses)})
		}
		if f.ExpiresBefore != nil {
			q = q.Where(clause.Lt{Column: column("expiration_date"), Value: f.ExpiresBefore.UTC()})
		}
		return q
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

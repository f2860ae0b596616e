package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/domain/subscription"
	"github.com/subgate-microservice/subgate-sub000/internal/domain/webhook"
)

// Clock is a settable test clock.
type Clock struct {
	T time.Time
}

func NewClock() *Clock {
	return &Clock{T: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

func Plan(tb testing.TB, title string, authID uuid.UUID, now time.Time) *subscription.Plan {
	tb.Helper()
	p, err := subscription.NewPlan(title, 10, "USD", authID, now)
	if err != nil {
		tb.Fatalf("new plan: %v", err)
	}
	desc := title + " plan"
	p.Description = &desc
	p.UsageRates = []subscription.UsageRate{
		{Title: "API calls", Code: "api_calls", Unit: "call", AvailableUnits: 1000, RenewCycle: subscription.Monthly},
	}
	p.Fields = map[string]any{"tier": title}
	return p
}

func Subscription(tb testing.TB, plan *subscription.Plan, subscriberID string, now time.Time) *subscription.Subscription {
	tb.Helper()
	s, err := subscription.NewSubscription(plan, subscriberID, now)
	if err != nil {
		tb.Fatalf("new subscription: %v", err)
	}
	return s
}

func Webhook(tb testing.TB, eventCode string, authID uuid.UUID, now time.Time) *webhook.Webhook {
	tb.Helper()
	w, err := webhook.NewWebhook(eventCode, "https://hooks.example.com/"+eventCode, []int{0, 10, 60}, authID, now)
	if err != nil {
		tb.Fatalf("new webhook: %v", err)
	}
	return w
}

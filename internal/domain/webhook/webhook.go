package webhook

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
)

type Webhook struct {
	ID        uuid.UUID
	EventCode string
	TargetURL string
	// Delays between retries, in seconds.
	Delays    []int
	AuthID    uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewWebhook(eventCode, targetURL string, delays []int, authID uuid.UUID, now time.Time) (*Webhook, error) {
	eventCode = strings.TrimSpace(eventCode)
	if eventCode == "" {
		return nil, fmt.Errorf("%w: event code is required", apperrors.ErrInvalidArgument)
	}
	u, err := url.Parse(strings.TrimSpace(targetURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid target url %q", apperrors.ErrInvalidArgument, targetURL)
	}
	for _, d := range delays {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative retry delay", apperrors.ErrInvalidArgument)
		}
	}
	now = now.UTC()
	return &Webhook{
		ID:        uuid.New(),
		EventCode: eventCode,
		TargetURL: u.String(),
		Delays:    append([]int{}, delays...),
		AuthID:    authID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (w *Webhook) MaxRetries() int { return len(w.Delays) + 1 }

type WebhookFilter struct {
	IDs        []uuid.UUID
	AuthIDs    []uuid.UUID
	EventCodes []string
	Page       domain.Page
}

type WebhookRepo interface {
	AddOne(item *Webhook) error
	AddMany(items []*Webhook) error
	UpdateOne(item *Webhook) error
	DeleteOne(item *Webhook) error
	DeleteMany(items []*Webhook) error
	SafeDeleteOne(item *Webhook) error
	GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*Webhook, error)
	GetSelected(ctx context.Context, filter WebhookFilter, lock domain.Lock) ([]*Webhook, error)
}

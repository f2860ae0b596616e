package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
)

const defaultTelegramRetries = 13

// Telegram is a fire-and-retry message with a fixed one second backoff.
type Telegram struct {
	ID          uuid.UUID
	URL         string
	Data        Message
	Status      DeliveryStatus
	Retries     int
	MaxRetries  int
	ErrorInfo   *SentErrorInfo
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SentAt      *time.Time
	NextRetryAt *time.Time
}

func NewTelegram(url string, msg Message, now time.Time) *Telegram {
	now = now.UTC()
	return &Telegram{
		ID:          uuid.New(),
		URL:         url,
		Data:        msg,
		Status:      StatusUnprocessed,
		MaxRetries:  defaultTelegramRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
		NextRetryAt: &now,
	}
}

func (t *Telegram) FailedSent(info SentErrorInfo, now time.Time) {
	now = now.UTC()
	var next *time.Time
	if t.Retries+1 < t.MaxRetries {
		at := now.Add(time.Second)
		next = &at
	}
	t.Status = StatusFailedSent
	t.Retries++
	t.NextRetryAt = next
	t.ErrorInfo = &info
	t.SentAt = &now
	t.UpdatedAt = now
}

func (t *Telegram) SuccessSent(now time.Time) {
	now = now.UTC()
	t.Status = StatusSuccessSent
	t.Retries++
	t.NextRetryAt = nil
	t.ErrorInfo = nil
	t.SentAt = &now
	t.UpdatedAt = now
}

type TelegramRepo interface {
	AddOne(item *Telegram) error
	AddMany(items []*Telegram) error
	UpdateOne(item *Telegram) error
	DeleteOne(item *Telegram) error
	GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*Telegram, error)
	GetMessagesForSend(ctx context.Context, limit int, lock domain.Lock) ([]*Telegram, error)
}

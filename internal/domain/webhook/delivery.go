package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
)

type DeliveryStatus string

const (
	StatusUnprocessed DeliveryStatus = "unprocessed"
	StatusSuccessSent DeliveryStatus = "success_sent"
	StatusFailedSent  DeliveryStatus = "failed_sent"
)

type SentErrorInfo struct {
	StatusCode int    `json:"status_code"`
	Detail     string `json:"detail"`
}

// Message is the body delivered to a webhook target.
type Message struct {
	Type       string         `json:"type"`
	EventCode  string         `json:"event_code"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

func MessageFromEvent(ev domain.Event) Message {
	payload := make(map[string]any, len(ev.Payload))
	for k, v := range ev.Payload {
		payload[k] = v
	}
	return Message{Type: "event", EventCode: ev.Code, OccurredAt: ev.OccurredAt, Payload: payload}
}

// DeliveryTask is one pending delivery of a message to a webhook target.
type DeliveryTask struct {
	ID          uuid.UUID
	URL         string
	Data        Message
	Delays      []int
	PartKey     string
	AuthID      uuid.UUID
	Status      DeliveryStatus
	Retries     int
	ErrorInfo   *SentErrorInfo
	LastRetryAt *time.Time
	CreatedAt   time.Time
}

func NewDeliveryTask(hook *Webhook, msg Message, partKey string, now time.Time) *DeliveryTask {
	return &DeliveryTask{
		ID:        uuid.New(),
		URL:       hook.TargetURL,
		Data:      msg,
		Delays:    append([]int{}, hook.Delays...),
		PartKey:   partKey,
		AuthID:    hook.AuthID,
		Status:    StatusUnprocessed,
		CreatedAt: now.UTC(),
	}
}

func (t *DeliveryTask) MaxRetries() int { return len(t.Delays) + 1 }

// NextRetryAt is nil once the task is sent or out of retries. An
// unprocessed task is due right away.
func (t *DeliveryTask) NextRetryAt() *time.Time {
	switch t.Status {
	case StatusSuccessSent:
		return nil
	case StatusUnprocessed:
		at := t.CreatedAt
		return &at
	}
	if t.Retries >= t.MaxRetries() || t.LastRetryAt == nil {
		return nil
	}
	at := t.LastRetryAt.Add(time.Duration(t.Delays[t.Retries-1]) * time.Second)
	return &at
}

func (t *DeliveryTask) FailedSent(info SentErrorInfo, now time.Time) {
	now = now.UTC()
	t.Status = StatusFailedSent
	t.Retries++
	t.ErrorInfo = &info
	t.LastRetryAt = &now
}

func (t *DeliveryTask) SuccessSent(now time.Time) {
	now = now.UTC()
	t.Status = StatusSuccessSent
	t.Retries++
	t.ErrorInfo = nil
	t.LastRetryAt = &now
}

type DeliveryTaskRepo interface {
	AddOne(item *DeliveryTask) error
	AddMany(items []*DeliveryTask) error
	UpdateOne(item *DeliveryTask) error
	DeleteOne(item *DeliveryTask) error
	GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*DeliveryTask, error)
	GetDeliveriesForSend(ctx context.Context, limit int, lock domain.Lock) ([]*DeliveryTask, error)
}

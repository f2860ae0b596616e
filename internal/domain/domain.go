// Package domain holds the vocabulary shared by every aggregate: row lock
// modes, paging and the events pushed onto a unit of work.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
)

// Lock selects the row locking mode of a repository read.
type Lock string

const (
	LockNone  Lock = "none"
	LockRead  Lock = "read"
	LockWrite Lock = "write"
)

func (l Lock) Valid() bool {
	switch l {
	case "", LockNone, LockRead, LockWrite:
		return true
	}
	return false
}

// Order is one ORDER BY term. Field is a storage column name.
type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Page limits a selection. A zero Limit means no limit.
type Page struct {
	Skip    int     `json:"skip"`
	Limit   int     `json:"limit"`
	OrderBy []Order `json:"order_by"`
}

func (p Page) Validate() error {
	if p.Skip < 0 {
		return fmt.Errorf("%w: skip must be >= 0, got %d", apperrors.ErrInvalidArgument, p.Skip)
	}
	if p.Limit < 0 {
		return fmt.Errorf("%w: limit must be >= 0, got %d", apperrors.ErrInvalidArgument, p.Limit)
	}
	for _, o := range p.OrderBy {
		if strings.TrimSpace(o.Field) == "" {
			return fmt.Errorf("%w: empty order field", apperrors.ErrInvalidArgument)
		}
	}
	return nil
}

// Event is a domain event published once the unit of work that produced it
// has committed.
type Event struct {
	Code       string         `json:"event_code"`
	AuthID     uuid.UUID      `json:"auth_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

func NewEvent(code string, authID uuid.UUID, payload map[string]any, now time.Time) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Code: code, AuthID: authID, OccurredAt: now.UTC(), Payload: payload}
}

// Package bus fans committed domain events out to other processes.
package bus

import (
	"context"

	"github.com/subgate-microservice/subgate-sub000/internal/domain"
)

type Bus interface {
	Publish(ctx context.Context, events []domain.Event) error
	StartForwarder(ctx context.Context, onEvent func(e domain.Event)) error
	Close() error
}

package interfaces

import (
	"context"

	"github.com/triagebox/mailsync/dto"
)

// EventPublisher emits domain events onto the message bus. Publishing is
// fire-and-forget from the sync pipeline's point of view.
type EventPublisher interface {
	PublishEmailIndexed(ctx context.Context, event dto.EmailIndexed) error
	Close() error
}

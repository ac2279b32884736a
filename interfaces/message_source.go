package interfaces

import (
	"context"
	"time"

	"github.com/triagebox/mailsync/internal/models"
)

// MessageSource is a stateful connection to one remote mailbox folder.
// Implementations hold a live network session that must be released with
// Close.
type MessageSource interface {
	// Connect dials, authenticates and selects the folder. Configuration-level
	// failures (for example an unresolvable host) are wrapped with
	// mailsync_errors.ErrInvalidAccount so callers can stop retrying.
	Connect(ctx context.Context, account *models.Account) error

	// SearchSince returns the UIDs of all messages with arrival time on or
	// after since. An empty result is valid.
	SearchSince(ctx context.Context, since time.Time) ([]uint32, error)

	// SearchUnseen returns the UIDs of messages not yet marked seen by the
	// remote mailbox. Used only in live mode.
	SearchUnseen(ctx context.Context) ([]uint32, error)

	// FetchRaw retrieves the full raw message bytes for one UID. A failure
	// here is per-message and must not abort the batch.
	FetchRaw(ctx context.Context, uid uint32) (*models.RawMessage, error)

	// Notifications delivers coalesced new-mail signals. The channel is
	// bounded; bursts arriving faster than the listener drains them collapse
	// into a single pending signal.
	Notifications() <-chan struct{}

	// Listen keeps the server-push session alive until the context is
	// cancelled or the connection breaks, feeding Notifications.
	Listen(ctx context.Context) error

	Close()
}

// SourceFactory builds a MessageSource for an account; swapped out in tests.
type SourceFactory func(account *models.Account, folder string) MessageSource

package interfaces

import (
	"context"

	"github.com/triagebox/mailsync/internal/models"
)

// NotificationSink signals that an email needs human attention. Best-effort:
// implementations log and swallow failures, never propagating them into the
// sync pipeline.
type NotificationSink interface {
	NotifyEmail(ctx context.Context, doc *models.EmailDocument)
}

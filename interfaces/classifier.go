package interfaces

import (
	"context"

	"github.com/triagebox/mailsync/internal/enum"
)

// Classifier labels an email with one of the closed triage categories.
// Invoked by the API layer only; the sync pipeline never calls it and only
// preserves whatever category it finds already stored.
type Classifier interface {
	// Classify returns one of enum.ClassifierLabels, or
	// enum.CategoryUncategorized on any failure. It never returns an error to
	// the caller beyond the fallback label.
	Classify(ctx context.Context, subject, body string) enum.EmailCategory
}

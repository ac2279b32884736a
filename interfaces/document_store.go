package interfaces

import (
	"context"

	"github.com/triagebox/mailsync/internal/models"
)

// DocumentStore is the external content-addressed index. It is shared across
// all account pipelines and externally synchronized: concurrent exists+upsert
// sequences for a single document are the store's problem, not the caller's.
type DocumentStore interface {
	EnsureIndex(ctx context.Context) error
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns nil with no error when the document is absent.
	Get(ctx context.Context, key string) (*models.EmailDocument, error)
	// BulkApply submits one write set atomically from the caller's
	// perspective. Partial failure surfaces as a single error.
	BulkApply(ctx context.Context, set *models.BulkWriteSet) error
	Search(ctx context.Context, query SearchQuery) (*SearchResult, error)
}

type SearchQuery struct {
	Text      string
	AccountID string
	Folder    string
	Category  string
	Page      int
	Limit     int
}

type SearchResult struct {
	Emails []*models.EmailDocument `json:"emails"`
	Total  int64                   `json:"total"`
}

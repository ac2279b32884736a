package interfaces

import (
	"context"
	"time"

	"github.com/triagebox/mailsync/internal/enum"
	"github.com/triagebox/mailsync/internal/models"
)

// SyncEngine fans out one orchestrator per configured account. Failure in one
// account's pipeline never stops the others.
type SyncEngine interface {
	Start(ctx context.Context) error
	Stop() error
	AddAccount(ctx context.Context, account *models.Account) error
	RemoveAccount(ctx context.Context, accountID string) error
	Status() map[string]AccountStatus
	// Resync asks every listening orchestrator to re-run its backfill window;
	// used by the periodic safety-net job.
	Resync()
}

type AccountStatus struct {
	Phase        enum.SyncPhase `json:"phase"`
	LastError    string         `json:"lastError,omitempty"`
	LastChecked  time.Time      `json:"lastChecked"`
	Inserted     int64          `json:"inserted"`
	Updated      int64          `json:"updated"`
	LastSyncedAt *time.Time     `json:"lastSyncedAt,omitempty"`
}

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailsync_errors "github.com/triagebox/mailsync/errors"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/enum"
	"github.com/triagebox/mailsync/internal/models"
)

func TestScheduler_StartLaunchesConfiguredAccounts(t *testing.T) {
	source := newFakeSource()
	store := newMemoryStore()
	repo := &fakeAccountRepo{
		accounts: []*models.Account{testAccount("acct1"), testAccount("acct2")},
	}

	s := NewScheduler(testDeps(source, store, repo))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		statuses := s.Status()
		if len(statuses) != 2 {
			return false
		}
		for _, status := range statuses {
			if status.Phase != enum.SyncListening {
				return false
			}
		}
		return true
	})
}

func TestScheduler_AddAccountRejectsDuplicates(t *testing.T) {
	source := newFakeSource()
	store := newMemoryStore()
	repo := &fakeAccountRepo{}

	s := NewScheduler(testDeps(source, store, repo))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	account := testAccount("acct1")
	require.NoError(t, s.AddAccount(context.Background(), account))

	err := s.AddAccount(context.Background(), account)
	assert.ErrorIs(t, err, mailsync_errors.ErrAccountExists)
}

func TestScheduler_RemoveAccountStopsSync(t *testing.T) {
	source := newFakeSource()
	store := newMemoryStore()
	repo := &fakeAccountRepo{
		accounts: []*models.Account{testAccount("acct1")},
	}

	s := NewScheduler(testDeps(source, store, repo))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return len(s.Status()) == 1 })

	require.NoError(t, s.RemoveAccount(context.Background(), "acct1"))
	assert.Empty(t, s.Status())

	err := s.RemoveAccount(context.Background(), "acct1")
	assert.ErrorIs(t, err, mailsync_errors.ErrAccountUnknown)
}

func TestScheduler_OneFailingAccountDoesNotStopOthers(t *testing.T) {
	healthy := newFakeSource()
	broken := newFakeSource()
	broken.connectErr = mailsync_errors.ErrInvalidAccount

	store := newMemoryStore()
	repo := &fakeAccountRepo{}

	deps := testDeps(healthy, store, repo)
	deps.Factory = func(account *models.Account, folder string) interfaces.MessageSource {
		if account.ID == "bad" {
			return broken
		}
		return healthy
	}

	s := NewScheduler(deps)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.AddAccount(context.Background(), testAccount("bad")))
	require.NoError(t, s.AddAccount(context.Background(), testAccount("good")))

	waitFor(t, 2*time.Second, func() bool {
		statuses := s.Status()
		return statuses["bad"].Phase == enum.SyncFailed && statuses["good"].Phase == enum.SyncListening
	})
}

func TestScheduler_StopIsIdempotentAcrossRestart(t *testing.T) {
	source := newFakeSource()
	store := newMemoryStore()
	repo := &fakeAccountRepo{}

	s := NewScheduler(testDeps(source, store, repo))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())

	// A stopped engine can be started again.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailsync_errors "github.com/triagebox/mailsync/errors"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/enum"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/repository"
	"github.com/triagebox/mailsync/services/decoder"
	"github.com/triagebox/mailsync/services/reconciler"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func testAccount(id string) *models.Account {
	return &models.Account{
		ID:           id,
		EmailAddress: id + "@example.com",
		ImapServer:   "imap.example.com",
		ImapPort:     993,
		ImapUsername: id + "@example.com",
		ImapPassword: "secret",
		ImapTLS:      true,
		Folders:      pq.StringArray{"INBOX"},
	}
}

func rawEmail(uid uint32, subject string) []byte {
	return []byte(fmt.Sprintf(
		"From: alice@example.com\r\nTo: bob@example.com\r\nSubject: %s\r\nDate: Mon, 02 Jan 2006 15:04:05 +0000\r\n\r\nbody %d",
		subject, uid))
}

// fakeSource scripts a MessageSource for one folder.
type fakeSource struct {
	mu            sync.Mutex
	connectErr    error
	backfillUIDs  []uint32
	unseenUIDs    []uint32
	messages      map[uint32][]byte
	notifications chan struct{}
	listenErr     chan error
	closed        bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages:      make(map[uint32][]byte),
		notifications: make(chan struct{}, 1),
		listenErr:     make(chan error, 1),
	}
}

func (f *fakeSource) addMessage(uid uint32, subject string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[uid] = rawEmail(uid, subject)
}

func (f *fakeSource) Connect(ctx context.Context, account *models.Account) error {
	return f.connectErr
}

func (f *fakeSource) SearchSince(ctx context.Context, since time.Time) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.backfillUIDs...), nil
}

func (f *fakeSource) SearchUnseen(ctx context.Context) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.unseenUIDs...), nil
}

func (f *fakeSource) FetchRaw(ctx context.Context, uid uint32) (*models.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.messages[uid]
	if !ok {
		return nil, mailsync_errors.ErrEmptyMessage
	}
	return &models.RawMessage{UID: uid, Raw: raw}, nil
}

func (f *fakeSource) Notifications() <-chan struct{} {
	return f.notifications
}

func (f *fakeSource) Listen(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-f.listenErr:
		return err
	}
}

func (f *fakeSource) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// memoryStore is a concurrency-safe in-memory DocumentStore.
type memoryStore struct {
	mu   sync.Mutex
	docs map[string]*models.EmailDocument
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[string]*models.EmailDocument)}
}

func (s *memoryStore) EnsureIndex(ctx context.Context) error { return nil }

func (s *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[key]
	return ok, nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (*models.EmailDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (s *memoryStore) BulkApply(ctx context.Context, set *models.BulkWriteSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range set.Ops {
		copied := *op.Doc
		s.docs[op.Doc.ID] = &copied
	}
	return nil
}

func (s *memoryStore) Search(ctx context.Context, query interfaces.SearchQuery) (*interfaces.SearchResult, error) {
	return &interfaces.SearchResult{}, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// fakeAccountRepo records status transitions without a database.
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts []*models.Account
	statuses []enum.ConnectionStatus
	synced   int
}

func (r *fakeAccountRepo) GetAccounts(ctx context.Context) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Account(nil), r.accounts...), nil
}

func (r *fakeAccountRepo) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return nil, nil
}

func (r *fakeAccountRepo) SaveAccount(ctx context.Context, account *models.Account) error {
	return nil
}

func (r *fakeAccountRepo) UpsertByEmailAddress(ctx context.Context, account *models.Account) error {
	return nil
}

func (r *fakeAccountRepo) DeleteAccount(ctx context.Context, id string) error {
	return nil
}

func (r *fakeAccountRepo) UpdateConnectionStatus(ctx context.Context, id string, status enum.ConnectionStatus, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeAccountRepo) MarkSynced(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced++
	return nil
}

func (r *fakeAccountRepo) lastStatus() enum.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func testDeps(source *fakeSource, store *memoryStore, repo *fakeAccountRepo) OrchestratorDeps {
	return OrchestratorDeps{
		Factory: func(account *models.Account, folder string) interfaces.MessageSource {
			return source
		},
		Store:          store,
		Decoder:        decoder.NewDecoder(decoder.MissingDateUseNow),
		Reconciler:     reconciler.NewReconciler(getLogger()),
		Repositories:   &repository.Repositories{AccountRepository: repo},
		Log:            getLogger(),
		BackfillWindow: 30 * 24 * time.Hour,
		FetchBatchSize: 2,
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestOrchestrator_BackfillIndexesHistoricalMessages(t *testing.T) {
	source := newFakeSource()
	source.backfillUIDs = []uint32{1, 2, 3}
	source.addMessage(1, "one")
	source.addMessage(2, "two")
	source.addMessage(3, "three")

	store := newMemoryStore()
	repo := &fakeAccountRepo{}
	o := NewOrchestrator(testAccount("acct1"), testDeps(source, store, repo))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()

	waitFor(t, 2*time.Second, func() bool { return store.count() == 3 })
	waitFor(t, 2*time.Second, func() bool { return o.Status().Phase == enum.SyncListening })

	status := o.Status()
	assert.Equal(t, int64(3), status.Inserted)
	assert.Equal(t, int64(0), status.Updated)
	assert.NotNil(t, status.LastSyncedAt)

	cancel()
	<-done
}

func TestOrchestrator_DuplicateNotificationDoesNotDuplicate(t *testing.T) {
	source := newFakeSource()
	source.backfillUIDs = []uint32{1, 2, 3}
	source.addMessage(1, "one")
	source.addMessage(2, "two")
	source.addMessage(3, "three")
	source.unseenUIDs = []uint32{1, 2, 3}

	store := newMemoryStore()
	repo := &fakeAccountRepo{}
	o := NewOrchestrator(testAccount("acct1"), testDeps(source, store, repo))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()

	waitFor(t, 2*time.Second, func() bool { return o.Status().Phase == enum.SyncListening })

	// Live notification re-announces the already indexed messages.
	source.notifications <- struct{}{}

	waitFor(t, 2*time.Second, func() bool { return o.Status().Updated == 3 })

	status := o.Status()
	assert.Equal(t, int64(3), status.Inserted)
	assert.Equal(t, 3, store.count())

	cancel()
	<-done
}

func TestOrchestrator_InvalidAccountIsTerminal(t *testing.T) {
	source := newFakeSource()
	source.connectErr = mailsync_errors.ErrInvalidAccount

	store := newMemoryStore()
	repo := &fakeAccountRepo{}
	o := NewOrchestrator(testAccount("acct1"), testDeps(source, store, repo))

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop on invalid account")
	}

	assert.Equal(t, enum.SyncFailed, o.Status().Phase)
	assert.Equal(t, enum.ConnectionFailed, repo.lastStatus())
}

func TestOrchestrator_ResyncRerunsBackfillWindow(t *testing.T) {
	source := newFakeSource()
	store := newMemoryStore()
	repo := &fakeAccountRepo{}
	o := NewOrchestrator(testAccount("acct1"), testDeps(source, store, repo))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()

	waitFor(t, 2*time.Second, func() bool { return o.Status().Phase == enum.SyncListening })

	// New history appears after the initial backfill; a resync must pick it up.
	source.mu.Lock()
	source.backfillUIDs = []uint32{7}
	source.messages[7] = rawEmail(7, "late arrival")
	source.mu.Unlock()

	o.RequestResync()

	waitFor(t, 2*time.Second, func() bool { return store.count() == 1 })

	cancel()
	<-done
}

func TestOrchestrator_PartialFetchFailureSkipsMessage(t *testing.T) {
	source := newFakeSource()
	source.backfillUIDs = []uint32{1, 2}
	source.addMessage(2, "only this one exists")

	store := newMemoryStore()
	repo := &fakeAccountRepo{}
	o := NewOrchestrator(testAccount("acct1"), testDeps(source, store, repo))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()

	waitFor(t, 2*time.Second, func() bool { return o.Status().Phase == enum.SyncListening })

	require.Equal(t, 1, store.count())
	assert.Equal(t, int64(1), o.Status().Inserted)

	cancel()
	<-done
}

package sync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	mailsync_errors "github.com/triagebox/mailsync/errors"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

// Scheduler fans accounts out to orchestrators, one goroutine each. It is the
// sole owner of the accountID→orchestrator map; nothing else in the process
// holds a reference to a running orchestrator or its connection.
type Scheduler struct {
	deps OrchestratorDeps

	mu      sync.RWMutex
	entries map[string]*schedulerEntry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type schedulerEntry struct {
	orchestrator *Orchestrator
	cancel       context.CancelFunc
}

func NewScheduler(deps OrchestratorDeps) *Scheduler {
	return &Scheduler{
		deps:    deps,
		entries: make(map[string]*schedulerEntry),
	}
}

// Start loads the account registry and launches one orchestrator per account.
func (s *Scheduler) Start(ctx context.Context) error {
	span, ctx := tracing.StartTracerSpan(ctx, "Scheduler.Start")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("sync engine already started")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	accounts, err := s.deps.Repositories.AccountRepository.GetAccounts(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to load accounts")
	}

	span.LogFields(tracingLog.Int("account_count", len(accounts)))

	for _, account := range accounts {
		if err := s.launch(account); err != nil {
			log.Printf("[%s] Failed to launch account sync: %v", account.ID, err)
		}
	}

	return nil
}

// Stop cancels every orchestrator and waits for them to drain, bounded by a
// timeout so a wedged connection cannot block shutdown.
func (s *Scheduler) Stop() error {
	log.Println("Stopping sync engine...")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All account syncs completed gracefully")
	case <-time.After(shutdownTimeout):
		log.Println("Timeout waiting for account syncs to complete")
	}

	s.mu.Lock()
	s.entries = make(map[string]*schedulerEntry)
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	log.Println("Sync engine stopped")
	return nil
}

func (s *Scheduler) AddAccount(ctx context.Context, account *models.Account) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Scheduler.AddAccount")
	defer span.Finish()
	tracing.TagAccount(span, account.ID)

	if account == nil || account.ID == "" {
		err := errors.New("account is nil or has no ID")
		tracing.TraceErr(span, err)
		return err
	}

	err := s.launch(account)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (s *Scheduler) RemoveAccount(ctx context.Context, accountID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Scheduler.RemoveAccount")
	defer span.Finish()
	tracing.TagAccount(span, accountID)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[accountID]
	if !exists {
		err := errors.Wrap(mailsync_errors.ErrAccountUnknown, accountID)
		tracing.TraceErr(span, err)
		return err
	}

	entry.cancel()
	delete(s.entries, accountID)
	return nil
}

func (s *Scheduler) Status() map[string]interfaces.AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]interfaces.AccountStatus, len(s.entries))
	for id, entry := range s.entries {
		result[id] = entry.orchestrator.Status()
	}
	return result
}

func (s *Scheduler) Resync() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		entry.orchestrator.RequestResync()
	}
}

func (s *Scheduler) launch(account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return errors.New("sync engine not started")
	}
	if _, exists := s.entries[account.ID]; exists {
		return errors.Wrap(mailsync_errors.ErrAccountExists, account.ID)
	}

	orchestrator := NewOrchestrator(account, s.deps)
	accountCtx, cancel := context.WithCancel(s.ctx)
	s.entries[account.ID] = &schedulerEntry{orchestrator: orchestrator, cancel: cancel}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		orchestrator.Run(accountCtx)
	}()

	return nil
}

var _ interfaces.SyncEngine = (*Scheduler)(nil)

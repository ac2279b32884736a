package sync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/triagebox/mailsync/dto"
	mailsync_errors "github.com/triagebox/mailsync/errors"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/enum"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/repository"
	"github.com/triagebox/mailsync/internal/tracing"
	"github.com/triagebox/mailsync/internal/utils"
	"github.com/triagebox/mailsync/services/decoder"
	"github.com/triagebox/mailsync/services/reconciler"
)

const (
	initialBackoff   = time.Second
	maxBackoff       = 2 * time.Minute
	backoffFactor    = 1.5
	rawEmailMimeType = "message/rfc822"
)

// Orchestrator drives the full sync lifecycle for one account: connect,
// backfill the historical window, then hold a live session per folder and
// drain its notifications. All message processing for the account happens on
// the Run goroutine; bursts coalesce in the sources' bounded channels.
type Orchestrator struct {
	account *models.Account
	factory interfaces.SourceFactory
	store   interfaces.DocumentStore
	decoder *decoder.Decoder
	recon   *reconciler.Reconciler
	repos   *repository.Repositories
	events  interfaces.EventPublisher
	archive interfaces.StorageService
	log     logger.Logger

	backfillWindow time.Duration
	fetchBatchSize int

	resync chan struct{}

	statusMutex sync.RWMutex
	status      interfaces.AccountStatus
}

type OrchestratorDeps struct {
	Factory        interfaces.SourceFactory
	Store          interfaces.DocumentStore
	Decoder        *decoder.Decoder
	Reconciler     *reconciler.Reconciler
	Repositories   *repository.Repositories
	Events         interfaces.EventPublisher
	Archive        interfaces.StorageService
	Log            logger.Logger
	BackfillWindow time.Duration
	FetchBatchSize int
}

func NewOrchestrator(account *models.Account, deps OrchestratorDeps) *Orchestrator {
	batchSize := deps.FetchBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Orchestrator{
		account:        account,
		factory:        deps.Factory,
		store:          deps.Store,
		decoder:        deps.Decoder,
		recon:          deps.Reconciler,
		repos:          deps.Repositories,
		events:         deps.Events,
		archive:        deps.Archive,
		log:            deps.Log,
		backfillWindow: deps.BackfillWindow,
		fetchBatchSize: batchSize,
		resync:         make(chan struct{}, 1),
		status:         interfaces.AccountStatus{Phase: enum.SyncDisconnected},
	}
}

// Status returns a copy of the current account status.
func (o *Orchestrator) Status() interfaces.AccountStatus {
	o.statusMutex.RLock()
	defer o.statusMutex.RUnlock()
	return o.status
}

// RequestResync asks the listening loop to re-run the backfill window. A
// request already pending absorbs the new one.
func (o *Orchestrator) RequestResync() {
	select {
	case o.resync <- struct{}{}:
	default:
	}
}

// Run blocks until the context is cancelled or the account fails
// permanently. Each iteration connects, backfills and listens; transport
// failures loop back around with exponential backoff.
func (o *Orchestrator) Run(ctx context.Context) {
	log.Printf("[%s] Starting account sync with folders: %v", o.account.ID, o.account.Folders)

	backoff := initialBackoff
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		attempts++
		err := o.runIteration(ctx, attempts)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}

		if errors.Is(err, mailsync_errors.ErrInvalidAccount) {
			o.fail(ctx, err)
			return
		}

		o.setPhase(enum.SyncReconnecting, err)
		log.Printf("[%s] Sync iteration failed: %v, retrying in %v", o.account.ID, err, backoff)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-ctx.Done():
			return
		}
	}
}

type folderSession struct {
	folder string
	source interfaces.MessageSource
}

// runIteration performs one full connect→backfill→listen cycle. A nil return
// means the context ended while listening; any error means the cycle must be
// retried or the account abandoned.
func (o *Orchestrator) runIteration(ctx context.Context, attempt int) error {
	span, ctx := tracing.StartTracerSpan(ctx, "Orchestrator.runIteration")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, o.account.ID)
	span.LogFields(tracingLog.Int("attempt", attempt))

	o.setPhase(enum.SyncConnecting, nil)

	sessions, err := o.connectAll(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		o.persistConnection(ctx, enum.ConnectionNotActive, err)
		return err
	}
	defer func() {
		for _, session := range sessions {
			session.source.Close()
		}
	}()

	o.persistConnection(ctx, enum.ConnectionActive, nil)

	o.setPhase(enum.SyncBackfilling, nil)
	o.backfillAll(ctx, sessions)

	// Backfill outcomes never block the transition to live mode; whatever a
	// partial pass missed is covered by the next resync.
	o.setPhase(enum.SyncListening, nil)
	err = o.listen(ctx, sessions)
	if err != nil && !errors.Is(err, context.Canceled) {
		tracing.TraceErr(span, err)
		o.persistConnection(ctx, enum.ConnectionNotActive, err)
		return err
	}
	return nil
}

func (o *Orchestrator) connectAll(ctx context.Context) ([]*folderSession, error) {
	connectCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	sessions := make([]*folderSession, 0, len(o.account.Folders))
	for _, folder := range o.account.Folders {
		source := o.factory(o.account, folder)
		if err := source.Connect(connectCtx, o.account); err != nil {
			for _, session := range sessions {
				session.source.Close()
			}
			return nil, errors.Wrapf(err, "folder %s", folder)
		}
		sessions = append(sessions, &folderSession{folder: folder, source: source})
	}
	return sessions, nil
}

func (o *Orchestrator) backfillAll(ctx context.Context, sessions []*folderSession) {
	since := utils.Now().Add(-o.backfillWindow)
	for _, session := range sessions {
		if err := o.backfillFolder(ctx, session, since); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("[%s][%s] Backfill error: %v", o.account.ID, session.folder, err)
			o.recordError(err)
		}
	}
}

// backfillFolder scans the historical window of one folder and indexes every
// message found. Per-message failures are logged and skipped; only search
// failures abort the folder.
func (o *Orchestrator) backfillFolder(ctx context.Context, session *folderSession, since time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.backfillFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, o.account.ID)
	tracing.TagFolder(span, session.folder)

	uids, err := session.source.SearchSince(ctx, since)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "backfill search failed")
	}

	log.Printf("[%s][%s] Backfill found %d messages since %s",
		o.account.ID, session.folder, len(uids), since.Format(time.RFC3339))
	span.LogFields(tracingLog.Int("messages", len(uids)))

	for start := 0; start < len(uids); start += o.fetchBatchSize {
		end := start + o.fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}
		if err := o.processBatch(ctx, session, uids[start:end]); err != nil {
			if errors.Is(err, context.Canceled) || isTransportError(err) {
				tracing.TraceErr(span, err)
				return err
			}
			// Store-side batch failure; skip and let the next pass self-heal.
			log.Printf("[%s][%s] Batch error: %v", o.account.ID, session.folder, err)
			o.recordError(err)
		}
	}

	return nil
}

// listen multiplexes the live sessions of all folders into the single
// processing goroutine. Any session error tears the whole iteration down.
func (o *Orchestrator) listen(ctx context.Context, sessions []*folderSession) error {
	listenCtx, cancel := context.WithCancel(ctx)

	sessionErrs := make(chan error, len(sessions))
	signals := make(chan *folderSession, len(sessions))

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(fs *folderSession) {
			defer wg.Done()
			sessionErrs <- fs.source.Listen(listenCtx)
		}(session)

		wg.Add(1)
		go func(fs *folderSession) {
			defer wg.Done()
			for {
				select {
				case <-listenCtx.Done():
					return
				case <-fs.source.Notifications():
					select {
					case signals <- fs:
					case <-listenCtx.Done():
						return
					}
				}
			}
		}(session)
	}
	// Stop the session goroutines before returning; sessionErrs is buffered
	// so none of them can block on send.
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sessionErrs:
			if err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "listen session failed")
			}
			return ctx.Err()

		case session := <-signals:
			if err := o.handleNotification(ctx, session); err != nil {
				if errors.Is(err, context.Canceled) || isTransportError(err) {
					return err
				}
				log.Printf("[%s][%s] Notification handling error: %v", o.account.ID, session.folder, err)
				o.recordError(err)
			}

		case <-o.resync:
			log.Printf("[%s] Resync requested", o.account.ID)
			o.backfillAll(ctx, sessions)
		}
	}
}

// handleNotification reacts to a new-mail signal by indexing everything the
// server still reports unseen. Searching instead of trusting the signal
// payload makes duplicate and stale notifications harmless.
func (o *Orchestrator) handleNotification(ctx context.Context, session *folderSession) error {
	span, ctx := tracing.StartTracerSpan(ctx, "Orchestrator.handleNotification")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, o.account.ID)
	tracing.TagFolder(span, session.folder)

	uids, err := session.source.SearchUnseen(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "unseen search failed")
	}

	if len(uids) == 0 {
		o.touch()
		return nil
	}

	log.Printf("[%s][%s] Notification: %d unseen message(s)", o.account.ID, session.folder, len(uids))

	for start := 0; start < len(uids); start += o.fetchBatchSize {
		end := start + o.fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}
		if err := o.processBatch(ctx, session, uids[start:end]); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}

	return nil
}

// processBatch runs one fetch→decode→reconcile→apply pass over a UID slice.
func (o *Orchestrator) processBatch(ctx context.Context, session *folderSession, uids []uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.processBatch")
	defer span.Finish()
	span.LogFields(tracingLog.Int("batch_size", len(uids)))

	docs := make([]*models.EmailDocument, 0, len(uids))
	rawByID := make(map[string][]byte, len(uids))

	for _, uid := range uids {
		raw, err := session.source.FetchRaw(ctx, uid)
		if err != nil {
			if errors.Is(err, context.Canceled) || isTransportError(err) {
				tracing.TraceErr(span, err)
				return err
			}
			o.log.Warnf("fetch of uid %d failed, skipping: %v", uid, err)
			continue
		}

		doc, err := o.decoder.Decode(raw)
		if err != nil {
			o.log.Warnf("decode of uid %d failed, skipping: %v", uid, err)
			continue
		}

		doc.AccountID = o.account.ID
		doc.Folder = session.folder
		docs = append(docs, doc)
		rawByID[doc.ID] = raw.Raw
	}

	if len(docs) == 0 {
		o.touch()
		return nil
	}

	set := o.recon.Reconcile(ctx, docs, o.store)
	if set.Empty() {
		o.touch()
		return nil
	}

	if err := o.store.BulkApply(ctx, set); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "bulk apply failed")
	}

	o.recordApplied(set)
	o.afterApply(ctx, session, set, rawByID)

	span.LogFields(
		tracingLog.Int("result.inserts", set.Inserts()),
		tracingLog.Int("result.updates", set.Updates()),
	)
	return nil
}

// afterApply runs the best-effort side channels for a committed write set:
// sync bookkeeping, indexed events for inserts and raw archival. None of
// these can fail the pipeline.
func (o *Orchestrator) afterApply(ctx context.Context, session *folderSession, set *models.BulkWriteSet, rawByID map[string][]byte) {
	if o.repos != nil {
		if err := o.repos.AccountRepository.MarkSynced(ctx, o.account.ID); err != nil {
			o.log.Warnf("failed to mark account %s synced: %v", o.account.ID, err)
		}
	}

	for _, op := range set.Ops {
		if op.Type != models.BulkOpInsert {
			continue
		}

		if o.events != nil {
			event := dto.EmailIndexed{
				EventID:    uuid.NewString(),
				DocumentID: op.Doc.ID,
				AccountID:  o.account.ID,
				Folder:     session.folder,
				Subject:    op.Doc.Subject,
				From:       op.Doc.From,
				To:         op.Doc.To,
				Date:       op.Doc.Date,
				Category:   op.Doc.Category.String(),
				IndexedAt:  utils.Now(),
			}
			if err := o.events.PublishEmailIndexed(ctx, event); err != nil {
				o.log.Warnf("failed to publish indexed event for %s: %v", op.Doc.ID, err)
			}
		}

		if o.archive != nil {
			if raw, ok := rawByID[op.Doc.ID]; ok {
				if err := o.archive.Upload(ctx, op.Doc.ID, raw, rawEmailMimeType); err != nil {
					o.log.Warnf("failed to archive raw message %s: %v", op.Doc.ID, err)
				}
			}
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, err error) {
	log.Printf("[%s] Account failed permanently: %v", o.account.ID, err)
	o.setPhase(enum.SyncFailed, err)
	o.persistConnection(ctx, enum.ConnectionFailed, err)
}

func (o *Orchestrator) persistConnection(ctx context.Context, status enum.ConnectionStatus, cause error) {
	if o.repos == nil {
		return
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	if err := o.repos.AccountRepository.UpdateConnectionStatus(ctx, o.account.ID, status, message); err != nil {
		o.log.Warnf("failed to persist connection status for %s: %v", o.account.ID, err)
	}
}

func (o *Orchestrator) setPhase(phase enum.SyncPhase, cause error) {
	o.statusMutex.Lock()
	defer o.statusMutex.Unlock()
	o.status.Phase = phase
	o.status.LastChecked = utils.Now()
	if cause != nil {
		o.status.LastError = cause.Error()
	} else if phase == enum.SyncListening {
		o.status.LastError = ""
	}
}

func (o *Orchestrator) recordError(err error) {
	o.statusMutex.Lock()
	defer o.statusMutex.Unlock()
	o.status.LastError = err.Error()
	o.status.LastChecked = utils.Now()
}

func (o *Orchestrator) recordApplied(set *models.BulkWriteSet) {
	o.statusMutex.Lock()
	defer o.statusMutex.Unlock()
	o.status.Inserted += int64(set.Inserts())
	o.status.Updated += int64(set.Updates())
	o.status.LastChecked = utils.Now()
	o.status.LastSyncedAt = utils.NowPtr()
}

func (o *Orchestrator) touch() {
	o.statusMutex.Lock()
	defer o.statusMutex.Unlock()
	o.status.LastChecked = utils.Now()
}

// isTransportError reports whether the error came from the IMAP session
// rather than the document store, meaning the connection must be rebuilt.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, mailsync_errors.ErrNotConnected) || mailsync_errors.IsConnectionError(err)
}

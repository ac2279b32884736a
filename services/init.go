package services

import (
	"time"

	"github.com/pkg/errors"

	"github.com/triagebox/mailsync/config"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/repository"
	"github.com/triagebox/mailsync/services/classifier"
	"github.com/triagebox/mailsync/services/decoder"
	"github.com/triagebox/mailsync/services/events"
	"github.com/triagebox/mailsync/services/imap"
	"github.com/triagebox/mailsync/services/notify"
	"github.com/triagebox/mailsync/services/reconciler"
	"github.com/triagebox/mailsync/services/search"
	"github.com/triagebox/mailsync/services/storage"
	"github.com/triagebox/mailsync/services/storage/aws_client"
	"github.com/triagebox/mailsync/services/suggest"
	syncsvc "github.com/triagebox/mailsync/services/sync"
)

type Services struct {
	DocumentStore    interfaces.DocumentStore
	SyncEngine       interfaces.SyncEngine
	Classifier       interfaces.Classifier
	ReplySuggester   interfaces.ReplySuggester
	NotificationSink interfaces.NotificationSink
	EventPublisher   interfaces.EventPublisher
	IndexedListener  *events.IndexedEmailListener
	RawArchive       interfaces.StorageService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	store, err := search.NewElasticStore(cfg.SearchStoreConfig, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init document store")
	}

	sink := notify.NewSlackSink(cfg.SlackConfig, log)

	var publisher interfaces.EventPublisher
	var listener *events.IndexedEmailListener
	if cfg.AppConfig.RabbitMQURL != "" {
		rabbitPublisher, err := events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to init event publisher")
		}
		publisher = rabbitPublisher
		listener = events.NewIndexedEmailListener(cfg.AppConfig.RabbitMQURL, sink, log)
	}

	var archive interfaces.StorageService
	if cfg.ArchiveStorageConfig.AccountID != "" && cfg.ArchiveStorageConfig.RawEmailBucket != "" {
		r2Client, err := aws_client.NewR2Client(aws_client.R2Config{
			AccountID:       cfg.ArchiveStorageConfig.AccountID,
			AccessKeyID:     cfg.ArchiveStorageConfig.AccessKeyID,
			AccessKeySecret: cfg.ArchiveStorageConfig.AccessKeySecret,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to init raw email archive")
		}
		archive = storage.NewRawEmailArchive(r2Client, cfg.ArchiveStorageConfig.RawEmailBucket)
	}

	engine := syncsvc.NewScheduler(syncsvc.OrchestratorDeps{
		Factory:        imap.NewIMAPSource,
		Store:          store,
		Decoder:        decoder.NewDecoder(decoder.MissingDatePolicy(cfg.SyncConfig.MissingDatePolicy)),
		Reconciler:     reconciler.NewReconciler(log),
		Repositories:   repos,
		Events:         publisher,
		Archive:        archive,
		Log:            log,
		BackfillWindow: time.Duration(cfg.SyncConfig.BackfillWindowDays) * 24 * time.Hour,
		FetchBatchSize: cfg.SyncConfig.FetchBatchSize,
	})

	return &Services{
		DocumentStore:    store,
		SyncEngine:       engine,
		Classifier:       classifier.NewGeminiClassifier(cfg.ClassifierConfig, log),
		ReplySuggester:   suggest.NewPineconeSuggester(cfg.SuggestConfig, cfg.ClassifierConfig, log),
		NotificationSink: sink,
		EventPublisher:   publisher,
		IndexedListener:  listener,
		RawArchive:       archive,
	}, nil
}

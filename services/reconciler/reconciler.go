package reconciler

import (
	"context"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"

	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/tracing"
)

// Reconciler diffs freshly decoded documents against the store and emits the
// bulk write set for one sync pass. It decides per document between insert,
// merge-update and blind insert; it never deletes.
type Reconciler struct {
	log logger.Logger
}

func NewReconciler(log logger.Logger) *Reconciler {
	return &Reconciler{log: log}
}

// Reconcile maps each document to an insert or merge-update op.
//
// The one invariant that must hold regardless of interleaving: an update
// never regresses a stored non-default category back to the default
// sentinel. Classification work, human or AI, survives every resync.
//
// When the store cannot answer the existence check, the document is inserted
// anyway: the pipeline trades possible duplication for availability, and the
// next idempotent pass self-heals.
func (r *Reconciler) Reconcile(ctx context.Context, docs []*models.EmailDocument, store interfaces.DocumentStore) *models.BulkWriteSet {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Reconciler.Reconcile")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogFields(tracingLog.Int("documents", len(docs)))

	set := &models.BulkWriteSet{}

	for _, doc := range docs {
		if doc == nil {
			continue
		}

		exists, err := store.Exists(ctx, doc.ID)
		if err != nil {
			tracing.TraceErr(span, err)
			r.log.Warnf("existence check failed for %s, indexing anyway: %v", doc.ID, err)
			set.Add(models.BulkOpInsert, doc)
			continue
		}

		if !exists {
			set.Add(models.BulkOpInsert, doc)
			continue
		}

		existing, err := store.Get(ctx, doc.ID)
		if err != nil {
			tracing.TraceErr(span, err)
			r.log.Warnf("fetch of existing document %s failed, indexing anyway: %v", doc.ID, err)
			set.Add(models.BulkOpInsert, doc)
			continue
		}
		if existing == nil {
			// Deleted between exists and get; treat as absent.
			set.Add(models.BulkOpInsert, doc)
			continue
		}

		merged := *doc
		if !existing.Category.IsDefault() && doc.Category.IsDefault() {
			merged.Category = existing.Category
		}
		set.Add(models.BulkOpUpdate, &merged)
	}

	span.LogFields(
		tracingLog.Int("result.inserts", set.Inserts()),
		tracingLog.Int("result.updates", set.Updates()),
	)
	return set
}

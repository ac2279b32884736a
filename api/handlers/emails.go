package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"

	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/enum"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/tracing"
)

// ListEmails searches the document store with optional text query and
// account/folder/category filters, paginated.
func ListEmails(store interfaces.DocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span, ctx := opentracing.StartSpanFromContext(ctx, "ListEmails")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

		query := interfaces.SearchQuery{
			Text:      c.Query("q"),
			AccountID: c.Query("accountId"),
			Folder:    c.Query("folder"),
			Category:  c.Query("category"),
			Page:      page,
			Limit:     limit,
		}

		result, err := store.Search(ctx, query)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "search unavailable"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"emails": result.Emails,
			"total":  result.Total,
			"page":   page,
			"limit":  limit,
		})
	}
}

// GetEmail returns a single document by identity key.
func GetEmail(store interfaces.DocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span, ctx := opentracing.StartSpanFromContext(ctx, "GetEmail")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		doc, err := store.Get(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "store unavailable"})
			return
		}
		if doc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
			return
		}

		c.JSON(http.StatusOK, doc)
	}
}

// ClassifyEmail runs the classifier on a stored email and persists the
// resulting category. Emails that come back Interested are pushed to the
// notification sink.
func ClassifyEmail(store interfaces.DocumentStore, classifier interfaces.Classifier, sink interfaces.NotificationSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span, ctx := opentracing.StartSpanFromContext(ctx, "ClassifyEmail")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		doc, err := store.Get(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "store unavailable"})
			return
		}
		if doc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
			return
		}

		category := classifier.Classify(ctx, doc.Subject, doc.Preview)
		span.LogFields(tracingLog.String("category", category.String()))

		if category != doc.Category {
			doc.Category = category
			set := &models.BulkWriteSet{}
			set.Add(models.BulkOpUpdate, doc)
			if err := store.BulkApply(ctx, set); err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "failed to persist category"})
				return
			}
		}

		if category == enum.CategoryInterested && sink != nil {
			sink.NotifyEmail(ctx, doc)
		}

		c.JSON(http.StatusOK, gin.H{
			"id":       doc.ID,
			"category": category,
		})
	}
}

// SuggestReply drafts a reply for a stored email from similar past
// scenarios. Purely advisory; nothing is sent or persisted.
func SuggestReply(store interfaces.DocumentStore, suggester interfaces.ReplySuggester) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span, ctx := opentracing.StartSpanFromContext(ctx, "SuggestReply")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		doc, err := store.Get(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "store unavailable"})
			return
		}
		if doc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
			return
		}

		suggestion, err := suggester.SuggestReply(ctx, doc)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to suggest a reply"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":               doc.ID,
			"suggestedReply":   suggestion.SuggestedReply,
			"similarScenarios": suggestion.SimilarScenarios,
		})
	}
}

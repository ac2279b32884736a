package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/triagebox/mailsync/api/handlers"
	"github.com/triagebox/mailsync/api/middleware"
	"github.com/triagebox/mailsync/internal/repository"
	"github.com/triagebox/mailsync/internal/tracing"
	"github.com/triagebox/mailsync/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	// Health check and status endpoints
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(s.SyncEngine))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILSYNC-API-KEY",
		ValidAPIKey: apikey,
	})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(tracing.TracingEnhancer(ctx, "/v1"))
	{
		accounts := api.Group("/accounts")
		{
			accounts.GET("", handlers.ListAccounts(repos, s.SyncEngine))
			accounts.POST("", handlers.RegisterAccount(repos, s.SyncEngine))
			accounts.DELETE("/:id", handlers.RemoveAccount(repos, s.SyncEngine))
		}

		emails := api.Group("/emails")
		{
			emails.GET("", handlers.ListEmails(s.DocumentStore))
			emails.GET("/:id", handlers.GetEmail(s.DocumentStore))
			emails.POST("/:id/classify", handlers.ClassifyEmail(s.DocumentStore, s.Classifier, s.NotificationSink))
			emails.POST("/:id/suggest-reply", handlers.SuggestReply(s.DocumentStore, s.ReplySuggester))
		}
	}
}

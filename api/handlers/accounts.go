package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	mailsync_errors "github.com/triagebox/mailsync/errors"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/repository"
	"github.com/triagebox/mailsync/internal/tracing"
)

type registerAccountRequest struct {
	EmailAddress string   `json:"emailAddress" binding:"required,email"`
	Host         string   `json:"host" binding:"required"`
	Port         int      `json:"port"`
	Username     string   `json:"username"`
	Password     string   `json:"password" binding:"required"`
	UseTLS       *bool    `json:"useTls"`
	Folders      []string `json:"folders"`
}

type accountResponse struct {
	*models.Account
	Sync *interfaces.AccountStatus `json:"sync,omitempty"`
}

// ListAccounts returns all registered accounts with their live sync status.
func ListAccounts(repos *repository.Repositories, engine interfaces.SyncEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span, ctx := opentracing.StartSpanFromContext(ctx, "ListAccounts")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		accounts, err := repos.AccountRepository.GetAccounts(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load accounts"})
			return
		}

		statuses := engine.Status()
		response := make([]accountResponse, 0, len(accounts))
		for _, account := range accounts {
			item := accountResponse{Account: account}
			if status, ok := statuses[account.ID]; ok {
				item.Sync = &status
			}
			response = append(response, item)
		}

		c.JSON(http.StatusOK, response)
	}
}

// RegisterAccount upserts an account definition and starts syncing it
// immediately.
func RegisterAccount(repos *repository.Repositories, engine interfaces.SyncEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span, ctx := opentracing.StartSpanFromContext(ctx, "RegisterAccount")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var request registerAccountRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		port := request.Port
		if port == 0 {
			port = 993
		}
		username := request.Username
		if username == "" {
			username = request.EmailAddress
		}
		useTLS := true
		if request.UseTLS != nil {
			useTLS = *request.UseTLS
		}

		account := &models.Account{
			EmailAddress: request.EmailAddress,
			ImapServer:   request.Host,
			ImapPort:     port,
			ImapUsername: username,
			ImapPassword: request.Password,
			ImapTLS:      useTLS,
			Folders:      pq.StringArray(request.Folders),
		}

		if err := repos.AccountRepository.UpsertByEmailAddress(ctx, account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save account"})
			return
		}
		tracing.TagAccount(span, account.ID)

		if err := engine.AddAccount(ctx, account); err != nil {
			if errors.Is(err, mailsync_errors.ErrAccountExists) {
				c.JSON(http.StatusConflict, gin.H{"error": "account already syncing", "id": account.ID})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start account sync"})
			return
		}

		c.JSON(http.StatusCreated, account)
	}
}

// RemoveAccount stops syncing an account and soft-deletes its registration.
func RemoveAccount(repos *repository.Repositories, engine interfaces.SyncEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span, ctx := opentracing.StartSpanFromContext(ctx, "RemoveAccount")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		accountID := c.Param("id")
		tracing.TagAccount(span, accountID)

		if err := engine.RemoveAccount(ctx, accountID); err != nil && !errors.Is(err, mailsync_errors.ErrAccountUnknown) {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop account sync"})
			return
		}

		if err := repos.AccountRepository.DeleteAccount(ctx, accountID); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete account"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

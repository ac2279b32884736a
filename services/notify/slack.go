package notify

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/slack-go/slack"

	"github.com/triagebox/mailsync/config"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/tracing"
)

// slackSink posts a short summary of an email to a Slack incoming webhook.
// Delivery is best-effort; a dead webhook never disturbs the pipeline.
type slackSink struct {
	webhookURL string
	log        logger.Logger
}

func NewSlackSink(cfg *config.SlackConfig, log logger.Logger) interfaces.NotificationSink {
	return &slackSink{
		webhookURL: cfg.WebhookURL,
		log:        log,
	}
}

func (s *slackSink) NotifyEmail(ctx context.Context, doc *models.EmailDocument) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "slackSink.NotifyEmail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if s.webhookURL == "" || doc == nil {
		return
	}

	message := &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s email*\nFrom: %s\nSubject: %s\n%s",
			doc.Category, doc.From, doc.Subject, doc.Preview),
	}

	if err := slack.PostWebhookContext(ctx, s.webhookURL, message); err != nil {
		tracing.TraceErr(span, err)
		s.log.Warnf("slack notification for %s failed: %v", doc.ID, err)
	}
}

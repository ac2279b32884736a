package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/triagebox/mailsync/dto"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/enum"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/tracing"
)

// IndexedEmailListener consumes email-indexed events and forwards the ones
// that need human attention to the notification sink. Consumption is
// at-least-once; a duplicate notification is acceptable, a lost one is not,
// so messages are only acked after handling.
type IndexedEmailListener struct {
	url        string
	sink       interfaces.NotificationSink
	logger     logger.Logger
	connection *amqp091.Connection
	channel    *amqp091.Channel
}

func NewIndexedEmailListener(rabbitmqURL string, sink interfaces.NotificationSink, logger logger.Logger) *IndexedEmailListener {
	return &IndexedEmailListener{
		url:    rabbitmqURL,
		sink:   sink,
		logger: logger,
	}
}

// Start consumes the queue until the context ends, reconnecting on broker
// failures with a fixed delay.
func (l *IndexedEmailListener) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				l.close()
				return
			default:
			}

			if err := l.consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Warnf("indexed email listener stopped: %v, reconnecting", err)
			}

			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				l.close()
				return
			}
		}
	}()
}

func (l *IndexedEmailListener) consume(ctx context.Context) error {
	connection, err := amqp091.Dial(l.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}
	l.connection = connection

	channel, err := connection.Channel()
	if err != nil {
		connection.Close()
		return errors.Wrap(err, "Failed to open channel")
	}
	l.channel = channel

	deliveries, err := channel.Consume(
		QueueEmailIndexed,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		connection.Close()
		return errors.Wrapf(err, "Failed to consume queue %s", QueueEmailIndexed)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			l.handleDelivery(ctx, delivery)
		}
	}
}

func (l *IndexedEmailListener) handleDelivery(ctx context.Context, delivery amqp091.Delivery) {
	uberTraceID := ""
	if raw, ok := delivery.Headers[headerUberTraceID].(string); ok {
		uberTraceID = raw
	}
	ctx, span := tracing.StartQueueMessageTracerSpan(ctx, "IndexedEmailListener.handleDelivery", uberTraceID)
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	var event dto.EmailIndexed
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		tracing.TraceErr(span, err)
		l.logger.Errorf("failed to decode indexed email event, dropping: %v", err)
		// Malformed payloads go to the DLQ, redelivery cannot fix them.
		_ = delivery.Nack(false, false)
		return
	}

	if enum.EmailCategory(event.Category) == enum.CategoryInterested {
		l.sink.NotifyEmail(ctx, &models.EmailDocument{
			ID:        event.DocumentID,
			Subject:   event.Subject,
			From:      event.From,
			To:        event.To,
			Date:      event.Date,
			Category:  enum.EmailCategory(event.Category),
			AccountID: event.AccountID,
			Folder:    event.Folder,
		})
	}

	if err := delivery.Ack(false); err != nil {
		tracing.TraceErr(span, err)
		l.logger.Warnf("failed to ack delivery %d: %v", delivery.DeliveryTag, err)
	}
}

func (l *IndexedEmailListener) close() {
	if l.channel != nil && !l.channel.IsClosed() {
		_ = l.channel.Close()
	}
	if l.connection != nil && !l.connection.IsClosed() {
		_ = l.connection.Close()
	}
}

package imap

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	mailsync_errors "github.com/triagebox/mailsync/errors"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/tracing"
)

const (
	idleLogoutTimeout = 25 * time.Minute
	idlePollInterval  = time.Minute
)

// IMAPSource is a live session against one folder of one account. Not safe
// for concurrent use; each orchestrator owns exactly one source and drives it
// from a single goroutine.
type IMAPSource struct {
	folder        string
	client        *client.Client
	updates       chan client.Update
	notifications chan struct{}
}

// NewIMAPSource builds an unconnected source for the given folder. It
// satisfies interfaces.SourceFactory.
func NewIMAPSource(account *models.Account, folder string) interfaces.MessageSource {
	_ = account
	return &IMAPSource{
		folder:        folder,
		notifications: make(chan struct{}, 1),
	}
}

func (s *IMAPSource) Connect(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSource.Connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	tracing.TagFolder(span, s.folder)

	c, err := connect(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	c.Timeout = commandTimeout
	mbox, err := c.Select(s.folder, false)
	c.Timeout = 0
	if err != nil {
		c.Logout()
		err = errors.Wrapf(err, "error selecting folder %s", s.folder)
		tracing.TraceErr(span, err)
		return err
	}

	log.Printf("[%s][%s] Selected folder - Messages: %d, Recent: %d, Unseen: %d",
		account.ID, s.folder, mbox.Messages, mbox.Recent, mbox.Unseen)

	s.updates = make(chan client.Update, 32)
	c.Updates = s.updates
	s.client = c
	return nil
}

func (s *IMAPSource) SearchSince(ctx context.Context, since time.Time) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPSource.SearchSince")
	defer span.Finish()
	span.LogFields(tracingLog.String("since", since.Format(time.RFC3339)))

	if s.client == nil {
		return nil, mailsync_errors.ErrNotConnected
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	return s.search(span, criteria)
}

func (s *IMAPSource) SearchUnseen(ctx context.Context) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPSource.SearchUnseen")
	defer span.Finish()

	if s.client == nil {
		return nil, mailsync_errors.ErrNotConnected
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	return s.search(span, criteria)
}

func (s *IMAPSource) search(span opentracing.Span, criteria *imap.SearchCriteria) ([]uint32, error) {
	s.client.Timeout = commandTimeout
	uids, err := s.client.UidSearch(criteria)
	s.client.Timeout = 0
	if err != nil {
		err = errors.Wrap(err, "error searching for messages")
		tracing.TraceErr(span, err)
		return nil, err
	}

	span.LogFields(tracingLog.Int("result.count", len(uids)))
	return uids, nil
}

// FetchRaw downloads the full message body without touching the \Seen flag.
func (s *IMAPSource) FetchRaw(ctx context.Context, uid uint32) (*models.RawMessage, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPSource.FetchRaw")
	defer span.Finish()
	span.LogFields(tracingLog.Uint32("uid", uid))

	if s.client == nil {
		return nil, mailsync_errors.ErrNotConnected
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	s.client.Timeout = fetchTimeout
	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var raw []byte
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		data, readErr := io.ReadAll(body)
		if readErr != nil {
			tracing.TraceErr(span, readErr)
			continue
		}
		raw = data
	}
	s.client.Timeout = 0

	if err := <-done; err != nil {
		err = errors.Wrapf(err, "error fetching message %d", uid)
		tracing.TraceErr(span, err)
		return nil, err
	}

	if len(raw) == 0 {
		err := errors.Wrapf(mailsync_errors.ErrEmptyMessage, "uid %d", uid)
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &models.RawMessage{UID: uid, Raw: raw}, nil
}

func (s *IMAPSource) Notifications() <-chan struct{} {
	return s.notifications
}

// Listen holds an IDLE session so the server pushes new-mail updates as they
// arrive; servers without IDLE fall back to periodic polling inside the same
// call. Mailbox updates coalesce into the bounded notification channel; a
// signal already pending absorbs any burst behind it.
func (s *IMAPSource) Listen(ctx context.Context) error {
	if s.client == nil {
		return mailsync_errors.ErrNotConnected
	}

	stop := make(chan struct{})
	idleDone := make(chan error, 1)

	s.client.Timeout = 0
	go func() {
		idleDone <- s.client.Idle(stop, &client.IdleOptions{
			LogoutTimeout: idleLogoutTimeout,
			PollInterval:  idlePollInterval,
		})
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-idleDone
			return ctx.Err()

		case err := <-idleDone:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == nil {
				err = mailsync_errors.ErrNotConnected
			}
			return errors.Wrap(err, "idle session ended")

		case update := <-s.updates:
			switch update.(type) {
			case *client.MailboxUpdate, *client.MessageUpdate:
				s.signal()
			}
		}
	}
}

func (s *IMAPSource) signal() {
	select {
	case s.notifications <- struct{}{}:
	default:
		// A signal is already pending; the listener will pick everything up.
	}
}

func (s *IMAPSource) Close() {
	if s.client == nil {
		return
	}
	s.client.Timeout = 5 * time.Second
	_ = s.client.Logout()
	s.client = nil
}

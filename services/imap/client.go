package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	mailsync_errors "github.com/triagebox/mailsync/errors"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/tracing"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 30 * time.Second
	fetchTimeout   = 60 * time.Second
)

// connect dials the IMAP server, authenticates and leaves the client with no
// timeout set, ready for long-lived commands.
func connect(ctx context.Context, account *models.Account) (*client.Client, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imap.connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	serverAddr := fmt.Sprintf("%s:%d", account.ImapServer, account.ImapPort)

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error

	if account.ImapTLS {
		tlsConfig := &tls.Config{
			ServerName: account.ImapServer,
		}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}

	if err != nil {
		err = classifyDialError(err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	c.Timeout = commandTimeout
	caps, err := c.Capability()
	if err != nil {
		c.Logout()
		err = errors.Wrap(err, "capability error")
		tracing.TraceErr(span, err)
		return nil, err
	}

	log.Printf("[%s] Server capabilities: %v", account.ID, caps)

	err = c.Login(account.ImapUsername, account.ImapPassword)
	if err != nil {
		c.Logout()
		// Rejected credentials do not get better with retries.
		err = errors.Wrapf(mailsync_errors.ErrInvalidAccount, "login error: %v", err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	c.Timeout = 0

	log.Printf("[%s] Successfully connected to %s", account.ID, serverAddr)
	return c, nil
}

// classifyDialError separates configuration mistakes from transient network
// failures. An unresolvable host means the account definition is wrong and
// the caller must stop retrying it.
func classifyDialError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return errors.Wrapf(mailsync_errors.ErrInvalidAccount, "unresolvable host: %v", err)
	}
	return errors.Wrap(err, "connection error")
}

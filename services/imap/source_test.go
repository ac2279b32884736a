package imap

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailsync_errors "github.com/triagebox/mailsync/errors"
	"github.com/triagebox/mailsync/internal/models"
)

// startTestServer runs an in-memory IMAP server on a loopback port. The
// memory backend seeds one user (username/password) whose INBOX holds a
// single seen message with UID 6.
func startTestServer(t *testing.T) *models.Account {
	t.Helper()

	s := server.New(memory.New())
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	return &models.Account{
		ID:           "acct1",
		EmailAddress: "contact@example.org",
		ImapServer:   "127.0.0.1",
		ImapPort:     l.Addr().(*net.TCPAddr).Port,
		ImapUsername: "username",
		ImapPassword: "password",
		ImapTLS:      false,
	}
}

func connectedSource(t *testing.T, account *models.Account) *IMAPSource {
	t.Helper()

	source := NewIMAPSource(account, "INBOX").(*IMAPSource)
	require.NoError(t, source.Connect(context.Background(), account))
	t.Cleanup(source.Close)
	return source
}

func TestConnect_RejectedCredentialsAreTerminal(t *testing.T) {
	account := startTestServer(t)
	account.ImapPassword = "wrong"

	source := NewIMAPSource(account, "INBOX")
	err := source.Connect(context.Background(), account)

	require.Error(t, err)
	assert.ErrorIs(t, err, mailsync_errors.ErrInvalidAccount)
}

func TestSearchSince_FindsSeededMessage(t *testing.T) {
	account := startTestServer(t)
	source := connectedSource(t, account)

	uids, err := source.SearchSince(context.Background(), time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []uint32{6}, uids)
}

func TestSearchUnseen_SeenMessageIsExcluded(t *testing.T) {
	account := startTestServer(t)
	source := connectedSource(t, account)

	uids, err := source.SearchUnseen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, uids)
}

func TestFetchRaw_ReturnsFullMessage(t *testing.T) {
	account := startTestServer(t)
	source := connectedSource(t, account)

	raw, err := source.FetchRaw(context.Background(), 6)
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, uint32(6), raw.UID)
	assert.Contains(t, string(raw.Raw), "Subject: A little message")
}

func TestFetchRaw_UnknownUID(t *testing.T) {
	account := startTestServer(t)
	source := connectedSource(t, account)

	_, err := source.FetchRaw(context.Background(), 999)
	require.Error(t, err)
	assert.ErrorIs(t, errors.Cause(err), mailsync_errors.ErrEmptyMessage)
}

func TestListen_ForwardsMailboxUpdates(t *testing.T) {
	account := startTestServer(t)
	source := connectedSource(t, account)

	ctx, cancel := context.WithCancel(context.Background())
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- source.Listen(ctx)
	}()

	// A server push for the selected mailbox becomes one coalesced signal
	source.updates <- &client.MailboxUpdate{}

	select {
	case <-source.Notifications():
	case <-time.After(2 * time.Second):
		t.Fatal("no notification for mailbox update")
	}

	// Bursts collapse into the single pending signal
	source.updates <- &client.MailboxUpdate{}
	source.updates <- &client.MailboxUpdate{}

	select {
	case <-source.Notifications():
	case <-time.After(2 * time.Second):
		t.Fatal("no notification for burst")
	}

	cancel()
	select {
	case err := <-listenErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not stop on cancellation")
	}
}

func TestListen_WithoutConnection(t *testing.T) {
	source := NewIMAPSource(&models.Account{}, "INBOX").(*IMAPSource)

	err := source.Listen(context.Background())
	assert.ErrorIs(t, err, mailsync_errors.ErrNotConnected)
}

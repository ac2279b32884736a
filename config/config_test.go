package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccounts_EmptyBlob(t *testing.T) {
	cfg := &SyncConfig{}

	accounts, err := cfg.ParseAccounts()
	require.NoError(t, err)
	assert.Nil(t, accounts)
}

func TestParseAccounts_AppliesDefaults(t *testing.T) {
	cfg := &SyncConfig{
		Accounts: `[{"emailAddress":"alice@example.com","host":"imap.example.com","password":"secret","useTls":true,"folders":["INBOX","Archive"]}]`,
	}

	accounts, err := cfg.ParseAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	account := accounts[0]
	assert.Equal(t, "alice@example.com", account.EmailAddress)
	assert.Equal(t, 993, account.ImapPort)
	assert.Equal(t, "alice@example.com", account.ImapUsername)
	assert.True(t, account.ImapTLS)
	assert.Len(t, account.Folders, 2)
}

func TestParseAccounts_ExplicitValuesWin(t *testing.T) {
	cfg := &SyncConfig{
		Accounts: `[{"emailAddress":"alice@example.com","host":"imap.example.com","port":143,"username":"alice.login","useTls":false}]`,
	}

	accounts, err := cfg.ParseAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	assert.Equal(t, 143, accounts[0].ImapPort)
	assert.Equal(t, "alice.login", accounts[0].ImapUsername)
	assert.False(t, accounts[0].ImapTLS)
}

func TestParseAccounts_MissingRequiredFields(t *testing.T) {
	cfg := &SyncConfig{
		Accounts: `[{"emailAddress":"alice@example.com"}]`,
	}

	_, err := cfg.ParseAccounts()
	assert.Error(t, err)
}

func TestParseAccounts_MalformedJSON(t *testing.T) {
	cfg := &SyncConfig{
		Accounts: `not json`,
	}

	_, err := cfg.ParseAccounts()
	assert.Error(t, err)
}

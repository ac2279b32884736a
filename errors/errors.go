package mailsync_errors

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// account errors
	ErrAccountExists  = errors.New("account already exists")
	ErrAccountUnknown = errors.New("account not found")
	// ErrInvalidAccount marks a configuration-level failure (for example an
	// unresolvable host). Accounts failing with it are excluded from retries
	// for the remainder of the process lifetime.
	ErrInvalidAccount = errors.New("account configuration is invalid")

	// sync errors
	ErrNotConnected      = errors.New("no active mailbox connection")
	ErrConnectionTimeout = errors.New("connection timeout")

	// decode errors
	ErrEmptyMessage     = errors.New("message payload is empty")
	ErrMissingTimestamp = errors.New("message has no date header")

	// store errors
	ErrStoreUnavailable = errors.New("document store unavailable")
)

// IsConnectionError reports whether err describes a broken transport. IMAP
// libraries surface these as bare strings, so classification is by message.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

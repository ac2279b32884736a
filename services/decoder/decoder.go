package decoder

import (
	"bytes"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	mailsync_errors "github.com/triagebox/mailsync/errors"
	"github.com/triagebox/mailsync/internal/enum"
	"github.com/triagebox/mailsync/internal/models"
)

// MissingDatePolicy controls what happens when a message carries no usable
// Date header.
type MissingDatePolicy string

const (
	// MissingDateUseNow substitutes wall-clock time. Identity keys for such
	// messages are NOT stable across runs; kept as the default because it
	// matches the store's upsert semantics at worst (a duplicate document),
	// never data loss.
	MissingDateUseNow MissingDatePolicy = "now"
	// MissingDateReject fails the decode instead.
	MissingDateReject MissingDatePolicy = "reject"
)

const previewMaxRunes = 280

// Decoder turns raw RFC822 bytes into a normalized EmailDocument. Pure
// transformation, no I/O.
type Decoder struct {
	missingDatePolicy MissingDatePolicy
	now               func() time.Time
}

func NewDecoder(policy MissingDatePolicy) *Decoder {
	if policy != MissingDateReject {
		policy = MissingDateUseNow
	}
	return &Decoder{
		missingDatePolicy: policy,
		now:               time.Now,
	}
}

func (d *Decoder) Decode(raw *models.RawMessage) (*models.EmailDocument, error) {
	if raw == nil || len(raw.Raw) == 0 {
		return nil, mailsync_errors.ErrEmptyMessage
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw.Raw))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse message")
	}

	fromAddress := firstAddress(envelope, "From")
	toAddress := firstAddress(envelope, "To")

	date, err := parseDate(envelope.GetHeader("Date"))
	if err != nil {
		if d.missingDatePolicy == MissingDateReject {
			return nil, mailsync_errors.ErrMissingTimestamp
		}
		date = d.now()
	}
	date = date.UTC()

	subject := envelope.GetHeader("Subject")

	return &models.EmailDocument{
		ID:       models.IdentityKey(fromAddress, toAddress, subject, date),
		Subject:  subject,
		From:     fromAddress,
		To:       toAddress,
		Date:     date,
		Category: enum.CategoryNew,
		Preview:  preview(envelope.Text),
	}, nil
}

// firstAddress extracts and cleans the first address of a header. Missing or
// malformed headers yield an empty string, never an error.
func firstAddress(envelope *enmime.Envelope, header string) string {
	addresses, err := envelope.AddressList(header)
	if err != nil || len(addresses) == 0 {
		return fallbackAddress(envelope.GetHeader(header))
	}

	address := addresses[0].Address
	validation := mailvalidate.ValidateEmailSyntax(address)
	if validation.IsValid {
		return validation.CleanEmail
	}
	return strings.ToLower(strings.TrimSpace(address))
}

// fallbackAddress salvages something address-shaped from an unparseable
// header value.
func fallbackAddress(headerValue string) string {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" {
		return ""
	}
	validation := mailvalidate.ValidateEmailSyntax(headerValue)
	if validation.IsValid {
		return validation.CleanEmail
	}
	return ""
}

func parseDate(headerValue string) (time.Time, error) {
	if strings.TrimSpace(headerValue) == "" {
		return time.Time{}, mailsync_errors.ErrMissingTimestamp
	}
	date, err := mail.ParseDate(headerValue)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "unparseable date header")
	}
	return date, nil
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= previewMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewMaxRunes])
}

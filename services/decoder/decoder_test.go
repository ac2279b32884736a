package decoder

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailsync_errors "github.com/triagebox/mailsync/errors"
	"github.com/triagebox/mailsync/internal/enum"
	"github.com/triagebox/mailsync/internal/models"
)

func rawMessage(headers map[string]string, body string) *models.RawMessage {
	msg := ""
	for key, value := range headers {
		msg += fmt.Sprintf("%s: %s\r\n", key, value)
	}
	msg += "\r\n" + body
	return &models.RawMessage{UID: 1, Raw: []byte(msg)}
}

func sampleMessage() *models.RawMessage {
	return rawMessage(map[string]string{
		"From":    "Alice Smith <ALICE@Example.COM>",
		"To":      "bob@example.com",
		"Subject": "Quarterly review",
		"Date":    "Mon, 02 Jan 2006 15:04:05 +0000",
	}, "Hi Bob, let's sync up this week.")
}

func TestDecode_SampleMessage(t *testing.T) {
	d := NewDecoder(MissingDateUseNow)

	doc, err := d.Decode(sampleMessage())

	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", doc.From)
	assert.Equal(t, "bob@example.com", doc.To)
	assert.Equal(t, "Quarterly review", doc.Subject)
	assert.Equal(t, enum.CategoryNew, doc.Category)
	assert.Equal(t, "Hi Bob, let's sync up this week.", doc.Preview)
	assert.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC), doc.Date)
	assert.NotEmpty(t, doc.ID)
}

func TestDecode_IdentityKeyIsDeterministic(t *testing.T) {
	d := NewDecoder(MissingDateUseNow)

	first, err := d.Decode(sampleMessage())
	require.NoError(t, err)
	second, err := d.Decode(sampleMessage())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestDecode_IdentityKeyChangesWithSubject(t *testing.T) {
	d := NewDecoder(MissingDateUseNow)

	base, err := d.Decode(sampleMessage())
	require.NoError(t, err)

	changed, err := d.Decode(rawMessage(map[string]string{
		"From":    "Alice Smith <ALICE@Example.COM>",
		"To":      "bob@example.com",
		"Subject": "Different subject",
		"Date":    "Mon, 02 Jan 2006 15:04:05 +0000",
	}, "body"))
	require.NoError(t, err)

	assert.NotEqual(t, base.ID, changed.ID)
}

func TestDecode_EmptyMessage(t *testing.T) {
	d := NewDecoder(MissingDateUseNow)

	_, err := d.Decode(nil)
	assert.ErrorIs(t, err, mailsync_errors.ErrEmptyMessage)

	_, err = d.Decode(&models.RawMessage{UID: 1})
	assert.ErrorIs(t, err, mailsync_errors.ErrEmptyMessage)
}

func TestDecode_MissingDateUsesNow(t *testing.T) {
	d := NewDecoder(MissingDateUseNow)
	before := time.Now().UTC()

	doc, err := d.Decode(rawMessage(map[string]string{
		"From":    "alice@example.com",
		"To":      "bob@example.com",
		"Subject": "No date header",
	}, "body"))

	require.NoError(t, err)
	assert.False(t, doc.Date.Before(before.Add(-time.Second)))
	assert.False(t, doc.Date.After(time.Now().UTC().Add(time.Second)))
}

func TestDecode_MissingDateRejected(t *testing.T) {
	d := NewDecoder(MissingDateReject)

	_, err := d.Decode(rawMessage(map[string]string{
		"From":    "alice@example.com",
		"To":      "bob@example.com",
		"Subject": "No date header",
	}, "body"))

	assert.ErrorIs(t, err, mailsync_errors.ErrMissingTimestamp)
}

func TestDecode_MissingAddressesYieldEmptyStrings(t *testing.T) {
	d := NewDecoder(MissingDateUseNow)

	doc, err := d.Decode(rawMessage(map[string]string{
		"Subject": "Headless",
		"Date":    "Mon, 02 Jan 2006 15:04:05 +0000",
	}, "body"))

	require.NoError(t, err)
	assert.Empty(t, doc.From)
	assert.Empty(t, doc.To)
	assert.NotEmpty(t, doc.ID)
}

func TestDecode_PreviewTruncated(t *testing.T) {
	d := NewDecoder(MissingDateUseNow)

	long := ""
	for i := 0; i < 100; i++ {
		long += "0123456789"
	}

	doc, err := d.Decode(rawMessage(map[string]string{
		"From":    "alice@example.com",
		"To":      "bob@example.com",
		"Subject": "Long body",
		"Date":    "Mon, 02 Jan 2006 15:04:05 +0000",
	}, long))

	require.NoError(t, err)
	assert.Len(t, []rune(doc.Preview), previewMaxRunes)
}

func TestDecode_UnknownPolicyFallsBackToNow(t *testing.T) {
	d := NewDecoder(MissingDatePolicy("bogus"))
	assert.Equal(t, MissingDateUseNow, d.missingDatePolicy)
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/triagebox/mailsync/internal/enum"
)

// EmailDocument is the normalized email record as it lives in the document
// store. ID is the identity key: the same logical message always maps to the
// same document, no matter which account or sync pass produced it.
type EmailDocument struct {
	ID        string             `json:"id"`
	Subject   string             `json:"subject"`
	From      string             `json:"from"`
	To        string             `json:"to"`
	Date      time.Time          `json:"date"`
	Category  enum.EmailCategory `json:"category"`
	AccountID string             `json:"accountId,omitempty"`
	Folder    string             `json:"folder,omitempty"`
	Preview   string             `json:"preview,omitempty"`
}

// IdentityKey derives the deterministic document key from the fields that
// identify a logical message. Timestamps are normalized to UTC RFC3339 so
// the same message hashes identically across decodes.
func IdentityKey(from, to, subject string, date time.Time) string {
	seed := from + "|" + to + "|" + subject + "|" + date.UTC().Format(time.RFC3339)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

type BulkOpType string

const (
	BulkOpInsert BulkOpType = "insert"
	BulkOpUpdate BulkOpType = "update"
)

type BulkOp struct {
	Type BulkOpType
	Doc  *EmailDocument
}

// BulkWriteSet is the ordered write set produced by one reconciliation pass,
// applied as a single bulk submission.
type BulkWriteSet struct {
	Ops []BulkOp
}

func (s *BulkWriteSet) Add(op BulkOpType, doc *EmailDocument) {
	s.Ops = append(s.Ops, BulkOp{Type: op, Doc: doc})
}

func (s *BulkWriteSet) Empty() bool {
	return len(s.Ops) == 0
}

func (s *BulkWriteSet) Inserts() int {
	n := 0
	for _, op := range s.Ops {
		if op.Type == BulkOpInsert {
			n++
		}
	}
	return n
}

func (s *BulkWriteSet) Updates() int {
	return len(s.Ops) - s.Inserts()
}

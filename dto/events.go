package dto

import "time"

// EmailIndexed is published once per newly inserted document. Updates to
// already-indexed documents do not emit events.
type EmailIndexed struct {
	EventID    string    `json:"eventId"`
	DocumentID string    `json:"documentId"`
	AccountID  string    `json:"accountId"`
	Folder     string    `json:"folder"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Date       time.Time `json:"date"`
	Category   string    `json:"category"`
	IndexedAt  time.Time `json:"indexedAt"`
}

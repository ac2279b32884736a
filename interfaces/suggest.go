package interfaces

import (
	"context"

	"github.com/triagebox/mailsync/internal/models"
)

// ReplySuggester drafts a reply for a stored email by retrieving similar
// past scenarios from a vector index and prompting the model with them.
// Invoked by the API layer only, never by the sync pipeline.
type ReplySuggester interface {
	SuggestReply(ctx context.Context, doc *models.EmailDocument) (*ReplySuggestion, error)
}

type ReplySuggestion struct {
	SuggestedReply   string            `json:"suggestedReply"`
	SimilarScenarios []SimilarScenario `json:"similarScenarios"`
}

// SimilarScenario describes one retrieved training example and how closely
// it matched the incoming email.
type SimilarScenario struct {
	Scenario   string `json:"scenario"`
	Similarity string `json:"similarity"`
}

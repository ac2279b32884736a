package suggest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagebox/mailsync/config"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/models"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

// mockTransport routes the three upstream calls by URL and records request
// bodies per endpoint.
type mockTransport struct {
	embedStatus    int
	queryStatus    int
	generateStatus int
	queryBody      string
	generateBody   string
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body := ""
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}

	respond := func(status int, payload string) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(bytes.NewReader([]byte(payload))),
		}, nil
	}

	switch {
	case strings.Contains(req.URL.Path, "embedContent"):
		if m.embedStatus != 0 {
			return respond(m.embedStatus, `{"error":"boom"}`)
		}
		return respond(200, `{"embedding":{"values":[0.1,0.2,0.3]}}`)

	case strings.HasSuffix(req.URL.Path, "/query"):
		m.queryBody = body
		if m.queryStatus != 0 {
			return respond(m.queryStatus, `{"error":"boom"}`)
		}
		return respond(200, `{"matches":[
			{"id":"initial_interest","score":0.91,"metadata":{"scenario":"Recruiter shows initial interest in profile","receivedEmail":"Are you available for a call?","suggestedReply":"Please book a time here","bookingLink":"https://cal.example/book"}},
			{"id":"phone_screening","score":0.74,"metadata":{"scenario":"Request for phone screening","receivedEmail":"What times work for you?","suggestedReply":"Happy to participate","bookingLink":"https://cal.example/book"}}
		]}`)

	case strings.Contains(req.URL.Path, "generateContent"):
		m.generateBody = body
		if m.generateStatus != 0 {
			return respond(m.generateStatus, `{"error":"boom"}`)
		}
		return respond(200, `{"candidates":[{"content":{"parts":[{"text":"  Thank you for reaching out! Book here: https://cal.example/book  "}]}}]}`)
	}

	return respond(404, `{}`)
}

func newTestSuggester(transport *mockTransport) *pineconeSuggester {
	return &pineconeSuggester{
		config: &config.SuggestConfig{
			PineconeAPIKey:    "pc-key",
			PineconeIndexHost: "http://pinecone.test",
			EmbeddingModel:    "text-embedding-004",
			BookingLink:       "https://cal.example/book",
			TopK:              3,
		},
		gemini: &config.ClassifierConfig{
			GeminiURL:    "http://gemini.test",
			GeminiAPIKey: "g-key",
			GeminiModel:  "gemini-2.0-flash",
		},
		httpClient: &http.Client{Transport: transport},
		log:        getLogger(),
	}
}

func testDoc() *models.EmailDocument {
	return &models.EmailDocument{
		ID:      "abc",
		Subject: "Are you open to new opportunities?",
		Preview: "I came across your profile and would like to chat.",
	}
}

func TestSuggestReply(t *testing.T) {
	transport := &mockTransport{}
	s := newTestSuggester(transport)

	suggestion, err := s.SuggestReply(context.Background(), testDoc())
	require.NoError(t, err)

	assert.Equal(t, "Thank you for reaching out! Book here: https://cal.example/book", suggestion.SuggestedReply)
	require.Len(t, suggestion.SimilarScenarios, 2)
	assert.Equal(t, "Recruiter shows initial interest in profile", suggestion.SimilarScenarios[0].Scenario)
	assert.Equal(t, "91.0%", suggestion.SimilarScenarios[0].Similarity)

	// The vector query carries the embedding and asks for metadata
	assert.Contains(t, transport.queryBody, `"topK":3`)
	assert.Contains(t, transport.queryBody, `"includeMetadata":true`)

	// The prompt is grounded on the retrieved examples and the booking link
	assert.Contains(t, transport.generateBody, "Are you available for a call?")
	assert.Contains(t, transport.generateBody, "https://cal.example/book")
	assert.Contains(t, transport.generateBody, "Are you open to new opportunities?")
}

func TestSuggestReply_NotConfigured(t *testing.T) {
	s := newTestSuggester(&mockTransport{})
	s.config.PineconeAPIKey = ""

	_, err := s.SuggestReply(context.Background(), testDoc())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestSuggestReply_EmbeddingFailure(t *testing.T) {
	s := newTestSuggester(&mockTransport{embedStatus: 500})

	_, err := s.SuggestReply(context.Background(), testDoc())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed email")
}

func TestSuggestReply_RetrievalFailure(t *testing.T) {
	s := newTestSuggester(&mockTransport{queryStatus: 500})

	_, err := s.SuggestReply(context.Background(), testDoc())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to retrieve similar scenarios")
}

func TestSuggestReply_GenerationFailure(t *testing.T) {
	s := newTestSuggester(&mockTransport{generateStatus: 500})

	_, err := s.SuggestReply(context.Background(), testDoc())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to generate reply")
}

func TestBuildPrompt_NoMatchesStillPrompts(t *testing.T) {
	prompt := buildPrompt(testDoc(), nil, "https://cal.example/book")

	assert.Contains(t, prompt, "Are you open to new opportunities?")
	assert.Contains(t, prompt, "https://cal.example/book")
	assert.NotContains(t, prompt, "Example 1")
}

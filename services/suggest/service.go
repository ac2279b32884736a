package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/triagebox/mailsync/config"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/tracing"
)

const suggestTimeout = 45 * time.Second

// pineconeSuggester drafts replies in three steps: embed the incoming email
// with Gemini, retrieve the closest reply scenarios from the Pinecone index,
// then prompt Gemini with those examples. The index holds curated
// scenario/reply pairs keyed by embedding; this service only queries it.
type pineconeSuggester struct {
	config     *config.SuggestConfig
	gemini     *config.ClassifierConfig
	httpClient *http.Client
	log        logger.Logger
}

func NewPineconeSuggester(cfg *config.SuggestConfig, gemini *config.ClassifierConfig, log logger.Logger) interfaces.ReplySuggester {
	return &pineconeSuggester{
		config: cfg,
		gemini: gemini,
		httpClient: &http.Client{
			Timeout: suggestTimeout,
		},
		log: log,
	}
}

type embedRequest struct {
	Model   string       `json:"model"`
	Content embedContent `json:"content"`
}

type embedContent struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

type pineconeQuery struct {
	Vector          []float64 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type pineconeMatch struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	Metadata struct {
		Scenario       string `json:"scenario"`
		Context        string `json:"context"`
		ReceivedEmail  string `json:"receivedEmail"`
		SuggestedReply string `json:"suggestedReply"`
		BookingLink    string `json:"bookingLink"`
	} `json:"metadata"`
}

type pineconeQueryResponse struct {
	Matches []pineconeMatch `json:"matches"`
}

type generateRequest struct {
	Contents []embedContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []textPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (s *pineconeSuggester) SuggestReply(ctx context.Context, doc *models.EmailDocument) (*interfaces.ReplySuggestion, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pineconeSuggester.SuggestReply")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if s.config.PineconeAPIKey == "" || s.config.PineconeIndexHost == "" || s.gemini.GeminiAPIKey == "" {
		return nil, errors.New("reply suggestions are not configured")
	}
	if doc == nil {
		return nil, errors.New("no document to suggest a reply for")
	}

	vector, err := s.embed(ctx, doc.Subject+" "+doc.Preview)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to embed email")
	}

	matches, err := s.querySimilar(ctx, vector)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to retrieve similar scenarios")
	}
	span.LogFields(tracingLog.Int("scenarios", len(matches)))

	reply, err := s.generate(ctx, buildPrompt(doc, matches, s.config.BookingLink))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to generate reply")
	}

	suggestion := &interfaces.ReplySuggestion{
		SuggestedReply:   reply,
		SimilarScenarios: make([]interfaces.SimilarScenario, 0, len(matches)),
	}
	for _, match := range matches {
		suggestion.SimilarScenarios = append(suggestion.SimilarScenarios, interfaces.SimilarScenario{
			Scenario:   match.Metadata.Scenario,
			Similarity: fmt.Sprintf("%.1f%%", match.Score*100),
		})
	}
	return suggestion, nil
}

func (s *pineconeSuggester) embed(ctx context.Context, text string) ([]float64, error) {
	payload, err := json.Marshal(embedRequest{
		Model:   "models/" + s.config.EmbeddingModel,
		Content: embedContent{Parts: []textPart{{Text: text}}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}

	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s",
		s.gemini.GeminiURL, s.config.EmbeddingModel, s.gemini.GeminiAPIKey)

	body, err := s.post(ctx, url, nil, payload)
	if err != nil {
		return nil, err
	}

	var response embedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	if len(response.Embedding.Values) == 0 {
		return nil, errors.New("empty embedding from model")
	}
	return response.Embedding.Values, nil
}

func (s *pineconeSuggester) querySimilar(ctx context.Context, vector []float64) ([]pineconeMatch, error) {
	topK := s.config.TopK
	if topK < 1 {
		topK = 3
	}

	payload, err := json.Marshal(pineconeQuery{
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}

	headers := map[string]string{"Api-Key": s.config.PineconeAPIKey}
	body, err := s.post(ctx, s.config.PineconeIndexHost+"/query", headers, payload)
	if err != nil {
		return nil, err
	}

	var response pineconeQueryResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return response.Matches, nil
}

func (s *pineconeSuggester) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Contents: []embedContent{{Parts: []textPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal payload")
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		s.gemini.GeminiURL, s.gemini.GeminiModel, s.gemini.GeminiAPIKey)

	body, err := s.post(ctx, url, nil, payload)
	if err != nil {
		return "", err
	}

	var response generateResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal response")
	}
	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("empty response from model")
	}
	return strings.TrimSpace(response.Candidates[0].Content.Parts[0].Text), nil
}

func (s *pineconeSuggester) post(ctx context.Context, url string, headers map[string]string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// buildPrompt mirrors the structure the retrieval index was curated around:
// each example shows a received email and the reply that worked for it.
func buildPrompt(doc *models.EmailDocument, matches []pineconeMatch, bookingLink string) string {
	var b bytes.Buffer
	b.WriteString("Here are similar email scenarios and their appropriate responses:\n\n")
	for i, match := range matches {
		fmt.Fprintf(&b, "Example %d (Similarity: %.1f%%):\n", i+1, match.Score*100)
		fmt.Fprintf(&b, "Received: %s\n", match.Metadata.ReceivedEmail)
		fmt.Fprintf(&b, "Reply: %s\n", match.Metadata.SuggestedReply)
		fmt.Fprintf(&b, "Booking Link: %s\n\n", match.Metadata.BookingLink)
	}

	fmt.Fprintf(&b, "Based on the examples above, generate a professional and friendly reply to the following email:\n\n")
	fmt.Fprintf(&b, "Incoming Email: %q\n\n", doc.Subject)
	fmt.Fprintf(&b, "Requirements:\n")
	fmt.Fprintf(&b, "- Be professional and enthusiastic\n")
	fmt.Fprintf(&b, "- Include the booking link: %s\n", bookingLink)
	fmt.Fprintf(&b, "- Keep it concise (2-3 sentences)\n")
	fmt.Fprintf(&b, "- Match the tone of the example replies\n\n")
	fmt.Fprintf(&b, "Suggested Reply:")
	return b.String()
}

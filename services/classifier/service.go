package classifier

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
	"github.com/triagebox/mailsync/internal/enum"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/tracing"
)

const classifyTimeout = 30 * time.Second

// geminiClassifier labels emails with one Gemini generateContent call per
// email. Every failure mode collapses to CategoryUncategorized; callers never
// see an error.
type geminiClassifier struct {
	config     *config.ClassifierConfig
	httpClient *http.Client
	log        logger.Logger
}

func NewGeminiClassifier(cfg *config.ClassifierConfig, log logger.Logger) interfaces.Classifier {
	return &geminiClassifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: classifyTimeout,
		},
		log: log,
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (s *geminiClassifier) Classify(ctx context.Context, subject, body string) enum.EmailCategory {
	span, ctx := opentracing.StartSpanFromContext(ctx, "geminiClassifier.Classify")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if s.config.GeminiAPIKey == "" {
		return enum.CategoryUncategorized
	}

	category, err := s.classify(ctx, subject, body)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Warnf("classification failed, falling back to %s: %v", enum.CategoryUncategorized, err)
		return enum.CategoryUncategorized
	}

	span.LogFields(tracingLog.String("result.category", category.String()))
	return category
}

func (s *geminiClassifier) classify(ctx context.Context, subject, body string) (enum.EmailCategory, error) {
	labels := make([]string, 0, len(enum.ClassifierLabels))
	for _, label := range enum.ClassifierLabels {
		labels = append(labels, label.String())
	}

	prompt := fmt.Sprintf(
		"Classify the following email into exactly one of these categories: %s.\n"+
			"Reply with the category name only.\n\nSubject: %s\n\nBody: %s",
		strings.Join(labels, ", "), subject, body)

	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal payload")
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		s.config.GeminiURL, s.config.GeminiModel, s.config.GeminiAPIKey)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "unable to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, string(respBody))
	}

	var response geminiResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("empty response from model")
	}

	return matchLabel(response.Candidates[0].Content.Parts[0].Text)
}

// matchLabel maps free-form model output onto the closed label set. Anything
// outside the set is an error, which the caller turns into the fallback.
func matchLabel(text string) (enum.EmailCategory, error) {
	answer := strings.ToLower(strings.TrimSpace(text))
	for _, label := range enum.ClassifierLabels {
		if strings.Contains(answer, strings.ToLower(label.String())) {
			return label, nil
		}
	}
	return "", errors.Errorf("model returned unknown label %q", text)
}

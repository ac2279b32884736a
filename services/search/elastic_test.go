package search

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/enum"
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

// mockTransport routes requests to canned responses and records the last
// request body.
type mockTransport struct {
	respond  func(req *http.Request) (int, string)
	lastBody string
	lastPath string
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.lastPath = req.URL.Path
	if req.Body != nil {
		body, _ := io.ReadAll(req.Body)
		m.lastBody = string(body)
	}

	status, payload := m.respond(req)
	return &http.Response{
		StatusCode: status,
		Header: http.Header{
			"X-Elastic-Product": []string{"Elasticsearch"},
			"Content-Type":      []string{"application/json"},
		},
		Body: io.NopCloser(bytes.NewReader([]byte(payload))),
	}, nil
}

func newTestStore(t *testing.T, transport *mockTransport) *ElasticStore {
	t.Helper()
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://elastic.test:9200"},
		Transport: transport,
	})
	require.NoError(t, err)
	return &ElasticStore{client: client, index: "emails", log: getLogger()}
}

func TestExists(t *testing.T) {
	transport := &mockTransport{
		respond: func(req *http.Request) (int, string) {
			if strings.HasSuffix(req.URL.Path, "/known") {
				return 200, ""
			}
			return 404, ""
		},
	}
	store := newTestStore(t, transport)

	exists, err := store.Exists(context.Background(), "known")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGet_ReturnsNilWhenAbsent(t *testing.T) {
	transport := &mockTransport{
		respond: func(req *http.Request) (int, string) {
			return 404, `{"found":false}`
		},
	}
	store := newTestStore(t, transport)

	doc, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestGet_DecodesDocument(t *testing.T) {
	transport := &mockTransport{
		respond: func(req *http.Request) (int, string) {
			return 200, `{"_id":"abc","_source":{"subject":"hello","from":"alice@example.com","to":"bob@example.com","date":"2024-05-01T12:00:00Z","category":"Interested"}}`
		},
	}
	store := newTestStore(t, transport)

	doc, err := store.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "abc", doc.ID)
	assert.Equal(t, "hello", doc.Subject)
	assert.Equal(t, enum.CategoryInterested, doc.Category)
}

func TestBulkApply_BuildsInsertAndUpdateActions(t *testing.T) {
	transport := &mockTransport{
		respond: func(req *http.Request) (int, string) {
			return 200, `{"errors":false,"items":[]}`
		},
	}
	store := newTestStore(t, transport)

	set := &models.BulkWriteSet{}
	set.Add(models.BulkOpInsert, &models.EmailDocument{
		ID:      "ins",
		Subject: "fresh",
		Date:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	set.Add(models.BulkOpUpdate, &models.EmailDocument{
		ID:       "upd",
		Subject:  "seen before",
		Date:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Category: enum.CategoryInterested,
	})

	require.NoError(t, store.BulkApply(context.Background(), set))

	lines := strings.Split(strings.TrimSpace(transport.lastBody), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"index"`)
	assert.Contains(t, lines[0], `"_id":"ins"`)
	assert.Contains(t, lines[1], `"subject":"fresh"`)
	assert.Contains(t, lines[2], `"update"`)
	assert.Contains(t, lines[2], `"_id":"upd"`)
	// Updates are partial documents
	assert.Contains(t, lines[3], `"doc"`)
	assert.Contains(t, lines[3], `"Interested"`)
}

func TestBulkApply_EmptySetSkipsRequest(t *testing.T) {
	transport := &mockTransport{
		respond: func(req *http.Request) (int, string) {
			t.Fatal("no request expected for empty set")
			return 500, ""
		},
	}
	store := newTestStore(t, transport)

	require.NoError(t, store.BulkApply(context.Background(), &models.BulkWriteSet{}))
}

func TestBulkApply_ReportsItemFailures(t *testing.T) {
	transport := &mockTransport{
		respond: func(req *http.Request) (int, string) {
			return 200, `{"errors":true,"items":[{"index":{"status":429,"error":{"type":"circuit_breaking_exception","reason":"too much load"}}}]}`
		},
	}
	store := newTestStore(t, transport)

	set := &models.BulkWriteSet{}
	set.Add(models.BulkOpInsert, &models.EmailDocument{ID: "x"})

	err := store.BulkApply(context.Background(), set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 failed")
}

func TestSearch_ParsesHitsAndTotal(t *testing.T) {
	transport := &mockTransport{
		respond: func(req *http.Request) (int, string) {
			return 200, `{"hits":{"total":{"value":42},"hits":[{"_id":"h1","_source":{"subject":"one"}},{"_id":"h2","_source":{"subject":"two"}}]}}`
		},
	}
	store := newTestStore(t, transport)

	result, err := store.Search(context.Background(), interfaces.SearchQuery{
		Text:      "quarterly",
		AccountID: "acct1",
		Page:      2,
		Limit:     10,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), result.Total)
	require.Len(t, result.Emails, 2)
	assert.Equal(t, "h1", result.Emails[0].ID)
	assert.Equal(t, "two", result.Emails[1].Subject)

	// Pagination and filters are part of the request body
	assert.Contains(t, transport.lastBody, `"from":10`)
	assert.Contains(t, transport.lastBody, `"acct1"`)
	assert.Contains(t, transport.lastBody, `"quarterly"`)
}

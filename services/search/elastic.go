package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/triagebox/mailsync/config"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/tracing"
)

const defaultPageSize = 10

// ElasticStore implements the DocumentStore contract against Elasticsearch.
// Concurrency control for a single document is the cluster's job; the store
// client itself is safe for use from all account pipelines.
type ElasticStore struct {
	client *elasticsearch.Client
	index  string
	log    logger.Logger
}

func NewElasticStore(cfg *config.SearchStoreConfig, log logger.Logger) (*ElasticStore, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		APIKey:    cfg.APIKey,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create elasticsearch client")
	}

	return &ElasticStore{
		client: client,
		index:  cfg.IndexName,
		log:    log,
	}, nil
}

func (s *ElasticStore) EnsureIndex(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ElasticStore.EnsureIndex")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	res, err := s.client.Indices.Exists(
		[]string{s.index},
		s.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "index existence check failed")
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"subject":   map[string]string{"type": "text"},
				"from":      map[string]string{"type": "keyword"},
				"to":        map[string]string{"type": "keyword"},
				"date":      map[string]string{"type": "date"},
				"category":  map[string]string{"type": "keyword"},
				"accountId": map[string]string{"type": "keyword"},
				"folder":    map[string]string{"type": "keyword"},
				"preview":   map[string]string{"type": "text"},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return errors.Wrap(err, "failed to marshal index mapping")
	}

	createRes, err := s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "index creation failed")
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		err = errors.Errorf("index creation returned %s", createRes.Status())
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Infof("created index %s", s.index)
	return nil
}

func (s *ElasticStore) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.client.Exists(
		s.index,
		key,
		s.client.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, errors.Wrap(err, "existence check failed")
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, errors.Errorf("existence check returned %s", res.Status())
	}
}

func (s *ElasticStore) Get(ctx context.Context, key string) (*models.EmailDocument, error) {
	res, err := s.client.Get(
		s.index,
		key,
		s.client.Get.WithContext(ctx),
	)
	if err != nil {
		return nil, errors.Wrap(err, "document fetch failed")
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, errors.Errorf("document fetch returned %s", res.Status())
	}

	var envelope struct {
		Source models.EmailDocument `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, errors.Wrap(err, "failed to decode document")
	}

	doc := envelope.Source
	doc.ID = key
	return &doc, nil
}

// BulkApply submits the whole write set as one _bulk call. Inserts become
// index actions, updates become partial doc updates so fields absent from
// the incoming record are preserved.
func (s *ElasticStore) BulkApply(ctx context.Context, set *models.BulkWriteSet) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ElasticStore.BulkApply")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogFields(tracingLog.Int("ops", len(set.Ops)))

	if set.Empty() {
		return nil
	}

	var buf bytes.Buffer
	for _, op := range set.Ops {
		var action map[string]interface{}
		switch op.Type {
		case models.BulkOpInsert:
			action = map[string]interface{}{
				"index": map[string]interface{}{"_index": s.index, "_id": op.Doc.ID},
			}
		case models.BulkOpUpdate:
			action = map[string]interface{}{
				"update": map[string]interface{}{"_index": s.index, "_id": op.Doc.ID},
			}
		default:
			return errors.Errorf("unknown bulk op type %q", op.Type)
		}

		if err := json.NewEncoder(&buf).Encode(action); err != nil {
			return errors.Wrap(err, "failed to encode bulk action")
		}

		var payload interface{} = op.Doc
		if op.Type == models.BulkOpUpdate {
			payload = map[string]interface{}{"doc": op.Doc}
		}
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			return errors.Wrap(err, "failed to encode bulk payload")
		}
	}

	res, err := s.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "bulk apply failed")
	}
	defer res.Body.Close()

	if res.IsError() {
		err = errors.Errorf("bulk apply returned %s", res.Status())
		tracing.TraceErr(span, err)
		return err
	}

	var bulkRes struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return errors.Wrap(err, "failed to decode bulk response")
	}

	if bulkRes.Errors {
		failed := 0
		for _, item := range bulkRes.Items {
			for _, result := range item {
				if result.Error != nil {
					failed++
					s.log.Errorf("bulk item failed: %s: %s", result.Error.Type, result.Error.Reason)
				}
			}
		}
		err = errors.Errorf("bulk apply reported %d failed operations", failed)
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}

func (s *ElasticStore) Search(ctx context.Context, query interfaces.SearchQuery) (*interfaces.SearchResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ElasticStore.Search")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit < 1 {
		limit = defaultPageSize
	}

	must := []interface{}{}
	if query.Text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query.Text,
				"fields": []string{"subject", "from", "to", "preview"},
			},
		})
	}

	filter := []interface{}{}
	for field, value := range map[string]string{
		"accountId": query.AccountID,
		"folder":    query.Folder,
		"category":  query.Category,
	} {
		if value != "" {
			filter = append(filter, map[string]interface{}{
				"term": map[string]interface{}{field: value},
			})
		}
	}

	searchBody := map[string]interface{}{
		"from": (page - 1) * limit,
		"size": limit,
		"sort": []interface{}{
			map[string]interface{}{"date": map[string]string{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
	}

	body, err := json.Marshal(searchBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "search failed")
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		err = errors.Errorf("search returned %s: %s", res.Status(), string(raw))
		tracing.TraceErr(span, err)
		return nil, err
	}

	var searchRes struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string               `json:"_id"`
				Source models.EmailDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchRes); err != nil {
		return nil, errors.Wrap(err, "failed to decode search response")
	}

	result := &interfaces.SearchResult{
		Total:  searchRes.Hits.Total.Value,
		Emails: make([]*models.EmailDocument, 0, len(searchRes.Hits.Hits)),
	}
	for _, hit := range searchRes.Hits.Hits {
		doc := hit.Source
		doc.ID = hit.ID
		result.Emails = append(result.Emails, &doc)
	}

	span.LogFields(tracingLog.Int64("result.total", result.Total))
	return result, nil
}

var _ interfaces.DocumentStore = (*ElasticStore)(nil)

func (s *ElasticStore) String() string {
	return fmt.Sprintf("elasticsearch index %q", s.index)
}

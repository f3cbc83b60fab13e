package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/banking/sar-governance/internal/config"
	"github.com/banking/sar-governance/internal/domain"
	elastic "github.com/elastic/go-elasticsearch/v8"
)

// SearchRepository indexes committed audit entries and sealed submissions
// and serves free-text audit search. Elasticsearch is a secondary view; the
// relational store stays authoritative.
type SearchRepository struct {
	client          *elastic.Client
	auditIndex      string
	submissionIndex string
}

// NewClient creates an Elasticsearch client and verifies the connection
func NewClient(cfg config.ElasticsearchConfig) (*elastic.Client, error) {
	client, err := elastic.NewClient(elastic.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch info error: %s", res.String())
	}

	return client, nil
}

// NewSearchRepository creates a search repository over an existing client
func NewSearchRepository(client *elastic.Client, cfg config.ElasticsearchConfig) *SearchRepository {
	return &SearchRepository{
		client:          client,
		auditIndex:      cfg.AuditIndex,
		submissionIndex: cfg.SubmissionIndex,
	}
}

// IndexAuditEntry indexes an entry under its id, so a retried write is idempotent
func (r *SearchRepository) IndexAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	return r.index(ctx, r.auditIndex, entry.ID.String(), entry)
}

// IndexSubmission indexes a sealed submission under its submission id
func (r *SearchRepository) IndexSubmission(ctx context.Context, sub *domain.Submission) error {
	return r.index(ctx, r.submissionIndex, sub.SubmissionID, sub)
}

func (r *SearchRepository) index(ctx context.Context, index, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	res, err := r.client.Index(
		index,
		bytes.NewReader(data),
		r.client.Index.WithContext(ctx),
		r.client.Index.WithDocumentID(id),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}

	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source domain.AuditEntry `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchAuditEntries runs a query_string query over the audit index, newest first
func (r *SearchRepository) SearchAuditEntries(ctx context.Context, query string, limit int) ([]domain.AuditEntry, error) {
	esQuery := map[string]any{
		"size": limit,
		"query": map[string]any{
			"query_string": map[string]any{
				"query": query,
			},
		},
		"sort": []map[string]any{
			{"timestamp": "desc"},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.auditIndex),
		r.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to perform search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	var result searchResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	entries := make([]domain.AuditEntry, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		entries = append(entries, hit.Source)
	}
	return entries, nil
}

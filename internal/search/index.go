// internal/search/index.go
// Package search keeps contacts searchable in Elasticsearch.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const DefaultIndex = "contacts_index"

const contactMapping = `{
  "settings": {"number_of_shards": 1},
  "mappings": {
    "properties": {
      "client_id":  {"type": "keyword"},
      "name":       {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "phone":      {"type": "keyword", "fields": {"text": {"type": "text"}}},
      "email":      {"type": "text"},
      "status":     {"type": "keyword"},
      "tags":       {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "updated_at": {"type": "date"}
    }
  }
}`

// contactDocument is the indexed shape of a contact.
type contactDocument struct {
	ClientID  string    `json:"client_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Status    string    `json:"status"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContactIndex writes and queries the contact index. A nil client disables it.
type ContactIndex struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewContactIndex(client *elasticsearch.Client, index string, log logger.Logger) *ContactIndex {
	if index == "" {
		index = DefaultIndex
	}
	return &ContactIndex{
		client: client,
		index:  index,
		logger: logger.WithComponent(log, "search"),
	}
}

// Enabled reports whether an Elasticsearch cluster is configured.
func (ix *ContactIndex) Enabled() bool {
	return ix != nil && ix.client != nil
}

// EnsureIndex creates the index with its mapping unless it exists.
func (ix *ContactIndex) EnsureIndex(ctx context.Context) error {
	if !ix.Enabled() {
		return nil
	}
	res, err := ix.client.Indices.Exists([]string{ix.index}, ix.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return apperrors.NewSearchQueryFailedError("index_exists", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = ix.client.Indices.Create(ix.index,
		ix.client.Indices.Create.WithContext(ctx),
		ix.client.Indices.Create.WithBody(strings.NewReader(contactMapping)),
	)
	if err != nil {
		return apperrors.NewSearchQueryFailedError("index_create", err)
	}
	defer res.Body.Close()
	if res.IsError() && !strings.Contains(readBody(res.Body), "resource_already_exists_exception") {
		return apperrors.NewSearchQueryFailedError("index_create", fmt.Errorf("status %s", res.Status()))
	}
	ix.logger.Info("Created search index", map[string]interface{}{"index": ix.index})
	return nil
}

// Index upserts the contact document.
func (ix *ContactIndex) Index(ctx context.Context, c models.Contact) error {
	if !ix.Enabled() {
		return nil
	}
	doc := contactDocument{
		ClientID:  c.ClientID,
		Name:      c.Name,
		Phone:     c.Phone,
		Status:    c.Status,
		Tags:      c.Tags,
		UpdatedAt: c.UpdatedAt,
	}
	if c.Email != nil {
		doc.Email = *c.Email
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return apperrors.NewSearchQueryFailedError("index_contact", err)
	}

	req := esapi.IndexRequest{
		Index:      ix.index,
		DocumentID: c.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return apperrors.NewSearchQueryFailedError("index_contact", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperrors.NewSearchQueryFailedError("index_contact", fmt.Errorf("status %s", res.Status()))
	}
	return nil
}

// Delete removes a contact document. A missing document is not an error.
func (ix *ContactIndex) Delete(ctx context.Context, id string) error {
	if !ix.Enabled() {
		return nil
	}
	req := esapi.DeleteRequest{Index: ix.index, DocumentID: id}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return apperrors.NewSearchQueryFailedError("delete_contact", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return apperrors.NewSearchQueryFailedError("delete_contact", fmt.Errorf("status %s", res.Status()))
	}
	return nil
}

// Search returns the ids of the tenant's contacts matching q, best first.
func (ix *ContactIndex) Search(ctx context.Context, clientID, q string, size int) ([]string, error) {
	if !ix.Enabled() {
		return nil, nil
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	body, _ := json.Marshal(buildContactQuery(clientID, q))

	req := esapi.SearchRequest{
		Index: []string{ix.index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError("search_contacts", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, apperrors.NewSearchQueryFailedError("search_contacts", fmt.Errorf("status %s", res.Status()))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewSearchQueryFailedError("search_contacts", err)
	}
	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func buildContactQuery(clientID, q string) map[string]interface{} {
	must := []interface{}{}
	if q = strings.TrimSpace(q); q != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     q,
				"fields":    []string{"name^3", "phone.text^2", "email", "tags"},
				"type":      "best_fields",
				"fuzziness": "AUTO",
			},
		})
	} else {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}
	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": must,
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"client_id": clientID}},
				},
			},
		},
	}
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(b)
}

// internal/search/contacts.go
package search

import (
	"context"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"
)

// ContactStore is the relational side of contact search.
type ContactStore interface {
	GetContactsByIDs(ctx context.Context, clientID string, ids []string) ([]models.Contact, error)
	ListContacts(ctx context.Context, clientID string, f store.ContactFilter) ([]models.Contact, int, error)
}

// ContactSearch answers contact searches from the index, or from SQL
// when the index is disabled or failing.
type ContactSearch struct {
	index *ContactIndex
	store ContactStore
}

func NewContactSearch(index *ContactIndex, store ContactStore) *ContactSearch {
	return &ContactSearch{index: index, store: store}
}

func (s *ContactSearch) Search(ctx context.Context, clientID, q string, size int) ([]models.Contact, error) {
	if s.index.Enabled() {
		ids, err := s.index.Search(ctx, clientID, q, size)
		if err == nil {
			return s.store.GetContactsByIDs(ctx, clientID, ids)
		}
		s.index.logger.Warn("Contact index search failed, using SQL", map[string]interface{}{
			"clientId": clientID,
			"error":    err.Error(),
		})
	}
	out, _, err := s.store.ListContacts(ctx, clientID, store.ContactFilter{
		Query: q,
		Page:  store.Page{Limit: size},
	})
	return out, err
}

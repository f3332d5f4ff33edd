// internal/store/contacts.go
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"

	"github.com/lib/pq"
)

type ContactFilter struct {
	Status string
	Query  string
	Page   Page
}

type ContactPatch struct {
	Name   *string
	Phone  *string
	Email  *string
	Status *string
	Tags   *[]string
	Notes  *string
}

// ListContacts returns one page of a tenant's contacts and the total match count.
func (s *Store) ListContacts(ctx context.Context, clientID string, f ContactFilter) ([]models.Contact, int, error) {
	where := []string{"client_id = $1"}
	args := []interface{}{clientID}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR phone ILIKE $%d OR email ILIKE $%d)", n, n, n))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT count(*) FROM contacts WHERE `+cond, args...); err != nil {
		return nil, 0, mapError("count_contacts", err)
	}

	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT * FROM contacts WHERE %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`,
		cond, len(args)-1, len(args))

	var out []models.Contact
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, mapError("list_contacts", err)
	}
	return out, total, nil
}

func (s *Store) GetContact(ctx context.Context, clientID, id string) (*models.Contact, error) {
	var c models.Contact
	err := s.db.GetContext(ctx, &c, `SELECT * FROM contacts WHERE id = $1 AND client_id = $2`, id, clientID)
	if err != nil {
		return nil, getOne(err, "get_contact", "contact", id)
	}
	return &c, nil
}

// GetContactsByIDs loads contacts in the order of ids, skipping missing ones.
func (s *Store) GetContactsByIDs(ctx context.Context, clientID string, ids []string) ([]models.Contact, error) {
	if len(ids) == 0 {
		return []models.Contact{}, nil
	}
	var rows []models.Contact
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM contacts WHERE client_id = $1 AND id = ANY($2)`, clientID, pq.Array(ids))
	if err != nil {
		return nil, mapError("get_contacts_by_ids", err)
	}
	byID := make(map[string]models.Contact, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}
	out := make([]models.Contact, 0, len(rows))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) CreateContact(ctx context.Context, c models.Contact) (*models.Contact, error) {
	if c.Status == "" {
		c.Status = models.ContactStatusNew
	}
	if c.Source == "" {
		c.Source = models.ContactSourceManual
	}
	if c.Tags == nil {
		c.Tags = pq.StringArray{}
	}
	var out models.Contact
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO contacts (client_id, name, phone, email, status, source, tags, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *`,
		c.ClientID, c.Name, c.Phone, c.Email, c.Status, c.Source, c.Tags, c.Notes)
	if err != nil {
		return nil, mapError("create_contact", err)
	}
	return &out, nil
}

func (s *Store) UpdateContact(ctx context.Context, clientID, id string, p ContactPatch) (*models.Contact, error) {
	var tags interface{}
	if p.Tags != nil {
		tags = pq.StringArray(*p.Tags)
	}
	var out models.Contact
	err := s.db.GetContext(ctx, &out, `
		UPDATE contacts SET
			name = COALESCE($3, name),
			phone = COALESCE($4, phone),
			email = COALESCE($5, email),
			status = COALESCE($6, status),
			tags = COALESCE($7, tags),
			notes = COALESCE($8, notes),
			updated_at = now()
		WHERE id = $1 AND client_id = $2
		RETURNING *`,
		id, clientID, p.Name, p.Phone, p.Email, p.Status, tags, p.Notes)
	if err != nil {
		return nil, getOne(err, "update_contact", "contact", id)
	}
	return &out, nil
}

func (s *Store) DeleteContact(ctx context.Context, clientID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1 AND client_id = $2`, id, clientID)
	return expectAffected(res, err, "delete_contact", "contact", id)
}

// UpsertContactByPhone finds the tenant's contact for phone or creates it.
// An existing contact only takes the new name while it still has a placeholder one.
func (s *Store) UpsertContactByPhone(ctx context.Context, clientID, phone, name, source string) (*models.Contact, bool, error) {
	if name == "" {
		name = phone
	}
	var row struct {
		models.Contact
		Inserted bool `db:"inserted"`
	}
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO contacts (client_id, name, phone, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, phone) DO UPDATE SET
			name = CASE WHEN contacts.name = '' OR contacts.name = contacts.phone
				THEN EXCLUDED.name ELSE contacts.name END,
			updated_at = now()
		RETURNING *, (xmax = 0) AS inserted`,
		clientID, name, phone, source)
	if err != nil {
		return nil, false, mapError("upsert_contact", err)
	}
	return &row.Contact, row.Inserted, nil
}

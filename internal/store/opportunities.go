// internal/store/opportunities.go
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"

	"github.com/shopspring/decimal"
)

type OpportunityFilter struct {
	PipelineID string
	StageID    string
	Status     string
	Page       Page
}

type OpportunityPatch struct {
	Title           *string
	Amount          *decimal.Decimal
	Currency        *string
	Status          *string
	AssignedUserID  *string
	ExpectedCloseAt *time.Time
}

func (s *Store) ListOpportunities(ctx context.Context, clientID string, f OpportunityFilter) ([]models.Opportunity, error) {
	where := []string{"client_id = $1"}
	args := []interface{}{clientID}
	for _, kv := range []struct{ col, val string }{
		{"pipeline_id", f.PipelineID},
		{"stage_id", f.StageID},
		{"status", f.Status},
	} {
		if kv.val == "" {
			continue
		}
		args = append(args, kv.val)
		where = append(where, fmt.Sprintf("%s = $%d", kv.col, len(args)))
	}
	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT * FROM opportunities WHERE %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), len(args)-1, len(args))

	var out []models.Opportunity
	err := s.db.SelectContext(ctx, &out, query, args...)
	return out, mapError("list_opportunities", err)
}

func (s *Store) GetOpportunity(ctx context.Context, clientID, id string) (*models.Opportunity, error) {
	var o models.Opportunity
	err := s.db.GetContext(ctx, &o, `SELECT * FROM opportunities WHERE id = $1 AND client_id = $2`, id, clientID)
	if err != nil {
		return nil, getOne(err, "get_opportunity", "opportunity", id)
	}
	return &o, nil
}

// CreateOpportunity inserts o after checking that its contact and stage belong to the tenant.
// An empty stage id places it in the pipeline's first stage.
func (s *Store) CreateOpportunity(ctx context.Context, o models.Opportunity) (*models.Opportunity, error) {
	if o.Currency == "" {
		o.Currency = "USD"
	}
	if o.Status == "" {
		o.Status = models.OpportunityOpen
	}
	var out models.Opportunity
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO opportunities
			(client_id, contact_id, pipeline_id, stage_id, assigned_user_id, title, amount, currency, status, expected_close_at)
		SELECT $1, ct.id, st.pipeline_id, st.id, $5, $6, $7, $8, $9, $10
		FROM contacts ct, pipeline_stages st
		WHERE ct.id = $2 AND ct.client_id = $1
			AND st.client_id = $1 AND st.pipeline_id = $3
			AND st.id = COALESCE(NULLIF($4, '')::uuid,
				(SELECT id FROM pipeline_stages WHERE pipeline_id = $3 ORDER BY position LIMIT 1))
		RETURNING *`,
		o.ClientID, o.ContactID, o.PipelineID, o.StageID, o.AssignedUserID, o.Title,
		o.Amount, o.Currency, o.Status, o.ExpectedCloseAt)
	if err != nil {
		return nil, getOne(err, "create_opportunity", "contact or stage", o.ContactID)
	}
	return &out, nil
}

func (s *Store) UpdateOpportunity(ctx context.Context, clientID, id string, p OpportunityPatch) (*models.Opportunity, error) {
	var out models.Opportunity
	err := s.db.GetContext(ctx, &out, `
		UPDATE opportunities SET
			title = COALESCE($3, title),
			amount = COALESCE($4, amount),
			currency = COALESCE($5, currency),
			status = COALESCE($6, status),
			assigned_user_id = COALESCE($7, assigned_user_id),
			expected_close_at = COALESCE($8, expected_close_at),
			updated_at = now()
		WHERE id = $1 AND client_id = $2
		RETURNING *`,
		id, clientID, p.Title, p.Amount, p.Currency, p.Status, p.AssignedUserID, p.ExpectedCloseAt)
	if err != nil {
		return nil, getOne(err, "update_opportunity", "opportunity", id)
	}
	return &out, nil
}

// MoveOpportunity changes the stage within the opportunity's own pipeline.
func (s *Store) MoveOpportunity(ctx context.Context, clientID, id, stageID string) (*models.Opportunity, error) {
	var out models.Opportunity
	err := s.db.GetContext(ctx, &out, `
		UPDATE opportunities o SET stage_id = st.id, updated_at = now()
		FROM pipeline_stages st
		WHERE o.id = $1 AND o.client_id = $2
			AND st.id = $3 AND st.pipeline_id = o.pipeline_id
		RETURNING o.*`, id, clientID, stageID)
	if err != nil {
		return nil, getOne(err, "move_opportunity", "opportunity or stage", id)
	}
	return &out, nil
}

func (s *Store) DeleteOpportunity(ctx context.Context, clientID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM opportunities WHERE id = $1 AND client_id = $2`, id, clientID)
	return expectAffected(res, err, "delete_opportunity", "opportunity", id)
}

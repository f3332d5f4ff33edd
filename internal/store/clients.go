// internal/store/clients.go
package store

import (
	"context"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
)

type ClientPatch struct {
	Name   *string
	Plan   *string
	Status *string
}

func (s *Store) ListClients(ctx context.Context) ([]models.Client, error) {
	var out []models.Client
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM clients ORDER BY created_at DESC`)
	return out, mapError("list_clients", err)
}

func (s *Store) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	err := s.db.GetContext(ctx, &c, `SELECT * FROM clients WHERE id = $1`, id)
	if err != nil {
		return nil, getOne(err, "get_client", "client", id)
	}
	return &c, nil
}

// CreateClient inserts the tenant with its usage row and a default pipeline.
func (s *Store) CreateClient(ctx context.Context, name, slug, plan string) (*models.Client, error) {
	var c models.Client
	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.tx.GetContext(ctx, &c,
			`INSERT INTO clients (name, slug, plan) VALUES ($1, $2, $3) RETURNING *`,
			name, slug, plan); err != nil {
			return mapError("create_client", err)
		}
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO client_usage (client_id) VALUES ($1)`, c.ID); err != nil {
			return mapError("create_client_usage", err)
		}
		_, err := tx.createPipeline(ctx, c.ID, "Sales", true, models.DefaultStages)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateClient(ctx context.Context, id string, p ClientPatch) (*models.Client, error) {
	var c models.Client
	err := s.db.GetContext(ctx, &c, `
		UPDATE clients SET
			name = COALESCE($2, name),
			plan = COALESCE($3, plan),
			status = COALESCE($4, status),
			updated_at = now()
		WHERE id = $1
		RETURNING *`, id, p.Name, p.Plan, p.Status)
	if err != nil {
		return nil, getOne(err, "update_client", "client", id)
	}
	return &c, nil
}

func (s *Store) DeleteClient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
	return expectAffected(res, err, "delete_client", "client", id)
}

// SetClientAIKey stores an already encrypted LLM key.
func (s *Store) SetClientAIKey(ctx context.Context, id, encrypted string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET ai_api_key_encrypted = $2, updated_at = now() WHERE id = $1`, id, encrypted)
	return expectAffected(res, err, "set_client_ai_key", "client", id)
}

func (s *Store) ListPlanLimits(ctx context.Context) ([]models.PlanLimits, error) {
	var out []models.PlanLimits
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM plan_limits ORDER BY max_contacts`)
	return out, mapError("list_plan_limits", err)
}

func (s *Store) GetPlanLimits(ctx context.Context, plan string) (*models.PlanLimits, error) {
	var l models.PlanLimits
	err := s.db.GetContext(ctx, &l, `SELECT * FROM plan_limits WHERE plan = $1`, plan)
	if err != nil {
		return nil, getOne(err, "get_plan_limits", "plan", plan)
	}
	return &l, nil
}

// GetClientPlanLimits resolves the limits of the client's current plan.
func (s *Store) GetClientPlanLimits(ctx context.Context, clientID string) (*models.PlanLimits, error) {
	var l models.PlanLimits
	err := s.db.GetContext(ctx, &l, `
		SELECT pl.* FROM plan_limits pl
		JOIN clients c ON c.plan = pl.plan
		WHERE c.id = $1`, clientID)
	if err != nil {
		return nil, getOne(err, "get_client_plan_limits", "client", clientID)
	}
	return &l, nil
}

func (s *Store) UpdatePlanLimits(ctx context.Context, l models.PlanLimits) (*models.PlanLimits, error) {
	var out models.PlanLimits
	err := s.db.GetContext(ctx, &out, `
		UPDATE plan_limits SET
			max_users = $2,
			max_contacts = $3,
			max_agents = $4,
			max_instances = $5,
			max_monthly_ai_messages = $6,
			updated_at = now()
		WHERE plan = $1
		RETURNING *`,
		l.Plan, l.MaxUsers, l.MaxContacts, l.MaxAgents, l.MaxInstances, l.MaxMonthlyAIMessages)
	if err != nil {
		return nil, getOne(err, "update_plan_limits", "plan", l.Plan)
	}
	return &out, nil
}

// ClientIDsOnPlan lists tenants whose cached limits change with the plan.
func (s *Store) ClientIDsOnPlan(ctx context.Context, plan string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM clients WHERE plan = $1`, plan)
	return ids, mapError("client_ids_on_plan", err)
}

// GetUsage counts the resources a client currently consumes. An AI counter
// left over from an earlier month reads as zero.
func (s *Store) GetUsage(ctx context.Context, clientID string) (*models.Usage, error) {
	var u models.Usage
	err := s.db.GetContext(ctx, &u, `
		SELECT c.id AS client_id,
			(SELECT count(*) FROM users WHERE client_id = c.id) AS users,
			(SELECT count(*) FROM contacts WHERE client_id = c.id) AS contacts,
			(SELECT count(*) FROM agents WHERE client_id = c.id) AS agents,
			(SELECT count(*) FROM evolution_instances WHERE client_id = c.id) AS instances,
			COALESCE((SELECT ai_messages_month FROM client_usage
				WHERE client_id = c.id AND period_start >= date_trunc('month', now())::date), 0) AS ai_messages_month
		FROM clients c
		WHERE c.id = $1`, clientID)
	if err != nil {
		return nil, getOne(err, "get_usage", "client", clientID)
	}
	return &u, nil
}

// ResetMonthlyUsage zeroes counters whose period started before this month.
func (s *Store) ResetMonthlyUsage(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE client_usage
		SET ai_messages_month = 0, period_start = date_trunc('month', now())::date
		WHERE period_start < date_trunc('month', now())::date`)
	if err != nil {
		return 0, mapError("reset_monthly_usage", err)
	}
	return res.RowsAffected()
}

// IncrementAIUsage counts one AI reply against the client's month, starting
// a new period when the stored one is stale.
func (t *Tx) IncrementAIUsage(ctx context.Context, clientID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO client_usage (client_id, ai_messages_month) VALUES ($1, 1)
		ON CONFLICT (client_id) DO UPDATE SET
			ai_messages_month = CASE
				WHEN client_usage.period_start < date_trunc('month', now())::date THEN 1
				ELSE client_usage.ai_messages_month + 1
			END,
			period_start = date_trunc('month', now())::date`, clientID)
	return mapError("increment_ai_usage", err)
}

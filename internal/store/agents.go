// internal/store/agents.go
package store

import (
	"context"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
)

type AgentPatch struct {
	Name         *string
	Model        *string
	SystemPrompt *string
	Temperature  *float32
	MaxTokens    *int
	HistoryLimit *int
	Active       *bool
}

type TemplatePatch struct {
	Name         *string
	Description  *string
	Model        *string
	SystemPrompt *string
	Temperature  *float32
	MaxTokens    *int
}

func (s *Store) ListAgents(ctx context.Context, clientID string) ([]models.Agent, error) {
	var out []models.Agent
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM agents WHERE client_id = $1 ORDER BY created_at`, clientID)
	return out, mapError("list_agents", err)
}

func (s *Store) GetAgent(ctx context.Context, clientID, id string) (*models.Agent, error) {
	var a models.Agent
	err := s.db.GetContext(ctx, &a, `SELECT * FROM agents WHERE id = $1 AND client_id = $2`, id, clientID)
	if err != nil {
		return nil, getOne(err, "get_agent", "agent", id)
	}
	return &a, nil
}

func (s *Store) CreateAgent(ctx context.Context, a models.Agent) (*models.Agent, error) {
	var out models.Agent
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO agents (client_id, template_id, name, model, system_prompt, temperature, max_tokens, history_limit, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *`,
		a.ClientID, a.TemplateID, a.Name, a.Model, a.SystemPrompt, a.Temperature, a.MaxTokens, a.HistoryLimit, a.Active)
	if err != nil {
		return nil, mapError("create_agent", err)
	}
	return &out, nil
}

func (s *Store) UpdateAgent(ctx context.Context, clientID, id string, p AgentPatch) (*models.Agent, error) {
	var out models.Agent
	err := s.db.GetContext(ctx, &out, `
		UPDATE agents SET
			name = COALESCE($3, name),
			model = COALESCE($4, model),
			system_prompt = COALESCE($5, system_prompt),
			temperature = COALESCE($6, temperature),
			max_tokens = COALESCE($7, max_tokens),
			history_limit = COALESCE($8, history_limit),
			active = COALESCE($9, active),
			updated_at = now()
		WHERE id = $1 AND client_id = $2
		RETURNING *`,
		id, clientID, p.Name, p.Model, p.SystemPrompt, p.Temperature, p.MaxTokens, p.HistoryLimit, p.Active)
	if err != nil {
		return nil, getOne(err, "update_agent", "agent", id)
	}
	return &out, nil
}

func (s *Store) DeleteAgent(ctx context.Context, clientID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1 AND client_id = $2`, id, clientID)
	return expectAffected(res, err, "delete_agent", "agent", id)
}

func (s *Store) ListTemplates(ctx context.Context) ([]models.AgentTemplate, error) {
	var out []models.AgentTemplate
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM agent_templates ORDER BY name`)
	return out, mapError("list_templates", err)
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*models.AgentTemplate, error) {
	var t models.AgentTemplate
	err := s.db.GetContext(ctx, &t, `SELECT * FROM agent_templates WHERE id = $1`, id)
	if err != nil {
		return nil, getOne(err, "get_template", "template", id)
	}
	return &t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t models.AgentTemplate) (*models.AgentTemplate, error) {
	var out models.AgentTemplate
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO agent_templates (name, description, model, system_prompt, temperature, max_tokens)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`, t.Name, t.Description, t.Model, t.SystemPrompt, t.Temperature, t.MaxTokens)
	if err != nil {
		return nil, mapError("create_template", err)
	}
	return &out, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, id string, p TemplatePatch) (*models.AgentTemplate, error) {
	var out models.AgentTemplate
	err := s.db.GetContext(ctx, &out, `
		UPDATE agent_templates SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			model = COALESCE($4, model),
			system_prompt = COALESCE($5, system_prompt),
			temperature = COALESCE($6, temperature),
			max_tokens = COALESCE($7, max_tokens),
			updated_at = now()
		WHERE id = $1
		RETURNING *`, id, p.Name, p.Description, p.Model, p.SystemPrompt, p.Temperature, p.MaxTokens)
	if err != nil {
		return nil, getOne(err, "update_template", "template", id)
	}
	return &out, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_templates WHERE id = $1`, id)
	return expectAffected(res, err, "delete_template", "template", id)
}

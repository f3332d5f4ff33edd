// internal/models/agent.go
package models

import "time"

// Agent is a tenant's configured AI persona.
type Agent struct {
	ID           string    `db:"id" json:"id"`
	ClientID     string    `db:"client_id" json:"clientId"`
	TemplateID   *string   `db:"template_id" json:"templateId,omitempty"`
	Name         string    `db:"name" json:"name"`
	Model        string    `db:"model" json:"model"`
	SystemPrompt string    `db:"system_prompt" json:"systemPrompt"`
	Temperature  float32   `db:"temperature" json:"temperature"`
	MaxTokens    int       `db:"max_tokens" json:"maxTokens"`
	HistoryLimit int       `db:"history_limit" json:"historyLimit"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// AgentTemplate is a superadmin-managed starting point for agents.
type AgentTemplate struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Description  string    `db:"description" json:"description"`
	Model        string    `db:"model" json:"model"`
	SystemPrompt string    `db:"system_prompt" json:"systemPrompt"`
	Temperature  float32   `db:"temperature" json:"temperature"`
	MaxTokens    int       `db:"max_tokens" json:"maxTokens"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

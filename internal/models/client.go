// internal/models/client.go
package models

import "time"

// Client plan names
const (
	PlanFree       = "FREE"
	PlanBasic      = "BASIC"
	PlanPro        = "PRO"
	PlanEnterprise = "ENTERPRISE"
)

// Client statuses
const (
	ClientStatusActive    = "ACTIVE"
	ClientStatusSuspended = "SUSPENDED"
)

// Client is a tenant.
type Client struct {
	ID                string    `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Slug              string    `db:"slug" json:"slug"`
	Plan              string    `db:"plan" json:"plan"`
	Status            string    `db:"status" json:"status"`
	AIAPIKeyEncrypted *string   `db:"ai_api_key_encrypted" json:"-"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// HasAIKey reports whether the client stored an LLM API key.
func (c Client) HasAIKey() bool {
	return c.AIAPIKeyEncrypted != nil && *c.AIAPIKeyEncrypted != ""
}

// IsPlan reports whether p names a known plan.
func IsPlan(p string) bool {
	switch p {
	case PlanFree, PlanBasic, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// PlanLimits caps tenant resources. Zero means unlimited.
type PlanLimits struct {
	Plan                 string    `db:"plan" json:"plan"`
	MaxUsers             int       `db:"max_users" json:"maxUsers"`
	MaxContacts          int       `db:"max_contacts" json:"maxContacts"`
	MaxAgents            int       `db:"max_agents" json:"maxAgents"`
	MaxInstances         int       `db:"max_instances" json:"maxInstances"`
	MaxMonthlyAIMessages int       `db:"max_monthly_ai_messages" json:"maxMonthlyAiMessages"`
	UpdatedAt            time.Time `db:"updated_at" json:"updatedAt"`
}

// Usage is the current consumption of a tenant.
type Usage struct {
	ClientID        string `db:"client_id" json:"clientId"`
	Users           int    `db:"users" json:"users"`
	Contacts        int    `db:"contacts" json:"contacts"`
	Agents          int    `db:"agents" json:"agents"`
	Instances       int    `db:"instances" json:"instances"`
	AIMessagesMonth int    `db:"ai_messages_month" json:"aiMessagesMonth"`
}

// internal/models/opportunity.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity statuses
const (
	OpportunityOpen = "OPEN"
	OpportunityWon  = "WON"
	OpportunityLost = "LOST"
)

type Pipeline struct {
	ID        string          `db:"id" json:"id"`
	ClientID  string          `db:"client_id" json:"clientId"`
	Name      string          `db:"name" json:"name"`
	IsDefault bool            `db:"is_default" json:"isDefault"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
	Stages    []PipelineStage `db:"-" json:"stages"`
}

type PipelineStage struct {
	ID         string    `db:"id" json:"id"`
	ClientID   string    `db:"client_id" json:"clientId"`
	PipelineID string    `db:"pipeline_id" json:"pipelineId"`
	Name       string    `db:"name" json:"name"`
	Position   int       `db:"position" json:"position"`
	Color      string    `db:"color" json:"color"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// DefaultStages seeds new pipelines.
var DefaultStages = []string{"Lead", "Contacted", "Proposal", "Negotiation", "Closed"}

type Opportunity struct {
	ID              string          `db:"id" json:"id"`
	ClientID        string          `db:"client_id" json:"clientId"`
	ContactID       string          `db:"contact_id" json:"contactId"`
	PipelineID      string          `db:"pipeline_id" json:"pipelineId"`
	StageID         string          `db:"stage_id" json:"stageId"`
	AssignedUserID  *string         `db:"assigned_user_id" json:"assignedUserId,omitempty"`
	Title           string          `db:"title" json:"title"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Currency        string          `db:"currency" json:"currency"`
	Status          string          `db:"status" json:"status"`
	ExpectedCloseAt *time.Time      `db:"expected_close_at" json:"expectedCloseAt,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// IsOpportunityStatus reports whether s is a known opportunity status.
func IsOpportunityStatus(s string) bool {
	switch s {
	case OpportunityOpen, OpportunityWon, OpportunityLost:
		return true
	}
	return false
}

// internal/models/instance.go
package models

import "time"

// Gateway connection states
const (
	InstanceCreated    = "CREATED"
	InstanceConnecting = "CONNECTING"
	InstanceOpen       = "OPEN"
	InstanceClosed     = "CLOSE"
)

// Instance is one WhatsApp number connected through the gateway.
type Instance struct {
	ID            string    `db:"id" json:"id"`
	ClientID      string    `db:"client_id" json:"clientId"`
	Name          string    `db:"name" json:"name"`
	Phone         *string   `db:"phone" json:"phone,omitempty"`
	Status        string    `db:"status" json:"status"`
	Active        bool      `db:"active" json:"active"`
	WebhookAPIKey string    `db:"webhook_api_key" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// internal/models/contact.go
package models

import (
	"time"

	"github.com/lib/pq"
)

// Contact statuses
const (
	ContactStatusNew       = "NEW"
	ContactStatusActive    = "ACTIVE"
	ContactStatusQualified = "QUALIFIED"
	ContactStatusCustomer  = "CUSTOMER"
	ContactStatusLost      = "LOST"
)

// Contact sources
const (
	ContactSourceWhatsApp = "WHATSAPP"
	ContactSourceWeb      = "WEB"
	ContactSourceManual   = "MANUAL"
)

type Contact struct {
	ID        string         `db:"id" json:"id"`
	ClientID  string         `db:"client_id" json:"clientId"`
	Name      string         `db:"name" json:"name"`
	Phone     string         `db:"phone" json:"phone"`
	Email     *string        `db:"email" json:"email,omitempty"`
	Status    string         `db:"status" json:"status"`
	Source    string         `db:"source" json:"source"`
	Tags      pq.StringArray `db:"tags" json:"tags"`
	Notes     string         `db:"notes" json:"notes"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time      `db:"updated_at" json:"updatedAt"`
}

// IsContactStatus reports whether s is a known contact status.
func IsContactStatus(s string) bool {
	switch s {
	case ContactStatusNew, ContactStatusActive, ContactStatusQualified, ContactStatusCustomer, ContactStatusLost:
		return true
	}
	return false
}

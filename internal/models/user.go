// internal/models/user.go
package models

import "time"

type User struct {
	ID           string    `db:"id" json:"id"`
	ClientID     *string   `db:"client_id" json:"clientId,omitempty"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	NotifyEmail  bool      `db:"notify_email" json:"notifyEmail"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

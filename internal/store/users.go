// internal/store/users.go
package store

import (
	"context"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
)

type UserPatch struct {
	Name        *string
	Phone       *string
	Role        *string
	Active      *bool
	NotifyEmail *bool
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, getOne(err, "get_user", "user", id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return nil, getOne(err, "get_user_by_email", "user", email)
	}
	return &u, nil
}

// ListUsers lists every user, or a single tenant's when clientID is set.
func (s *Store) ListUsers(ctx context.Context, clientID string) ([]models.User, error) {
	var out []models.User
	var err error
	if clientID == "" {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM users ORDER BY created_at DESC`)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT * FROM users WHERE client_id = $1 ORDER BY created_at DESC`, clientID)
	}
	return out, mapError("list_users", err)
}

// ListClientAdmins returns the active admins of a tenant.
func (s *Store) ListClientAdmins(ctx context.Context, clientID string) ([]models.User, error) {
	var out []models.User
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM users WHERE client_id = $1 AND role = 'ADMIN' AND active`, clientID)
	return out, mapError("list_client_admins", err)
}

func (s *Store) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	var out models.User
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO users (client_id, email, name, phone, password_hash, role, active, notify_email)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8)
		RETURNING *`,
		u.ClientID, u.Email, u.Name, u.Phone, u.PasswordHash, u.Role, u.Active, u.NotifyEmail)
	if err != nil {
		return nil, mapError("create_user", err)
	}
	return &out, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, p UserPatch) (*models.User, error) {
	var out models.User
	err := s.db.GetContext(ctx, &out, `
		UPDATE users SET
			name = COALESCE($2, name),
			phone = COALESCE($3, phone),
			role = COALESCE($4, role),
			active = COALESCE($5, active),
			notify_email = COALESCE($6, notify_email),
			updated_at = now()
		WHERE id = $1
		RETURNING *`, id, p.Name, p.Phone, p.Role, p.Active, p.NotifyEmail)
	if err != nil {
		return nil, getOne(err, "update_user", "user", id)
	}
	return &out, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return expectAffected(res, err, "delete_user", "user", id)
}

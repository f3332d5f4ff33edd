// internal/store/instances.go
package store

import (
	"context"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
)

// InstanceAccess joins an instance with its tenant's status for webhook checks.
type InstanceAccess struct {
	models.Instance
	ClientStatus string `db:"client_status"`
}

func (s *Store) ListInstances(ctx context.Context, clientID string) ([]models.Instance, error) {
	var out []models.Instance
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM evolution_instances WHERE client_id = $1 ORDER BY created_at`, clientID)
	return out, mapError("list_instances", err)
}

func (s *Store) GetInstance(ctx context.Context, clientID, id string) (*models.Instance, error) {
	var in models.Instance
	err := s.db.GetContext(ctx, &in,
		`SELECT * FROM evolution_instances WHERE id = $1 AND client_id = $2`, id, clientID)
	if err != nil {
		return nil, getOne(err, "get_instance", "instance", id)
	}
	return &in, nil
}

// GetInstanceAccess looks an instance up by its gateway name across tenants.
func (s *Store) GetInstanceAccess(ctx context.Context, name string) (*InstanceAccess, error) {
	var in InstanceAccess
	err := s.db.GetContext(ctx, &in, `
		SELECT i.*, c.status AS client_status
		FROM evolution_instances i
		JOIN clients c ON c.id = i.client_id
		WHERE i.name = $1`, name)
	if err != nil {
		return nil, getOne(err, "get_instance_access", "instance", name)
	}
	return &in, nil
}

func (s *Store) CreateInstance(ctx context.Context, in models.Instance) (*models.Instance, error) {
	var out models.Instance
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO evolution_instances (client_id, name, phone, status, active, webhook_api_key)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING *`, in.ClientID, in.Name, in.Phone, models.InstanceCreated, in.WebhookAPIKey)
	if err != nil {
		return nil, mapError("create_instance", err)
	}
	return &out, nil
}

// UpdateInstanceStatus records a gateway connection state by instance name.
func (s *Store) UpdateInstanceStatus(ctx context.Context, name, status string) (*models.Instance, error) {
	var out models.Instance
	err := s.db.GetContext(ctx, &out, `
		UPDATE evolution_instances SET status = $2, updated_at = now()
		WHERE name = $1
		RETURNING *`, name, status)
	if err != nil {
		return nil, getOne(err, "update_instance_status", "instance", name)
	}
	return &out, nil
}

func (s *Store) DeleteInstance(ctx context.Context, clientID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM evolution_instances WHERE id = $1 AND client_id = $2`, id, clientID)
	return expectAffected(res, err, "delete_instance", "instance", id)
}

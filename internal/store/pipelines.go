// internal/store/pipelines.go
package store

import (
	"context"
	"fmt"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"

	"github.com/jmoiron/sqlx"
)

var stageColors = []string{"#64748b", "#3b82f6", "#f59e0b", "#8b5cf6", "#22c55e"}

type PipelinePatch struct {
	Name      *string
	IsDefault *bool
}

// ListPipelines returns the tenant's pipelines with their ordered stages.
func (s *Store) ListPipelines(ctx context.Context, clientID string) ([]models.Pipeline, error) {
	var pipelines []models.Pipeline
	if err := s.db.SelectContext(ctx, &pipelines,
		`SELECT * FROM pipelines WHERE client_id = $1 ORDER BY is_default DESC, created_at`, clientID); err != nil {
		return nil, mapError("list_pipelines", err)
	}
	var stages []models.PipelineStage
	if err := s.db.SelectContext(ctx, &stages,
		`SELECT * FROM pipeline_stages WHERE client_id = $1 ORDER BY pipeline_id, position`, clientID); err != nil {
		return nil, mapError("list_stages", err)
	}
	byPipeline := make(map[string][]models.PipelineStage)
	for _, st := range stages {
		byPipeline[st.PipelineID] = append(byPipeline[st.PipelineID], st)
	}
	for i := range pipelines {
		pipelines[i].Stages = byPipeline[pipelines[i].ID]
		if pipelines[i].Stages == nil {
			pipelines[i].Stages = []models.PipelineStage{}
		}
	}
	return pipelines, nil
}

func (s *Store) GetPipeline(ctx context.Context, clientID, id string) (*models.Pipeline, error) {
	var p models.Pipeline
	if err := s.db.GetContext(ctx, &p,
		`SELECT * FROM pipelines WHERE id = $1 AND client_id = $2`, id, clientID); err != nil {
		return nil, getOne(err, "get_pipeline", "pipeline", id)
	}
	p.Stages = []models.PipelineStage{}
	if err := s.db.SelectContext(ctx, &p.Stages,
		`SELECT * FROM pipeline_stages WHERE pipeline_id = $1 ORDER BY position`, id); err != nil {
		return nil, mapError("list_stages", err)
	}
	return &p, nil
}

// CreatePipeline creates a pipeline seeded with stages, or the default ones when none are given.
func (s *Store) CreatePipeline(ctx context.Context, clientID, name string, isDefault bool, stages []string) (*models.Pipeline, error) {
	if len(stages) == 0 {
		stages = models.DefaultStages
	}
	var out *models.Pipeline
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.createPipeline(ctx, clientID, name, isDefault, stages)
		return err
	})
	return out, err
}

func (t *Tx) createPipeline(ctx context.Context, clientID, name string, isDefault bool, stages []string) (*models.Pipeline, error) {
	if isDefault {
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE pipelines SET is_default = FALSE WHERE client_id = $1 AND is_default`, clientID); err != nil {
			return nil, mapError("clear_default_pipeline", err)
		}
	}
	var p models.Pipeline
	if err := t.tx.GetContext(ctx, &p,
		`INSERT INTO pipelines (client_id, name, is_default) VALUES ($1, $2, $3) RETURNING *`,
		clientID, name, isDefault); err != nil {
		return nil, mapError("create_pipeline", err)
	}
	p.Stages = make([]models.PipelineStage, 0, len(stages))
	for i, stageName := range stages {
		st, err := insertStage(ctx, t.tx, clientID, p.ID, stageName, stageColors[i%len(stageColors)], i)
		if err != nil {
			return nil, err
		}
		p.Stages = append(p.Stages, *st)
	}
	return &p, nil
}

func insertStage(ctx context.Context, q sqlx.QueryerContext, clientID, pipelineID, name, color string, position int) (*models.PipelineStage, error) {
	var st models.PipelineStage
	err := sqlx.GetContext(ctx, q, &st, `
		INSERT INTO pipeline_stages (client_id, pipeline_id, name, position, color)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`, clientID, pipelineID, name, position, color)
	if err != nil {
		return nil, mapError("create_stage", err)
	}
	return &st, nil
}

func (s *Store) UpdatePipeline(ctx context.Context, clientID, id string, p PipelinePatch) (*models.Pipeline, error) {
	err := s.WithTx(ctx, func(tx *Tx) error {
		if p.IsDefault != nil && *p.IsDefault {
			if _, err := tx.tx.ExecContext(ctx,
				`UPDATE pipelines SET is_default = FALSE WHERE client_id = $1 AND id <> $2`, clientID, id); err != nil {
				return mapError("clear_default_pipeline", err)
			}
		}
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE pipelines SET
				name = COALESCE($3, name),
				is_default = COALESCE($4, is_default),
				updated_at = now()
			WHERE id = $1 AND client_id = $2`, id, clientID, p.Name, p.IsDefault)
		return expectAffected(res, err, "update_pipeline", "pipeline", id)
	})
	if err != nil {
		return nil, err
	}
	return s.GetPipeline(ctx, clientID, id)
}

func (s *Store) DeletePipeline(ctx context.Context, clientID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = $1 AND client_id = $2`, id, clientID)
	return expectAffected(res, err, "delete_pipeline", "pipeline", id)
}

// AddStage appends a stage at the end of the pipeline.
func (s *Store) AddStage(ctx context.Context, clientID, pipelineID, name, color string) (*models.PipelineStage, error) {
	var position int
	err := s.db.GetContext(ctx, &position, `
		SELECT COALESCE(MAX(s.position) + 1, 0)
		FROM pipelines p LEFT JOIN pipeline_stages s ON s.pipeline_id = p.id
		WHERE p.id = $1 AND p.client_id = $2
		GROUP BY p.id`, pipelineID, clientID)
	if err != nil {
		return nil, getOne(err, "add_stage", "pipeline", pipelineID)
	}
	if color == "" {
		color = stageColors[position%len(stageColors)]
	}
	return insertStage(ctx, s.db, clientID, pipelineID, name, color, position)
}

// ReorderStages assigns positions following stageIDs, which must list every stage of the pipeline.
func (s *Store) ReorderStages(ctx context.Context, clientID, pipelineID string, stageIDs []string) (*models.Pipeline, error) {
	err := s.WithTx(ctx, func(tx *Tx) error {
		var count int
		if err := tx.tx.GetContext(ctx, &count,
			`SELECT count(*) FROM pipeline_stages WHERE pipeline_id = $1 AND client_id = $2`,
			pipelineID, clientID); err != nil {
			return mapError("count_stages", err)
		}
		if count != len(stageIDs) {
			return apperrors.NewBadRequestError(fmt.Sprintf("expected %d stage ids, got %d", count, len(stageIDs)))
		}
		for i, id := range stageIDs {
			res, err := tx.tx.ExecContext(ctx,
				`UPDATE pipeline_stages SET position = $4 WHERE id = $1 AND pipeline_id = $2 AND client_id = $3`,
				id, pipelineID, clientID, i)
			if err := expectAffected(res, err, "reorder_stage", "stage", id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetPipeline(ctx, clientID, pipelineID)
}

// DeleteStage refuses to delete a stage that opportunities still reference.
func (s *Store) DeleteStage(ctx context.Context, clientID, stageID string) error {
	var inUse int
	if err := s.db.GetContext(ctx, &inUse,
		`SELECT count(*) FROM opportunities WHERE stage_id = $1 AND client_id = $2`, stageID, clientID); err != nil {
		return mapError("count_stage_opportunities", err)
	}
	if inUse > 0 {
		return apperrors.NewConflictError(fmt.Sprintf("stage %s has %d opportunities", stageID, inUse))
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_stages WHERE id = $1 AND client_id = $2`, stageID, clientID)
	return expectAffected(res, err, "delete_stage", "stage", stageID)
}

package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/shipnotes/internal/pipeline"
	"github.com/shipnotes/pkg/models"
)

// RecordManager persists generation records and render states. It
// implements the stores consumed by the pipeline controller and the
// render orchestrator.
type RecordManager struct {
	db *sql.DB
}

func NewRecordManager(db *sql.DB) *RecordManager {
	return &RecordManager{db: db}
}

const recordColumns = `id, repository, window_start, window_end, stage, stage_message, error_message,
		content, change_stats, contributors, commit_summaries, video_narrative, artifact_url,
		created_at, updated_at, completed_at`

func (rm *RecordManager) CreateRecord(ctx context.Context, record *models.GenerationRecord) error {
	statsJSON, summariesJSON, narrativeJSON, err := marshalRecordBlobs(record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO generation_records (repository, window_start, window_end, stage, stage_message, error_message,
			content, change_stats, contributors, commit_summaries, video_narrative, artifact_url,
			created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	err = rm.db.QueryRowContext(ctx, query,
		record.Repository, record.WindowStart, record.WindowEnd,
		string(record.Stage), record.StageMessage, record.ErrorMessage,
		record.Content, statsJSON, pq.Array(record.Contributors),
		summariesJSON, narrativeJSON, record.ArtifactURL,
		record.CreatedAt, record.UpdatedAt, record.CompletedAt).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to create generation record: %w", err)
	}
	return nil
}

func (rm *RecordManager) GetRecord(ctx context.Context, id int64) (*models.GenerationRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM generation_records WHERE id = $1`, recordColumns)

	record, err := scanRecord(rm.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, pipeline.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation record: %w", err)
	}
	return record, nil
}

func (rm *RecordManager) UpdateRecord(ctx context.Context, record *models.GenerationRecord) error {
	statsJSON, summariesJSON, narrativeJSON, err := marshalRecordBlobs(record)
	if err != nil {
		return err
	}

	query := `
		UPDATE generation_records
		SET stage = $2, stage_message = $3, error_message = $4, content = $5,
			change_stats = $6, contributors = $7, commit_summaries = $8, video_narrative = $9,
			updated_at = $10, completed_at = $11
		WHERE id = $1
	`

	result, err := rm.db.ExecContext(ctx, query,
		record.ID, string(record.Stage), record.StageMessage, record.ErrorMessage,
		record.Content, statsJSON, pq.Array(record.Contributors),
		summariesJSON, narrativeJSON,
		record.UpdatedAt, record.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update generation record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pipeline.ErrRecordNotFound
	}
	return nil
}

// ListRecords returns records newest-first.
func (rm *RecordManager) ListRecords(ctx context.Context, limit int) ([]*models.GenerationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM generation_records ORDER BY created_at DESC LIMIT $1`, recordColumns)

	rows, err := rm.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generation records: %w", err)
	}
	defer rows.Close()

	var result []*models.GenerationRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation record: %w", err)
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// SaveRenderState upserts a render attempt keyed by render id.
func (rm *RecordManager) SaveRenderState(ctx context.Context, state *models.RenderState) error {
	query := `
		INSERT INTO render_states (render_id, record_id, location_ref, status, progress, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (render_id) DO UPDATE
		SET status = EXCLUDED.status, progress = EXCLUDED.progress,
			error_message = EXCLUDED.error_message, updated_at = EXCLUDED.updated_at
	`

	_, err := rm.db.ExecContext(ctx, query,
		state.RenderID, state.RecordID, state.LocationRef,
		string(state.Status), state.Progress, state.ErrorMessage,
		state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save render state: %w", err)
	}
	return nil
}

// ActiveRender returns the record's non-terminal render, if any.
func (rm *RecordManager) ActiveRender(ctx context.Context, recordID int64) (*models.RenderState, error) {
	query := `
		SELECT render_id, record_id, location_ref, status, progress, error_message, created_at, updated_at
		FROM render_states
		WHERE record_id = $1 AND status IN ('pending', 'rendering')
		ORDER BY created_at DESC
		LIMIT 1
	`

	var state models.RenderState
	var status string
	err := rm.db.QueryRowContext(ctx, query, recordID).Scan(
		&state.RenderID, &state.RecordID, &state.LocationRef,
		&status, &state.Progress, &state.ErrorMessage,
		&state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active render: %w", err)
	}

	state.Status = models.RenderStatus(status)
	return &state, nil
}

func (rm *RecordManager) ArtifactURL(ctx context.Context, recordID int64) (string, error) {
	var url sql.NullString
	err := rm.db.QueryRowContext(ctx, `SELECT artifact_url FROM generation_records WHERE id = $1`, recordID).Scan(&url)
	if err == sql.ErrNoRows {
		return "", pipeline.ErrRecordNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get artifact url: %w", err)
	}
	return url.String, nil
}

func (rm *RecordManager) SetArtifactURL(ctx context.Context, recordID int64, artifactURL string) error {
	result, err := rm.db.ExecContext(ctx,
		`UPDATE generation_records SET artifact_url = $2, updated_at = NOW() WHERE id = $1`,
		recordID, artifactURL)
	if err != nil {
		return fmt.Errorf("failed to set artifact url: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pipeline.ErrRecordNotFound
	}
	return nil
}

func marshalRecordBlobs(record *models.GenerationRecord) (statsJSON, summariesJSON, narrativeJSON []byte, err error) {
	statsJSON, err = json.Marshal(record.Stats)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal change stats: %w", err)
	}

	if record.Summaries != nil {
		summariesJSON, err = json.Marshal(record.Summaries)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal commit summaries: %w", err)
		}
	}

	if record.Narrative != nil {
		narrativeJSON, err = json.Marshal(record.Narrative)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal video narrative: %w", err)
		}
	}

	return statsJSON, summariesJSON, narrativeJSON, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.GenerationRecord, error) {
	var record models.GenerationRecord
	var stage string
	var statsJSON []byte
	var summariesJSON, narrativeJSON []byte

	err := row.Scan(&record.ID, &record.Repository, &record.WindowStart, &record.WindowEnd,
		&stage, &record.StageMessage, &record.ErrorMessage,
		&record.Content, &statsJSON, pq.Array(&record.Contributors),
		&summariesJSON, &narrativeJSON, &record.ArtifactURL,
		&record.CreatedAt, &record.UpdatedAt, &record.CompletedAt)
	if err != nil {
		return nil, err
	}

	record.Stage = models.Stage(stage)
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &record.Stats); err != nil {
			return nil, fmt.Errorf("malformed change stats for record %d: %w", record.ID, err)
		}
	}
	if len(summariesJSON) > 0 {
		if err := json.Unmarshal(summariesJSON, &record.Summaries); err != nil {
			return nil, fmt.Errorf("malformed commit summaries for record %d: %w", record.ID, err)
		}
	}
	if len(narrativeJSON) > 0 {
		record.Narrative = &models.VideoNarrative{}
		if err := json.Unmarshal(narrativeJSON, record.Narrative); err != nil {
			return nil, fmt.Errorf("malformed video narrative for record %d: %w", record.ID, err)
		}
	}
	return &record, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

// MemoryRepository backs both the entity and summary stores; the two tables
// are written by the same background worker and read together per turn.
type MemoryRepository struct {
	db *sql.DB
}

func NewMemoryRepository(db *sql.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

func (r *MemoryRepository) InsertEntity(ctx context.Context, entity domain.Entity) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO chat_entities (id, chat_id, user_id, client_id, entity_type, entity_value, source_message_id, extracted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
		entity.ID, entity.ChatID, entity.UserID, entity.ClientID,
		string(entity.Type), entity.Value, entity.SourceMessageID, entity.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// SelectEntities deduplicates by (type, value) at read time, keeping the most
// recent extraction of each.
func (r *MemoryRepository) SelectEntities(ctx context.Context, chatID, userID string) ([]domain.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT ON (entity_type, entity_value)
	id, chat_id, user_id, client_id, entity_type, entity_value, source_message_id, extracted_at
FROM chat_entities
WHERE chat_id = $1 AND user_id = $2
ORDER BY entity_type, entity_value, extracted_at DESC
`, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("select entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.Entity
	for rows.Next() {
		var entity domain.Entity
		var entityType string
		if err := rows.Scan(&entity.ID, &entity.ChatID, &entity.UserID, &entity.ClientID, &entityType, &entity.Value, &entity.SourceMessageID, &entity.ExtractedAt); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		entity.Type = domain.EntityType(entityType)
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity rows: %w", err)
	}
	return entities, nil
}

func (r *MemoryRepository) InsertSummary(ctx context.Context, summary domain.Summary) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO chat_summaries (id, chat_id, user_id, summary_text, covers_from, covers_to, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`,
		summary.ID, summary.ChatID, summary.UserID, summary.Text,
		summary.CoversFrom, summary.CoversTo, summary.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// SelectLatestSummary returns nil without error when no summary exists yet;
// a young conversation has nothing to summarize.
func (r *MemoryRepository) SelectLatestSummary(ctx context.Context, chatID, userID string) (*domain.Summary, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, chat_id, user_id, summary_text, covers_from, covers_to, created_at
FROM chat_summaries
WHERE chat_id = $1 AND user_id = $2
ORDER BY created_at DESC
LIMIT 1
`, chatID, userID)

	var summary domain.Summary
	err := row.Scan(&summary.ID, &summary.ChatID, &summary.UserID, &summary.Text, &summary.CoversFrom, &summary.CoversTo, &summary.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select latest summary: %w", err)
	}
	return &summary, nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) InsertFileRef(ctx context.Context, ref domain.FileRef) error {
	metadata := ref.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal file metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO chat_files (id, chat_id, user_id, kind, metadata, linked_message_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`,
		ref.ID, ref.ChatID, ref.UserID, string(ref.Kind), metaJSON, ref.LinkedMessageID, ref.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert file ref: %w", err)
	}
	return nil
}

func (r *FileRepository) SelectFileRefs(ctx context.Context, chatID, userID string) ([]domain.FileRef, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, chat_id, user_id, kind, metadata, linked_message_id, created_at
FROM chat_files
WHERE chat_id = $1 AND user_id = $2
ORDER BY created_at ASC
`, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("select file refs: %w", err)
	}
	defer rows.Close()

	var refs []domain.FileRef
	for rows.Next() {
		var ref domain.FileRef
		var kind string
		var metaRaw []byte
		if err := rows.Scan(&ref.ID, &ref.ChatID, &ref.UserID, &kind, &metaRaw, &ref.LinkedMessageID, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		ref.Kind = domain.FileRefKind(kind)
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &ref.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal file metadata: %w", err)
			}
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file rows: %w", err)
	}
	return refs, nil
}

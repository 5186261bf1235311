package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// InsertMessageIfAbsent writes the assistant row unless one already exists
// for the same (chat, turn, role) key. A conflict is not an error; it means
// another writer won the race.
func (r *MessageRepository) InsertMessageIfAbsent(ctx context.Context, msg domain.AssistantMessage) (bool, error) {
	partsJSON, err := json.Marshal(msg.Parts)
	if err != nil {
		return false, fmt.Errorf("marshal message parts: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
INSERT INTO chat_messages (id, chat_id, user_id, client_id, turn_id, role, content, parts, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (chat_id, turn_id, role) DO NOTHING
`,
		msg.ID, msg.ChatID, msg.UserID, msg.ClientID, msg.TurnID, msg.Role,
		flattenParts(msg.Parts), partsJSON, msg.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert chat message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *MessageRepository) UpdateMessageParts(ctx context.Context, id string, parts []domain.MessagePart) error {
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("marshal message parts: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE chat_messages SET parts = $2, content = $3 WHERE id = $1
`, id, partsJSON, flattenParts(parts))
	if err != nil {
		return fmt.Errorf("update chat message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "update message parts", fmt.Errorf("message not found: %s", id))
	}
	return nil
}

func (r *MessageRepository) SelectMessageByTurn(ctx context.Context, chatID, turnID, role string) (*domain.AssistantMessage, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, chat_id, user_id, client_id, turn_id, role, parts, created_at
FROM chat_messages
WHERE chat_id = $1 AND turn_id = $2 AND role = $3
`, chatID, turnID, role)

	var msg domain.AssistantMessage
	var partsRaw []byte

	err := row.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.ClientID, &msg.TurnID, &msg.Role, &partsRaw, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "select message by turn", fmt.Errorf("no %s message for turn %s", role, turnID))
		}
		return nil, fmt.Errorf("select message by turn: %w", err)
	}

	if len(partsRaw) > 0 {
		if err := json.Unmarshal(partsRaw, &msg.Parts); err != nil {
			return nil, fmt.Errorf("unmarshal message parts: %w", err)
		}
	}
	return &msg, nil
}

func (r *MessageRepository) AppendTurn(ctx context.Context, turn domain.Turn) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO chat_messages (id, chat_id, user_id, client_id, turn_id, role, content, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (chat_id, turn_id, role) DO NOTHING
`,
		turn.ID, turn.ChatID, turn.UserID, turn.ClientID, turn.TurnID, turn.Role, turn.Content, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// SelectRecentMessages returns the newest rows first; callers reverse when
// they need chronological order.
func (r *MessageRepository) SelectRecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Turn, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, chat_id, user_id, client_id, turn_id, role, content, created_at
FROM chat_messages
WHERE chat_id = $1
ORDER BY created_at DESC
LIMIT $2
`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("select recent messages: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		if err := rows.Scan(&turn.ID, &turn.ChatID, &turn.UserID, &turn.ClientID, &turn.TurnID, &turn.Role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return turns, nil
}

func flattenParts(parts []domain.MessagePart) string {
	var texts []string
	for _, part := range parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

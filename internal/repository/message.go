package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/model"
)

// MessageRepository — архив сообщений в Postgres (ARCHIVE_BACKEND=postgres).
// Хранит последнее состояние каждого сообщения целиком в JSONB.
type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// SaveMessage вставляет сообщение или обновляет его состояние (edit, реакции, удаление).
func (r *MessageRepository) SaveMessage(ctx context.Context, m model.Message) error {
	defer logger.DeferLogDuration("msg.SaveMessage", time.Now())()
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("msgRepo.SaveMessage encode: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, room, seq, body, is_deleted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET body = EXCLUDED.body, is_deleted = EXCLUDED.is_deleted, updated_at = NOW()`,
		m.ID, m.Room, int64(m.Seq), body, m.Deleted.IsDeleted, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SaveMessage: %w", err)
	}
	return nil
}

// limitArg: LIMIT NULL в Postgres означает «без ограничения».
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// LoadMessages возвращает последние limit сообщений комнаты по возрастанию seq.
func (r *MessageRepository) LoadMessages(ctx context.Context, room string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.LoadMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT body FROM (
		     SELECT body, seq FROM chat_messages
		     WHERE room = $1
		     ORDER BY seq DESC
		     LIMIT $2
		 ) t ORDER BY seq ASC`, room, limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.LoadMessages query: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("msgRepo.LoadMessages scan: %w", err)
		}
		var m model.Message
		if err := json.Unmarshal(body, &m); err != nil {
			logger.Errorf("msgRepo.LoadMessages room=%s: skip broken row: %v", room, err)
			continue
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.LoadMessages rows: %w", err)
	}
	return messages, nil
}

// Close закрывает пул: архив владеет соединениями.
func (r *MessageRepository) Close() error {
	r.pool.Close()
	return nil
}

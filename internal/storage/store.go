package storage

import (
	"context"

	"github.com/campuschat/internal/model"
)

// Archive — долговременное хранилище сообщений чата. Relay пишет в него
// асинхронно (см. Writer) и читает только при старте, чтобы восстановить историю.
// Реализации: redis.Client, memory.Client (по умолчанию), repository.MessageRepository (Postgres).
type Archive interface {
	// SaveMessage сохраняет текущее состояние сообщения (upsert по id).
	SaveMessage(ctx context.Context, msg model.Message) error
	// LoadMessages возвращает последние limit сообщений комнаты в порядке seq.
	LoadMessages(ctx context.Context, room string, limit int) ([]model.Message, error)
	Close() error
}

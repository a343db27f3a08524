package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/campuschat/internal/model"
)

// Client — архив в памяти процесса (ARCHIVE_BACKEND=memory, для тестов и отладки).
// Персистентности не даёт: после перезапуска архив пуст и восстанавливать нечего.
type Client struct {
	mu    sync.RWMutex
	rooms map[string]map[string]model.Message
}

func New() *Client {
	return &Client{rooms: make(map[string]map[string]model.Message)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SaveMessage(ctx context.Context, msg model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.rooms[msg.Room]
	if room == nil {
		room = make(map[string]model.Message)
		c.rooms[msg.Room] = room
	}
	room[msg.ID] = msg.Clone()
	return nil
}

func (c *Client) LoadMessages(ctx context.Context, room string, limit int) ([]model.Message, error) {
	c.mu.RLock()
	out := make([]model.Message, 0, len(c.rooms[room]))
	for _, m := range c.rooms[room] {
		out = append(out, m.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/campuschat/internal/model"
)

// Ключи архива комнаты:
//
//	chat:msg:{room} — hash id → JSON сообщения (последнее состояние);
//	chat:seq:{room} — zset id со score = seq (порядок приёма).
const keyPrefix = "chat:"

func msgKey(room string) string { return keyPrefix + "msg:" + room }
func seqKey(room string) string { return keyPrefix + "seq:" + room }

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func encode(msg model.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(raw string) (model.Message, error) {
	var m model.Message
	err := json.Unmarshal([]byte(raw), &m)
	return m, err
}

// SaveMessage пишет состояние сообщения и его позицию одной транзакцией.
func (c *Client) SaveMessage(ctx context.Context, msg model.Message) error {
	data, err := encode(msg)
	if err != nil {
		return fmt.Errorf("redis.SaveMessage encode %s: %w", msg.ID, err)
	}
	_, err = c.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, msgKey(msg.Room), msg.ID, data)
		p.ZAdd(ctx, seqKey(msg.Room), redis.Z{Score: float64(msg.Seq), Member: msg.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis.SaveMessage %s: %w", msg.ID, err)
	}
	return nil
}

// LoadMessages возвращает хвост комнаты (limit <= 0 — всю историю) в порядке seq.
func (c *Client) LoadMessages(ctx context.Context, room string, limit int) ([]model.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	ids, err := c.cli.ZRange(ctx, seqKey(room), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.LoadMessages %s: %w", room, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := c.cli.HMGet(ctx, msgKey(room), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.LoadMessages %s: %w", room, err)
	}
	return decodeAll(vals), nil
}

// decodeAll пропускает отсутствующие и битые записи.
func decodeAll(vals []any) []model.Message {
	out := make([]model.Message, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		m, err := decode(raw)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

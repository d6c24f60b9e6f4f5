package key_value

import (
	"context"
	"errors"
	"fmt"

	"github.com/iamvkosarev/persona-chat/internal/model"
	"github.com/redis/go-redis/v9"
)

type ChatStorage struct {
	rdb *redis.Client
}

func NewChatStorage(rdb *redis.Client) *ChatStorage {
	return &ChatStorage{
		rdb: rdb,
	}
}

func (c *ChatStorage) GetChats(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrChatsNotFound
		}
		return nil, fmt.Errorf("failed to get chats %s: %w", key, err)
	}
	return raw, nil
}

func (c *ChatStorage) SetChats(ctx context.Context, key string, value []byte) error {
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to save chats %s: %w", key, err)
	}
	return nil
}

package in_memory

import (
	"context"
	"sync"

	"github.com/iamvkosarev/persona-chat/internal/model"
)

type ChatStorage struct {
	mu    sync.RWMutex
	chats map[string][]byte
}

func NewChatStorage() *ChatStorage {
	return &ChatStorage{
		chats: make(map[string][]byte),
	}
}

func (c *ChatStorage) GetChats(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw, ok := c.chats[key]
	if !ok {
		return nil, model.ErrChatsNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (c *ChatStorage) SetChats(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats[key] = append([]byte(nil), value...)
	return nil
}

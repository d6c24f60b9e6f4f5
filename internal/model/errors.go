package model

import "errors"

var (
	ErrUnknownModel  = errors.New("unknown model")
	ErrChatsNotFound = errors.New("chats not found")
)

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ErrorType string

const (
	ErrorTypePermissionDenied = ErrorType("PERMISSION_DENIED")
	ErrorTypeQuotaExceeded    = ErrorType("QUOTA_EXCEEDED")
	ErrorTypeUnknown          = ErrorType("UNKNOWN")
)

const welcomeIDPrefix = "welcome"

// Message is a single chat entry. Timestamp is in Unix milliseconds so that
// persisted histories stay readable by older clients.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text,omitempty"`
	Image     string    `json:"image,omitempty"`
	Timestamp int64     `json:"timestamp"`
	IsLoading bool      `json:"isLoading,omitempty"`
	Error     bool      `json:"error,omitempty"`
	ErrorType ErrorType `json:"errorType,omitempty"`
}

func NewUserMessage(text, image string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Text:      text,
		Image:     image,
		Timestamp: now.UnixMilli(),
	}
}

func NewPlaceholder(now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleModel,
		IsLoading: true,
		Timestamp: now.UnixMilli(),
	}
}

func (m Message) IsWelcome() bool {
	return strings.HasPrefix(m.ID, welcomeIDPrefix)
}

func (m Message) IsSettled() bool {
	return !m.IsLoading
}

// Resolve settles a loading placeholder with generated text.
func (m Message) Resolve(text string) Message {
	m.IsLoading = false
	m.Error = false
	m.ErrorType = ""
	m.Text = text
	return m
}

// Fail settles a loading placeholder with an error marker.
func (m Message) Fail(errorType ErrorType) Message {
	if errorType == "" {
		errorType = ErrorTypeUnknown
	}
	m.IsLoading = false
	m.Error = true
	m.ErrorType = errorType
	m.Text = ""
	return m
}

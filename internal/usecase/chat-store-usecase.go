package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
)

var (
	ErrPersistChats   = errors.New("failed to persist chats")
	ErrChatsNotLoaded = errors.New("chats were not loaded from storage")
)

type ChatStorage interface {
	GetChats(ctx context.Context, key string) ([]byte, error)
	SetChats(ctx context.Context, key string, value []byte) error
}

type ChatStoreDeps struct {
	Storage ChatStorage
	Logger  *slog.Logger
	Now     func() time.Time
}

// ChatStore owns the per-model histories of one owner. It is a read-through
// cache over ChatStorage: Load once, then every mutation is bounded and
// written back under the store lock. Nothing is written while the persisted
// state could not be read, so an outage never overwrites saved history.
type ChatStore struct {
	ChatStoreDeps
	cfg      config.Chat
	key      string
	mu       sync.Mutex
	chats    map[model.ModelID][]model.Message
	active   model.ModelID
	loaded   bool
	loadOnce sync.Once
}

func NewChatStore(deps ChatStoreDeps, cfg config.Chat, key string) *ChatStore {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	active := model.ModelID(cfg.DefaultModel)
	if _, ok := model.FindPersona(active); !ok {
		active = model.Personas()[0].ID
	}
	return &ChatStore{
		ChatStoreDeps: deps,
		cfg:           cfg,
		key:           key,
		chats:         model.DefaultChats(deps.Now()),
		active:        active,
	}
}

// Load replaces the cached histories with the persisted ones. Missing or
// unreadable data leaves the default seeded histories in place, so Load never
// fails. When storage itself cannot be reached the defaults are served but
// the store stays unloaded: the next mutation retries the read before
// writing anything.
func (s *ChatStore) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = model.DefaultChats(s.Now())
	s.loadLocked(ctx)
}

func (s *ChatStore) loadLocked(ctx context.Context) bool {
	raw, err := s.Storage.GetChats(context.WithoutCancel(ctx), s.key)
	switch {
	case errors.Is(err, model.ErrChatsNotFound):
		s.loaded = true
		return true
	case err != nil:
		s.Logger.Error("failed to load chats, serving defaults", "key", s.key, "error", err)
		s.loaded = false
		return false
	}
	s.loaded = true

	var chats map[model.ModelID][]model.Message
	if err = json.Unmarshal(raw, &chats); err != nil || chats == nil {
		s.Logger.Error("failed to decode chats, using defaults", "key", s.key, "error", err)
		return true
	}

	for modelID, messages := range chats {
		if messages == nil {
			messages = []model.Message{}
		}
		chats[modelID] = settleInterrupted(messages)
	}
	s.chats = chats
	return true
}

// Save writes every history to storage.
func (s *ChatStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

// Update applies fn to the history of modelID, bounds the result and
// persists it. The model is always passed explicitly: completions for a
// model the owner has since left must land in that model's history.
// A storage failure is returned wrapped in ErrPersistChats; the cached
// update is kept.
func (s *ChatStore) Update(
	ctx context.Context,
	modelID model.ModelID,
	fn func(messages []model.Message) []model.Message,
) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reloadLocked(ctx)
	current := s.ensureLocked(modelID)
	updated := BoundHistory(fn(cloneMessages(current)), s.cfg.MaxHistoryLength)
	s.chats[modelID] = updated

	if err := s.saveLocked(ctx); err != nil {
		return cloneMessages(updated), err
	}
	return cloneMessages(updated), nil
}

// Clear resets the history of modelID to its welcome message, or to an
// empty history when it has none.
func (s *ChatStore) Clear(ctx context.Context, modelID model.ModelID) ([]model.Message, error) {
	return s.Update(
		ctx, modelID, func(messages []model.Message) []model.Message {
			if welcome, ok := findWelcome(messages); ok {
				return []model.Message{welcome}
			}
			return []model.Message{}
		},
	)
}

// History returns a copy of the history of modelID. A model that was never
// touched yields its seed history without storing it.
func (s *ChatStore) History(modelID model.ModelID) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if messages, ok := s.chats[modelID]; ok {
		return cloneMessages(messages)
	}
	return s.seed(modelID)
}

func (s *ChatStore) Chats() map[model.ModelID][]model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := make(map[model.ModelID][]model.Message, len(s.chats))
	for modelID, messages := range s.chats {
		chats[modelID] = cloneMessages(messages)
	}
	return chats
}

func (s *ChatStore) ActiveModel() model.ModelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SelectModel makes modelID the active model, creating its seeded history
// on first use.
func (s *ChatStore) SelectModel(ctx context.Context, modelID model.ModelID) ([]model.Message, error) {
	if _, ok := model.FindPersona(modelID); !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownModel, modelID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reloadLocked(ctx)
	s.active = modelID
	_, existed := s.chats[modelID]
	messages := s.ensureLocked(modelID)
	if !existed {
		if err := s.saveLocked(ctx); err != nil {
			return cloneMessages(messages), err
		}
	}
	return cloneMessages(messages), nil
}

// reloadLocked retries a failed Load. Edits made to the defaults while
// storage was down are discarded in favour of the persisted histories.
func (s *ChatStore) reloadLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	previous := s.chats
	s.chats = model.DefaultChats(s.Now())
	if !s.loadLocked(ctx) {
		s.chats = previous
	}
}

func (s *ChatStore) ensureLocked(modelID model.ModelID) []model.Message {
	messages, ok := s.chats[modelID]
	if !ok {
		messages = s.seed(modelID)
		s.chats[modelID] = messages
	}
	return messages
}

func (s *ChatStore) seed(modelID model.ModelID) []model.Message {
	persona, ok := model.FindPersona(modelID)
	if !ok {
		return []model.Message{}
	}
	return model.SeedHistory(persona, s.Now())
}

func (s *ChatStore) saveLocked(ctx context.Context) error {
	if !s.loaded {
		return fmt.Errorf("%w: %w", ErrPersistChats, ErrChatsNotLoaded)
	}
	raw, err := json.Marshal(s.chats)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal chats: %w", ErrPersistChats, err)
	}
	if err = s.Storage.SetChats(ctx, s.key, raw); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistChats, err)
	}
	return nil
}

// BoundHistory keeps at most maxLength of the most recent messages. When a
// welcome message is present it keeps its slot: maxLength-1 recent messages
// are kept and the welcome message is put back in front if it was cut.
func BoundHistory(messages []model.Message, maxLength int) []model.Message {
	if maxLength <= 0 || len(messages) <= maxLength {
		return messages
	}

	welcome, hasWelcome := findWelcome(messages)
	keep := maxLength
	if hasWelcome {
		keep--
	}
	recent := messages[len(messages)-keep:]

	if hasWelcome && !containsMessage(recent, welcome.ID) {
		bounded := make([]model.Message, 0, len(recent)+1)
		bounded = append(bounded, welcome)
		return append(bounded, recent...)
	}
	return append([]model.Message(nil), recent...)
}

func findWelcome(messages []model.Message) (model.Message, bool) {
	for _, message := range messages {
		if message.IsWelcome() {
			return message, true
		}
	}
	return model.Message{}, false
}

func containsMessage(messages []model.Message, id string) bool {
	for _, message := range messages {
		if message.ID == id {
			return true
		}
	}
	return false
}

// settleInterrupted fails placeholders persisted by a process that stopped
// before their response arrived.
func settleInterrupted(messages []model.Message) []model.Message {
	for i, message := range messages {
		if message.IsLoading {
			messages[i] = message.Fail(model.ErrorTypeUnknown)
		}
	}
	return messages
}

func cloneMessages(messages []model.Message) []model.Message {
	out := make([]model.Message, len(messages))
	copy(out, messages)
	return out
}

// ChatStores lazily creates and loads one ChatStore per owner.
type ChatStores struct {
	deps   ChatStoreDeps
	cfg    config.Chat
	mu     sync.Mutex
	stores map[string]*ChatStore
}

func NewChatStores(deps ChatStoreDeps, cfg config.Chat) *ChatStores {
	return &ChatStores{
		deps:   deps,
		cfg:    cfg,
		stores: make(map[string]*ChatStore),
	}
}

// Get returns owner's store, loading it on first use. The load runs outside
// the registry lock, so a slow read only holds up callers for the same owner.
func (c *ChatStores) Get(ctx context.Context, owner string) *ChatStore {
	c.mu.Lock()
	store, ok := c.stores[owner]
	if !ok {
		store = NewChatStore(c.deps, c.cfg, StorageKey(c.cfg.StorageKey, owner))
		c.stores[owner] = store
	}
	c.mu.Unlock()

	store.loadOnce.Do(func() { store.Load(ctx) })
	return store
}

// StorageKey is the storage key of owner's chats. The default owner uses
// base unchanged.
func StorageKey(base, owner string) string {
	if owner == "" {
		return base
	}
	return fmt.Sprintf("%s:%s", base, owner)
}

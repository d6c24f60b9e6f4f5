package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
	"github.com/iamvkosarev/persona-chat/pkg/local"
	"github.com/sourcegraph/conc"
)

var (
	ErrEmptyMessage      = errors.New("message has neither text nor image")
	ErrClearNotConfirmed = errors.New("clearing history requires confirmation")
)

type Fetcher interface {
	FetchResponse(ctx context.Context, modelID model.ModelID, prompt string, history []Turn, image string) (string, error)
}

type AiChatUsecaseDeps struct {
	Stores  *ChatStores
	Fetcher Fetcher
	Logger  *slog.Logger
	Now     func() time.Time
}

type AiChatUsecase struct {
	AiChatUsecaseDeps
	cfg      config.Chat
	language local.Language
	inflight conc.WaitGroup
}

// Pending is a sent message whose reply is still being generated. Done
// yields the settled placeholder once and is then closed.
type Pending struct {
	Owner       string
	ModelID     model.ModelID
	UserMessage model.Message
	Placeholder model.Message
	Done        <-chan model.Message
}

func NewAiChatUsecase(deps AiChatUsecaseDeps, cfg config.Chat) *AiChatUsecase {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &AiChatUsecase{
		AiChatUsecaseDeps: deps,
		cfg:               cfg,
		language:          local.ParseLanguage(cfg.Language),
	}
}

func (a *AiChatUsecase) Models() []model.Persona {
	return model.Personas()
}

func (a *AiChatUsecase) Language() local.Language {
	return a.language
}

func (a *AiChatUsecase) History(ctx context.Context, owner string, modelID model.ModelID) ([]model.Message, error) {
	if _, ok := model.FindPersona(modelID); !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownModel, modelID)
	}
	return a.Stores.Get(ctx, owner).History(modelID), nil
}

func (a *AiChatUsecase) Chats(ctx context.Context, owner string) map[model.ModelID][]model.Message {
	return a.Stores.Get(ctx, owner).Chats()
}

func (a *AiChatUsecase) ActiveModel(ctx context.Context, owner string) model.ModelID {
	return a.Stores.Get(ctx, owner).ActiveModel()
}

func (a *AiChatUsecase) SelectModel(ctx context.Context, owner string, modelID model.ModelID) ([]model.Message, error) {
	messages, err := a.Stores.Get(ctx, owner).SelectModel(ctx, modelID)
	if err = a.checkStoreErr(err, owner, modelID); err != nil {
		return nil, err
	}
	return messages, nil
}

// Send appends the user message and a loading placeholder to modelID's
// history and starts generating the reply in the background. The fetch is
// detached from ctx: it always runs to completion and is applied to
// modelID's history, whichever model the owner has selected by then.
func (a *AiChatUsecase) Send(
	ctx context.Context,
	owner string,
	modelID model.ModelID,
	text, image string,
) (Pending, error) {
	if strings.TrimSpace(text) == "" && image == "" {
		return Pending{}, ErrEmptyMessage
	}
	if _, ok := model.FindPersona(modelID); !ok {
		return Pending{}, fmt.Errorf("%w: %s", model.ErrUnknownModel, modelID)
	}

	store := a.Stores.Get(ctx, owner)
	turns := HistoryTurns(store.History(modelID))

	now := a.Now()
	userMessage := model.NewUserMessage(text, image, now)
	placeholder := model.NewPlaceholder(now)

	_, err := store.Update(
		ctx, modelID, func(messages []model.Message) []model.Message {
			return append(messages, userMessage, placeholder)
		},
	)
	if err = a.checkStoreErr(err, owner, modelID); err != nil {
		return Pending{}, err
	}

	done := make(chan model.Message, 1)
	fetchCtx := context.WithoutCancel(ctx)
	a.inflight.Go(
		func() {
			defer close(done)
			reply, fetchErr := a.Fetcher.FetchResponse(fetchCtx, modelID, text, turns, image)
			settled, err := a.Complete(fetchCtx, owner, modelID, placeholder.ID, reply, fetchErr)
			if err != nil {
				a.Logger.Error("failed to apply response", "owner", owner, "model", modelID, "error", err)
			}
			done <- settled
		},
	)

	return Pending{
		Owner:       owner,
		ModelID:     modelID,
		UserMessage: userMessage,
		Placeholder: placeholder,
		Done:        done,
	}, nil
}

// Complete settles placeholderID in modelID's history with reply, or with an
// error marker when fetchErr is set. A placeholder that is no longer in the
// history (cleared or truncated meanwhile) is left alone; the settled message
// is still returned.
func (a *AiChatUsecase) Complete(
	ctx context.Context,
	owner string,
	modelID model.ModelID,
	placeholderID string,
	reply string,
	fetchErr error,
) (model.Message, error) {
	settled := model.Message{ID: placeholderID, Role: model.RoleModel, Timestamp: a.Now().UnixMilli()}
	found := false

	_, err := a.Stores.Get(ctx, owner).Update(
		ctx, modelID, func(messages []model.Message) []model.Message {
			for i, message := range messages {
				if message.ID != placeholderID {
					continue
				}
				if fetchErr != nil {
					messages[i] = message.Fail(ErrorTypeOf(fetchErr))
				} else {
					messages[i] = message.Resolve(reply)
				}
				settled = messages[i]
				found = true
			}
			return messages
		},
	)

	if !found {
		if fetchErr != nil {
			settled = settled.Fail(ErrorTypeOf(fetchErr))
		} else {
			settled = settled.Resolve(reply)
		}
		a.Logger.Warn("placeholder is gone, response dropped", "owner", owner, "model", modelID, "id", placeholderID)
	}
	return settled, a.checkStoreErr(err, owner, modelID)
}

// ClearHistory resets modelID's history. It is destructive, so callers must
// collect an explicit confirmation first.
func (a *AiChatUsecase) ClearHistory(
	ctx context.Context,
	owner string,
	modelID model.ModelID,
	confirmed bool,
) ([]model.Message, error) {
	if _, ok := model.FindPersona(modelID); !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownModel, modelID)
	}
	if !confirmed {
		return nil, ErrClearNotConfirmed
	}
	messages, err := a.Stores.Get(ctx, owner).Clear(ctx, modelID)
	if err = a.checkStoreErr(err, owner, modelID); err != nil {
		return nil, err
	}
	return messages, nil
}

// UserFacingError is the localized explanation shown instead of a failed
// reply.
func (a *AiChatUsecase) UserFacingError(errorType model.ErrorType) string {
	if errorType == model.ErrorTypeQuotaExceeded {
		return local.QuotaExceeded.Text(a.language)
	}
	return local.UnexpectedError.Text(a.language)
}

// Wait blocks until every in-flight reply has been applied.
func (a *AiChatUsecase) Wait() {
	a.inflight.Wait()
}

// checkStoreErr logs persistence failures and lets them pass: the cached
// history is already updated and the conversation stays usable.
func (a *AiChatUsecase) checkStoreErr(err error, owner string, modelID model.ModelID) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistChats) {
		a.Logger.Error("failed to persist chats", "owner", owner, "model", modelID, "error", err)
		return nil
	}
	return err
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
	"github.com/iamvkosarev/persona-chat/pkg/local"
	"github.com/sourcegraph/conc"
)

const (
	CommandStart   = "start"
	CommandHelp    = "help"
	CommandModels  = "models"
	CommandClear   = "clear"
	CommandHistory = "history"

	callbackModelPrefix    = "model:"
	callbackClearYesPrefix = "clear:yes:"
	callbackClearNo        = "clear:no"
)

type TelegramUsecaseDeps struct {
	AIChat     *AiChatUsecase
	Attachment *AttachmentUsecase
	Bot        *api.BotAPI
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type TelegramUsecase struct {
	TelegramUsecaseDeps
	cfg          config.Telegram
	allowedUsers map[int64]struct{}
}

func NewTelegramUsecase(cfg config.Telegram, deps TelegramUsecaseDeps) (*TelegramUsecase, error) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	allowedUsers := make(map[int64]struct{}, len(cfg.AllowedTelegramID))
	for _, userID := range cfg.AllowedTelegramID {
		allowedUsers[userID] = struct{}{}
	}

	_, err := deps.Bot.Request(
		api.NewSetMyCommands(
			[]api.BotCommand{
				{
					Command:     CommandHelp,
					Description: "Get help",
				},
				{
					Command:     CommandModels,
					Description: "Select a model",
				},
				{
					Command:     CommandClear,
					Description: "Clear the conversation with the current model",
				},
				{
					Command:     CommandHistory,
					Description: "Show the conversation state",
				},
			}...,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set bot commands: %w", err)
	}

	return &TelegramUsecase{
		TelegramUsecaseDeps: deps,
		cfg:                 cfg,
		allowedUsers:        allowedUsers,
	}, nil
}

// Run consumes updates until ctx is done. Every update is handled on its own
// goroutine, so a slow reply never blocks other messages.
func (t *TelegramUsecase) Run(ctx context.Context) error {
	u := api.NewUpdate(0)
	u.Timeout = 60

	updates := t.Bot.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		t.Bot.StopReceivingUpdates()
	}()

	wg := conc.NewWaitGroup()
	defer wg.Wait()
	for update := range updates {
		wg.Go(
			func() {
				if update.Message != nil {
					if err := t.handleMessage(ctx, update.Message); err != nil {
						t.Logger.Error("error handling message", "error", err)
					}
				}
				if update.CallbackQuery != nil {
					if err := t.handleCallbackQuery(ctx, update.CallbackQuery); err != nil {
						t.Logger.Error("error handling callback query", "error", err)
					}
				}
			},
		)
	}
	return nil
}

func (t *TelegramUsecase) handleMessage(ctx context.Context, message *api.Message) error {
	chatID := message.Chat.ID
	lang := t.AIChat.Language()

	if !t.isAllowed(chatID) {
		t.sendMessageAndHandleErr(chatID, local.NoAccess.Text(lang))
		return nil
	}
	owner := ownerForChat(chatID)

	if message.IsCommand() {
		return t.handleCommand(ctx, owner, chatID, message.Command())
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}
	image, err := t.readAttachment(ctx, message)
	if err != nil {
		if warning := t.Attachment.UserFacingError(err, lang); warning != "" {
			t.sendMessageAndHandleErr(chatID, warning)
			return nil
		}
		t.sendMessageAndHandleErr(chatID, local.ServerError.Text(lang))
		return fmt.Errorf("failed to read attachment: %w", err)
	}

	modelID := t.AIChat.ActiveModel(ctx, owner)
	pending, err := t.AIChat.Send(ctx, owner, modelID, text, image)
	if err != nil {
		if errors.Is(err, ErrEmptyMessage) {
			return nil
		}
		t.sendMessageAndHandleErr(chatID, local.ServerError.Text(lang))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if _, err = t.Bot.Request(api.NewChatAction(chatID, api.ChatTyping)); err != nil {
		t.Logger.Warn("failed to send chat action", "error", err)
	}

	settled := <-pending.Done
	t.sendMessageAndHandleErr(chatID, t.replyText(settled))
	return nil
}

func (t *TelegramUsecase) handleCommand(ctx context.Context, owner string, chatID int64, command string) error {
	lang := t.AIChat.Language()
	switch command {
	case CommandStart:
		modelID := t.AIChat.ActiveModel(ctx, owner)
		messages, err := t.AIChat.SelectModel(ctx, owner, modelID)
		if err != nil {
			t.sendMessageAndHandleErr(chatID, local.ServerError.Text(lang))
			return fmt.Errorf("failed to select model: %w", err)
		}
		if welcome, ok := findWelcome(messages); ok {
			t.sendMessageAndHandleErr(chatID, welcome.Text)
		}
		t.sendMessageAndHandleErr(chatID, local.Help.Text(lang))
	case CommandHelp:
		t.sendMessageAndHandleErr(chatID, local.Help.Text(lang))
	case CommandModels:
		if err := t.sendSelectModelsKeyboard(ctx, owner, chatID); err != nil {
			return fmt.Errorf("failed to send select models keyboard: %w", err)
		}
	case CommandClear:
		if err := t.sendClearConfirmation(chatID, t.AIChat.ActiveModel(ctx, owner)); err != nil {
			return fmt.Errorf("failed to send clear confirmation: %w", err)
		}
	case CommandHistory:
		modelID := t.AIChat.ActiveModel(ctx, owner)
		messages, err := t.AIChat.History(ctx, owner, modelID)
		if err != nil {
			t.sendMessageAndHandleErr(chatID, local.ServerError.Text(lang))
			return fmt.Errorf("failed to get history: %w", err)
		}
		t.sendMessageAndHandleErr(chatID, local.HistoryStats.Format(lang, personaName(modelID), len(messages)))
	default:
		t.sendMessageAndHandleErr(chatID, local.UnknownCommand.Text(lang))
	}
	return nil
}

func (t *TelegramUsecase) handleCallbackQuery(ctx context.Context, query *api.CallbackQuery) error {
	if query.Message == nil {
		return nil
	}
	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID
	lang := t.AIChat.Language()

	if _, err := t.Bot.Request(api.NewCallback(query.ID, "")); err != nil {
		return fmt.Errorf("failed to request callback: %w", err)
	}
	if !t.isAllowed(chatID) {
		return nil
	}
	owner := ownerForChat(chatID)

	action, modelID := parseCallbackData(query.Data)
	switch action {
	case callbackActionModel:
		if _, err := t.AIChat.SelectModel(ctx, owner, modelID); err != nil {
			t.sendMessageAndHandleErr(chatID, local.ServerError.Text(lang))
			return fmt.Errorf("failed to select model %s: %w", modelID, err)
		}
		t.editMessageAndHandleErr(chatID, messageID, local.ModelSelected.Format(lang, personaName(modelID)))
	case callbackActionClearConfirmed:
		if _, err := t.AIChat.ClearHistory(ctx, owner, modelID, true); err != nil {
			t.sendMessageAndHandleErr(chatID, local.ServerError.Text(lang))
			return fmt.Errorf("failed to clear history: %w", err)
		}
		t.editMessageAndHandleErr(chatID, messageID, local.ClearDone.Text(lang))
	case callbackActionClearCancelled:
		t.editMessageAndHandleErr(chatID, messageID, local.ClearCancelled.Text(lang))
	}
	return nil
}

// readAttachment downloads the photo or image document of message as a data
// URI. The size cap is checked against the size Telegram reports before
// downloading.
func (t *TelegramUsecase) readAttachment(ctx context.Context, message *api.Message) (string, error) {
	var fileID string
	var fileSize int64
	switch {
	case len(message.Photo) > 0:
		photo := message.Photo[len(message.Photo)-1]
		fileID, fileSize = photo.FileID, int64(photo.FileSize)
	case message.Document != nil && strings.HasPrefix(message.Document.MimeType, "image/"):
		fileID, fileSize = message.Document.FileID, int64(message.Document.FileSize)
	default:
		return "", nil
	}

	if maxSize := t.Attachment.cfg.MaxImageSize; maxSize > 0 && fileSize > maxSize {
		return "", ErrImageTooLarge
	}

	fileURL, err := t.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("failed to get file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create file request: %w", err)
	}
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}
	return t.Attachment.ReadImage(resp.Body, resp.ContentLength)
}

func (t *TelegramUsecase) replyText(settled model.Message) string {
	if settled.Error {
		return t.AIChat.UserFacingError(settled.ErrorType)
	}
	return settled.Text
}

func (t *TelegramUsecase) sendSelectModelsKeyboard(ctx context.Context, owner string, chatID int64) error {
	lang := t.AIChat.Language()
	active := t.AIChat.ActiveModel(ctx, owner)

	msg := api.NewMessage(chatID, local.SelectModel.Text(lang))
	const maxButtonsInRow = 3
	inlineRows := make([][]api.InlineKeyboardButton, 0)
	inlineButtons := make([]api.InlineKeyboardButton, 0)
	for _, persona := range t.AIChat.Models() {
		if len(inlineButtons) == maxButtonsInRow {
			inlineRows = append(inlineRows, inlineButtons)
			inlineButtons = make([]api.InlineKeyboardButton, 0)
		}
		label := persona.Name
		if persona.ID == active {
			label = "✓ " + label
		}
		inlineButtons = append(
			inlineButtons, api.NewInlineKeyboardButtonData(label, callbackModelPrefix+string(persona.ID)),
		)
	}
	inlineRows = append(inlineRows, inlineButtons)
	msg.ReplyMarkup = api.NewInlineKeyboardMarkup(inlineRows...)
	if _, err := t.Bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message to bot: %w", err)
	}
	return nil
}

// sendClearConfirmation asks before clearing modelID. The model travels in
// the callback data, so switching models before answering clears the one
// that was asked about.
func (t *TelegramUsecase) sendClearConfirmation(chatID int64, modelID model.ModelID) error {
	lang := t.AIChat.Language()
	text := local.ClearTitle.Text(lang) + " (" + personaName(modelID) + ")\n\n" + local.ClearConfirm.Text(lang)
	msg := api.NewMessage(chatID, text)
	msg.ReplyMarkup = api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData(local.Yes.Text(lang), callbackClearYesPrefix+string(modelID)),
			api.NewInlineKeyboardButtonData(local.No.Text(lang), callbackClearNo),
		),
	)
	if _, err := t.Bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message to bot: %w", err)
	}
	return nil
}

func (t *TelegramUsecase) isAllowed(chatID int64) bool {
	if len(t.allowedUsers) == 0 {
		return true
	}
	_, ok := t.allowedUsers[chatID]
	return ok
}

func (t *TelegramUsecase) sendMessageAndHandleErr(chatID int64, message string) api.Message {
	msg, err := t.Bot.Send(api.NewMessage(chatID, message))
	if err != nil {
		t.Logger.Error("failed to send new message to bot", "error", err)
	}
	return msg
}

func (t *TelegramUsecase) editMessageAndHandleErr(chatID int64, messageID int, message string) {
	if _, err := t.Bot.Send(api.NewEditMessageText(chatID, messageID, message)); err != nil {
		t.Logger.Error("failed to edit message", "error", err)
	}
}

type callbackAction int

const (
	callbackActionUnknown = callbackAction(iota)
	callbackActionModel
	callbackActionClearConfirmed
	callbackActionClearCancelled
)

func parseCallbackData(data string) (callbackAction, model.ModelID) {
	switch {
	case strings.HasPrefix(data, callbackClearYesPrefix):
		return callbackActionClearConfirmed, model.ModelID(strings.TrimPrefix(data, callbackClearYesPrefix))
	case data == callbackClearNo:
		return callbackActionClearCancelled, ""
	case strings.HasPrefix(data, callbackModelPrefix):
		return callbackActionModel, model.ModelID(strings.TrimPrefix(data, callbackModelPrefix))
	default:
		return callbackActionUnknown, ""
	}
}

func ownerForChat(chatID int64) string {
	return "tg" + strconv.FormatInt(chatID, 10)
}

func personaName(modelID model.ModelID) string {
	if persona, ok := model.FindPersona(modelID); ok {
		return persona.Name
	}
	return string(modelID)
}

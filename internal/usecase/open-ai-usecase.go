package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
	openai_tools "github.com/iamvkosarev/persona-chat/pkg/openai-tools"
	"github.com/sashabaranov/go-openai"
)

const (
	OpenAIRoleSystem    = "system"
	OpenAIRoleUser      = "user"
	OpenAIRoleAssistant = "assistant"
)

// OpenAIUsecase generates replies through an OpenAI compatible chat
// completions endpoint.
type OpenAIUsecase struct {
	cfg    config.GenAI
	client *openai.Client
	logger *slog.Logger
}

func NewOpenAIUsecase(cfg config.GenAI, logger *slog.Logger) *OpenAIUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAIUsecase{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}
}

func (o *OpenAIUsecase) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := buildOpenAIMessages(req)

	if o.logger.Enabled(ctx, slog.LevelDebug) {
		tokenCount, err := openai_tools.CountToken(messages, req.Model)
		if err != nil {
			o.logger.Debug("count token error", "error", err)
		} else {
			o.logger.Debug("sending chat completion", "model", req.Model, "prompt_tokens", tokenCount)
		}
	}

	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := o.client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model:       req.Model,
			Temperature: o.cfg.Temperature,
			N:           1,
			Messages:    messages,
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func buildOpenAIMessages(req GenerateRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(
			messages, openai.ChatCompletionMessage{
				Role:    OpenAIRoleSystem,
				Content: req.SystemInstruction,
			},
		)
	}
	for _, turn := range req.History {
		messages = append(
			messages, openai.ChatCompletionMessage{
				Role:    parseRoleToOpenAIRole(turn.Role),
				Content: turn.Text,
			},
		)
	}

	if req.Image == nil {
		return append(
			messages, openai.ChatCompletionMessage{
				Role:    OpenAIRoleUser,
				Content: req.Prompt,
			},
		)
	}
	return append(
		messages, openai.ChatCompletionMessage{
			Role: OpenAIRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: req.Prompt,
				},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: req.Image.String(),
					},
				},
			},
		},
	)
}

func parseRoleToOpenAIRole(role model.Role) string {
	switch role {
	case model.RoleModel:
		return OpenAIRoleAssistant
	default:
		return OpenAIRoleUser
	}
}

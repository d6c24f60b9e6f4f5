package usecase

import (
	"context"
	"log/slog"

	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAISDKUsecase is the Generator built on the official OpenAI SDK. The SDK
// retries are disabled, ResponseFetcher owns the retry policy.
type OpenAISDKUsecase struct {
	cfg    config.GenAI
	client openai.Client
	logger *slog.Logger
}

func NewOpenAISDKUsecase(cfg config.GenAI, logger *slog.Logger, opts ...option.RequestOption) *OpenAISDKUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	if cfg.RequestTimeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	return &OpenAISDKUsecase{
		cfg:    cfg,
		client: openai.NewClient(append(clientOpts, opts...)...),
		logger: logger,
	}
}

func (o *OpenAISDKUsecase) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	o.logger.Debug("sending chat completion", "model", req.Model, "history", len(req.History))

	res, err := o.client.Chat.Completions.New(
		ctx, openai.ChatCompletionNewParams{
			Model:       req.Model,
			Messages:    buildSDKMessages(req),
			Temperature: openai.Float(float64(o.cfg.Temperature)),
		},
	)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", nil
	}
	return res.Choices[0].Message.Content, nil
}

func buildSDKMessages(req GenerateRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}
	for _, turn := range req.History {
		if turn.Role == model.RoleModel {
			messages = append(messages, openai.AssistantMessage(turn.Text))
		} else {
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}

	if req.Image == nil {
		return append(messages, openai.UserMessage(req.Prompt))
	}
	return append(
		messages, openai.UserMessage(
			[]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(req.Prompt),
				openai.ImageContentPart(
					openai.ChatCompletionContentPartImageImageURLParam{
						URL: req.Image.String(),
					},
				),
			},
		),
	)
}

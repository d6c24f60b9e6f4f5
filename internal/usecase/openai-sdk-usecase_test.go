package usecase

import (
	"context"
	"net/http"
	"testing"

	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
	"github.com/iamvkosarev/persona-chat/pkg/datauri"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSDKConfig(baseURL string) config.GenAI {
	cfg := testGenAIConfig(baseURL)
	cfg.Provider = config.ProviderOpenAISDK
	return cfg
}

func TestOpenAISDKUsecaseGenerate(t *testing.T) {
	server := newCompletionServer(t)
	generator := NewOpenAISDKUsecase(testSDKConfig(server.URL), nil)

	text, err := generator.Generate(context.Background(), testGenerateRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "مرحبا", text)

	bodies := server.requests()
	require.Len(t, bodies, 1)
	assert.Equal(t, "gemini-3-flash-preview", bodies[0]["model"])
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, messageRoles(t, bodies[0]))
}

func TestOpenAISDKUsecaseSendsImagePart(t *testing.T) {
	server := newCompletionServer(t)
	generator := NewOpenAISDKUsecase(testSDKConfig(server.URL), nil)
	image := &datauri.Image{MIMEType: "image/jpeg", Data: "/9j/4AAQ"}

	_, err := generator.Generate(context.Background(), testGenerateRequest(image))
	require.NoError(t, err)

	parts, ok := lastMessageContent(t, server.requests()[0]).([]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]any)
	assert.Equal(t, "image_url", imagePart["type"])
	assert.Equal(t, "data:image/jpeg;base64,/9j/4AAQ", imagePart["image_url"].(map[string]any)["url"])
}

func TestOpenAISDKUsecaseDoesNotRetryOnItsOwn(t *testing.T) {
	server := newCompletionServer(t, http.StatusTooManyRequests)
	generator := NewOpenAISDKUsecase(testSDKConfig(server.URL), nil)

	_, err := generator.Generate(context.Background(), testGenerateRequest(nil))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, model.ErrorTypeQuotaExceeded, Classify(err))
	assert.Len(t, server.requests(), 1)
}

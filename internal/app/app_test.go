package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
	"github.com/iamvkosarev/persona-chat/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		GenAI: config.GenAI{
			APIKey:       "test-key",
			BaseURL:      "http://127.0.0.1:1/",
			Provider:     config.ProviderGoOpenAI,
			DefaultModel: "gemini-3-flash-preview",
		},
		Chat: config.Chat{
			StorageKey:       "yaz_ai_chats",
			MaxHistoryLength: 50,
			MaxImageSize:     5 * 1024 * 1024,
			Language:         "ar",
			DefaultModel:     "deepseek",
		},
		Storage: config.Storage{Backend: config.StorageMemory},
	}
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()

	logger := NewLogger(config.Log{Level: "debug", Format: "json"})
	assert.True(t, logger.Enabled(ctx, slog.LevelDebug))
	_, isJSON := logger.Handler().(*slog.JSONHandler)
	assert.True(t, isJSON)

	logger = NewLogger(config.Log{Level: "nonsense"})
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
}

func TestNewStorageBackends(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("memory", func(t *testing.T) {
		storage, closeFn, err := newStorage(ctx, testConfig(), logger)
		require.NoError(t, err)
		assert.NotNil(t, storage)
		assert.Nil(t, closeFn)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := testConfig()
		cfg.Storage = config.Storage{Backend: config.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "chats.db")}
		storage, closeFn, err := newStorage(ctx, cfg, logger)
		require.NoError(t, err)
		defer closeFn()
		require.NoError(t, storage.SetChats(ctx, "k", []byte("v")))
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig()
		cfg.Storage.Backend = config.StorageRedis
		cfg.Redis = config.Redis{Endpoint: mr.Addr()}
		storage, closeFn, err := newStorage(ctx, cfg, logger)
		require.NoError(t, err)
		defer closeFn()
		require.NoError(t, storage.SetChats(ctx, "k", []byte("v")))
		got, err := mr.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := testConfig()
		cfg.Storage.Backend = "mongo"
		_, _, err := newStorage(ctx, cfg, logger)
		require.ErrorIs(t, err, config.ErrUnknownStorageBackend)
	})
}

func TestNewGenerator(t *testing.T) {
	cfg := testConfig().GenAI

	generator, err := newGenerator(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &usecase.OpenAIUsecase{}, generator)

	cfg.Provider = config.ProviderOpenAISDK
	generator, err = newGenerator(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &usecase.OpenAISDKUsecase{}, generator)

	cfg.Provider = "ollama"
	_, err = newGenerator(cfg, nil)
	require.ErrorIs(t, err, config.ErrUnknownProvider)
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.GenAI.RequestsPerMinute = 30

	components, err := Build(ctx, cfg, slog.Default())
	require.NoError(t, err)
	defer components.Close()

	assert.Equal(t, model.ModelDeepSeek, components.Chat.ActiveModel(ctx, ""))
	history, err := components.Chat.History(ctx, "", model.ModelGPT)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunRequiresAFrontEnd(t *testing.T) {
	err := Run(context.Background(), testConfig(), slog.Default())
	require.ErrorIs(t, err, ErrNothingToRun)
}

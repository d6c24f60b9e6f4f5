package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/server"
	in_memory "github.com/iamvkosarev/persona-chat/internal/storage/in-memory"
	key_value "github.com/iamvkosarev/persona-chat/internal/storage/key-value"
	"github.com/iamvkosarev/persona-chat/internal/storage/sqlite"
	"github.com/iamvkosarev/persona-chat/internal/usecase"
	"github.com/iamvkosarev/persona-chat/pkg/local"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"
)

var ErrNothingToRun = errors.New("neither http nor telegram is enabled")

// Components are the usecases shared by every front end.
type Components struct {
	Chat        *usecase.AiChatUsecase
	Attachments *usecase.AttachmentUsecase
	closeFn     func() error
}

// Close waits for in-flight replies and releases the storage.
func (c *Components) Close() error {
	c.Chat.Wait()
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

func NewLogger(cfg config.Log) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Build wires storage, generation and the chat usecases from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	storage, closeFn, err := newStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	generator, err := newGenerator(cfg.GenAI, logger)
	if err != nil {
		return nil, errors.Join(err, closeStorage(closeFn))
	}

	var limiter *rate.Limiter
	if n := cfg.GenAI.RequestsPerMinute; n > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}

	language := local.ParseLanguage(cfg.Chat.Language)
	fetcher := usecase.NewResponseFetcher(
		usecase.ResponseFetcherDeps{
			Generator: generator,
			Logger:    logger,
			Limiter:   limiter,
		},
		cfg.Retry,
		cfg.GenAI.DefaultModel,
		language,
	)

	stores := usecase.NewChatStores(
		usecase.ChatStoreDeps{
			Storage: storage,
			Logger:  logger,
		},
		cfg.Chat,
	)

	chat := usecase.NewAiChatUsecase(
		usecase.AiChatUsecaseDeps{
			Stores:  stores,
			Fetcher: fetcher,
			Logger:  logger,
		},
		cfg.Chat,
	)

	return &Components{
		Chat:        chat,
		Attachments: usecase.NewAttachmentUsecase(cfg.Chat),
		closeFn:     closeFn,
	}, nil
}

// Run serves the HTTP API and the Telegram bot, whichever are enabled, until
// ctx is done.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.HTTP.Enabled && !cfg.Telegram.Enabled {
		return ErrNothingToRun
	}

	components, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error("failed to close components", "error", err)
		}
	}()

	var telegramUsecase *usecase.TelegramUsecase
	if cfg.Telegram.Enabled {
		bot, err := api.NewBotAPI(cfg.Telegram.TelegramAPIToken)
		if err != nil {
			return fmt.Errorf("failed to create new bot: %w", err)
		}
		logger.Info("authorized on telegram", "account", bot.Self.UserName)

		telegramUsecase, err = usecase.NewTelegramUsecase(
			cfg.Telegram, usecase.TelegramUsecaseDeps{
				AIChat:     components.Chat,
				Attachment: components.Attachments,
				Bot:        bot,
				Logger:     logger,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to create telegram usecase: %w", err)
		}
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	if cfg.HTTP.Enabled {
		srv := server.New(cfg.HTTP, components.Chat, components.Attachments, logger)
		p.Go(srv.Run)
	}
	if telegramUsecase != nil {
		p.Go(telegramUsecase.Run)
	}
	return p.Wait()
}

func newStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (usecase.ChatStorage, func() error, error) {
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		rdb := redis.NewClient(
			&redis.Options{
				Addr:     cfg.Redis.Endpoint,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			},
		)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis is not reachable yet", "endpoint", cfg.Redis.Endpoint, "error", err)
		}
		return key_value.NewChatStorage(rdb), rdb.Close, nil
	case config.StorageSQLite:
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewChatStorage(db), db.Close, nil
	case config.StorageMemory:
		return in_memory.NewChatStorage(), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownStorageBackend, cfg.Storage.Backend)
	}
}

func newGenerator(cfg config.GenAI, logger *slog.Logger) (usecase.Generator, error) {
	switch cfg.Provider {
	case config.ProviderGoOpenAI:
		return usecase.NewOpenAIUsecase(cfg, logger), nil
	case config.ProviderOpenAISDK:
		return usecase.NewOpenAISDKUsecase(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownProvider, cfg.Provider)
	}
}

func closeStorage(closeFn func() error) error {
	if closeFn == nil {
		return nil
	}
	return closeFn()
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
	in_memory "github.com/iamvkosarev/persona-chat/internal/storage/in-memory"
	"github.com/iamvkosarev/persona-chat/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperFetcher struct{}

func (upperFetcher) FetchResponse(
	_ context.Context,
	_ model.ModelID,
	prompt string,
	_ []usecase.Turn,
	_ string,
) (string, error) {
	return strings.ToUpper(prompt), nil
}

func newTestREPL(t *testing.T, input string) (*repl, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true

	cfg := config.Chat{
		StorageKey:       "yaz_ai_chats",
		MaxHistoryLength: 50,
		MaxImageSize:     1024,
		Language:         "en",
		DefaultModel:     "deepseek",
	}
	chat := usecase.NewAiChatUsecase(
		usecase.AiChatUsecaseDeps{
			Stores:  usecase.NewChatStores(usecase.ChatStoreDeps{Storage: in_memory.NewChatStorage()}, cfg),
			Fetcher: upperFetcher{},
		},
		cfg,
	)
	t.Cleanup(chat.Wait)

	renderer, err := glamour.NewTermRenderer(glamour.WithStandardStyle("notty"))
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return &repl{
		chat:        chat,
		attachments: usecase.NewAttachmentUsecase(cfg),
		renderer:    renderer,
		in:          strings.NewReader(input),
		out:         out,
	}, out
}

func TestParseCommand(t *testing.T) {
	command, arg := parseCommand("/model  gemini ")
	assert.Equal(t, "model", command)
	assert.Equal(t, "gemini", arg)

	command, arg = parseCommand("/EXIT")
	assert.Equal(t, "exit", command)
	assert.Empty(t, arg)
}

func TestIsYes(t *testing.T) {
	assert.True(t, isYes("y"))
	assert.True(t, isYes(" YES "))
	assert.False(t, isYes(""))
	assert.False(t, isYes("n"))
}

func TestREPLConversation(t *testing.T) {
	ctx := context.Background()
	r, out := newTestREPL(t, "/model gpt\nhello there\n/exit\n")

	require.NoError(t, r.run(ctx))
	assert.Contains(t, out.String(), "HELLO THERE")

	history, err := r.chat.History(ctx, owner, model.ModelGPT)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "HELLO THERE", history[2].Text)
}

func TestREPLClearAsksForConfirmation(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestREPL(t, "hi\n/clear\nn\n")

	require.NoError(t, r.run(ctx))
	history, err := r.chat.History(ctx, owner, model.ModelDeepSeek)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	r, _ = newTestREPL(t, "hi\n/clear\ny\n")
	require.NoError(t, r.run(ctx))
	history, err = r.chat.History(ctx, owner, model.ModelDeepSeek)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestREPLImageAttachment(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pixel.png")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	require.NoError(t, os.WriteFile(path, png, 0o600))

	r, _ := newTestREPL(t, "/image "+path+"\nwhat is it\n")
	require.NoError(t, r.run(ctx))

	history, err := r.chat.History(ctx, owner, model.ModelDeepSeek)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, strings.HasPrefix(history[1].Image, "data:image/png;base64,"))
	assert.Empty(t, r.image)
}

func TestREPLRejectsUnknownModel(t *testing.T) {
	r, out := newTestREPL(t, "/model llama\n")
	require.NoError(t, r.run(context.Background()))
	assert.Contains(t, out.String(), model.ErrUnknownModel.Error())
	assert.Equal(t, model.ModelDeepSeek, r.chat.ActiveModel(context.Background(), owner))
}

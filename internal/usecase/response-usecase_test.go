package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
	"github.com/iamvkosarev/persona-chat/pkg/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	mu       sync.Mutex
	errs     []error
	text     string
	requests []GenerateRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return "", err
	}
	return g.text, nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testRetryConfig() config.Retry {
	return config.Retry{MaxRetries: 3, BaseDelay: time.Second, MaxJitter: 500 * time.Millisecond}
}

func newTestFetcher(generator Generator, sleeper *sleepRecorder) *ResponseFetcher {
	return NewResponseFetcher(
		ResponseFetcherDeps{
			Generator: generator,
			Sleep:     sleeper.sleep,
			Jitter:    func(time.Duration) time.Duration { return 0 },
		},
		testRetryConfig(),
		"gemini-3-flash-preview",
		local.Eng,
	)
}

func TestFetchResponseRetriesTransientErrors(t *testing.T) {
	quota := errors.New("error, status code: 429, message: RESOURCE_EXHAUSTED")
	generator := &scriptedGenerator{errs: []error{quota, quota, quota}, text: "finally"}
	sleeper := &sleepRecorder{}

	text, err := newTestFetcher(generator, sleeper).FetchResponse(
		context.Background(), model.ModelGPT, "hi", nil, "",
	)
	require.NoError(t, err)
	assert.Equal(t, "finally", text)
	assert.Equal(t, 4, generator.calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestFetchResponseGivesUpAfterMaxRetries(t *testing.T) {
	quota := errors.New("429 quota exceeded")
	generator := &scriptedGenerator{errs: []error{quota, quota, quota, quota, quota}}
	sleeper := &sleepRecorder{}

	_, err := newTestFetcher(generator, sleeper).FetchResponse(
		context.Background(), model.ModelGPT, "hi", nil, "",
	)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, model.ErrorTypeQuotaExceeded, fetchErr.Type)
	assert.Equal(t, 4, fetchErr.Attempts)
	assert.Equal(t, 4, generator.calls())
	assert.Len(t, sleeper.delays, 3)
	assert.ErrorIs(t, err, quota)
}

func TestFetchResponseDoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType model.ErrorType
	}{
		{name: "permission", err: errors.New("status 403: PERMISSION_DENIED"), wantType: model.ErrorTypePermissionDenied},
		{name: "bad request", err: errors.New("status 400: invalid argument"), wantType: model.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator := &scriptedGenerator{errs: []error{tt.err}}
			sleeper := &sleepRecorder{}

			_, err := newTestFetcher(generator, sleeper).FetchResponse(
				context.Background(), model.ModelDeepSeek, "hi", nil, "",
			)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, ErrorTypeOf(err))
			assert.Equal(t, 1, generator.calls())
			assert.Empty(t, sleeper.delays)
		})
	}
}

func TestFetchResponseServerErrorsAreRetried(t *testing.T) {
	generator := &scriptedGenerator{
		errs: []error{errors.New("503 model is overloaded"), errors.New("500 internal")},
		text: "ok",
	}
	sleeper := &sleepRecorder{}

	text, err := newTestFetcher(generator, sleeper).FetchResponse(
		context.Background(), model.ModelGemini, "hi", nil, "",
	)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Len(t, sleeper.delays, 2)
}

func TestFetchResponseStopsWhenContextIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	generator := &scriptedGenerator{errs: []error{errors.New("429")}}
	fetcher := NewResponseFetcher(
		ResponseFetcherDeps{
			Generator: generator,
			Sleep: func(ctx context.Context, d time.Duration) error {
				cancel()
				return ctx.Err()
			},
		},
		testRetryConfig(),
		"",
		local.Eng,
	)

	_, err := fetcher.FetchResponse(ctx, model.ModelGPT, "hi", nil, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.ErrorTypeQuotaExceeded, ErrorTypeOf(err))
	assert.Equal(t, 1, generator.calls())
}

func TestFetchResponseBuildsRequest(t *testing.T) {
	generator := &scriptedGenerator{text: "reply"}
	history := []Turn{{Role: model.RoleUser, Text: "a"}, {Role: model.RoleModel, Text: "b"}}

	_, err := newTestFetcher(generator, &sleepRecorder{}).FetchResponse(
		context.Background(), model.ModelDeepSeek, "question", history, "data:image/png;base64,iVBORw==",
	)
	require.NoError(t, err)
	require.Len(t, generator.requests, 1)

	req := generator.requests[0]
	persona, _ := model.FindPersona(model.ModelDeepSeek)
	assert.Equal(t, persona.SystemPrompt, req.SystemInstruction)
	assert.Equal(t, "gemini-3-flash-preview", req.Model)
	assert.Equal(t, history, req.History)
	assert.Equal(t, "question", req.Prompt)
	require.NotNil(t, req.Image)
	assert.Equal(t, "image/png", req.Image.MIMEType)
	assert.Equal(t, "iVBORw==", req.Image.Data)
}

func TestFetchResponseDropsMalformedImage(t *testing.T) {
	generator := &scriptedGenerator{text: "reply"}

	text, err := newTestFetcher(generator, &sleepRecorder{}).FetchResponse(
		context.Background(), model.ModelGPT, "look", nil, "not-a-data-uri",
	)
	require.NoError(t, err)
	assert.Equal(t, "reply", text)
	assert.Nil(t, generator.requests[0].Image)
}

func TestFetchResponseEmptyReply(t *testing.T) {
	generator := &scriptedGenerator{}

	text, err := newTestFetcher(generator, &sleepRecorder{}).FetchResponse(
		context.Background(), model.ModelGPT, "hi", nil, "",
	)
	require.NoError(t, err)
	assert.Equal(t, local.EmptyReply.Text(local.Eng), text)
}

func TestFetchResponseUnknownModel(t *testing.T) {
	generator := &scriptedGenerator{}

	_, err := newTestFetcher(generator, &sleepRecorder{}).FetchResponse(
		context.Background(), "llama", "hi", nil, "",
	)
	require.ErrorIs(t, err, model.ErrUnknownModel)
	assert.Zero(t, generator.calls())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want model.ErrorType
	}{
		{msg: "403 Forbidden", want: model.ErrorTypePermissionDenied},
		{msg: "PERMISSION_DENIED: key revoked", want: model.ErrorTypePermissionDenied},
		{msg: "caller does not have permission", want: model.ErrorTypePermissionDenied},
		{msg: "429 Too Many Requests", want: model.ErrorTypeQuotaExceeded},
		{msg: "RESOURCE_EXHAUSTED", want: model.ErrorTypeQuotaExceeded},
		{msg: "daily quota reached", want: model.ErrorTypeQuotaExceeded},
		{msg: "403 quota project mismatch", want: model.ErrorTypePermissionDenied},
		{msg: "503 overloaded", want: model.ErrorTypeUnknown},
		{msg: "connection reset", want: model.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(errors.New(tt.msg)))
		})
	}
	assert.Equal(t, model.ErrorTypeUnknown, Classify(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("429")))
	assert.True(t, IsTransient(errors.New("RESOURCE_EXHAUSTED")))
	assert.True(t, IsTransient(errors.New("quota")))
	assert.True(t, IsTransient(errors.New("500")))
	assert.True(t, IsTransient(errors.New("503")))
	assert.True(t, IsTransient(errors.New("model overloaded")))
	assert.False(t, IsTransient(errors.New("403 PERMISSION_DENIED")))
	assert.False(t, IsTransient(errors.New("invalid argument")))
	assert.False(t, IsTransient(nil))
}

func TestHistoryTurns(t *testing.T) {
	messages := []model.Message{
		{ID: "welcome-gpt", Role: model.RoleModel, Text: "hello"},
		{ID: "u1", Role: model.RoleUser, Text: "q1"},
		{ID: "a1", Role: model.RoleModel, Text: "a1"},
		{ID: "u2", Role: model.RoleUser, Text: "q2"},
		{ID: "a2", Role: model.RoleModel, Error: true, ErrorType: model.ErrorTypeUnknown},
		{ID: "p1", Role: model.RoleModel, IsLoading: true},
	}

	assert.Equal(
		t, []Turn{
			{Role: model.RoleUser, Text: "q1"},
			{Role: model.RoleModel, Text: "a1"},
			{Role: model.RoleUser, Text: "q2"},
		}, HistoryTurns(messages),
	)
}

func TestRandomJitterBounds(t *testing.T) {
	assert.Zero(t, randomJitter(0))
	for i := 0; i < 1000; i++ {
		jitter := randomJitter(500 * time.Millisecond)
		assert.GreaterOrEqual(t, jitter, time.Duration(0))
		assert.Less(t, jitter, 500*time.Millisecond)
	}
}

func TestBackoffIncludesJitter(t *testing.T) {
	fetcher := NewResponseFetcher(
		ResponseFetcherDeps{Jitter: func(limit time.Duration) time.Duration { return limit / 2 }},
		testRetryConfig(),
		"",
		local.Eng,
	)
	assert.Equal(t, time.Second+250*time.Millisecond, fetcher.backoff(1))
	assert.Equal(t, 4*time.Second+250*time.Millisecond, fetcher.backoff(3))
}

func TestBackoffSaturates(t *testing.T) {
	cfg := testRetryConfig()
	cfg.BaseDelay = time.Hour
	fetcher := NewResponseFetcher(
		ResponseFetcherDeps{Jitter: func(time.Duration) time.Duration { return time.Second }},
		cfg,
		"",
		local.Eng,
	)

	previous := time.Duration(0)
	for attempt := 1; attempt <= 100; attempt++ {
		delay := fetcher.backoff(attempt)
		assert.Positive(t, delay, "attempt %d", attempt)
		assert.GreaterOrEqual(t, delay, previous, "attempt %d", attempt)
		previous = delay
	}
}

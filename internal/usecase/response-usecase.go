package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
	"github.com/iamvkosarev/persona-chat/pkg/datauri"
	"github.com/iamvkosarev/persona-chat/pkg/local"
	"golang.org/x/time/rate"
)

const maxBackoffShift = config.MaxRetries

var (
	quotaMarkers      = []string{"429", "RESOURCE_EXHAUSTED", "quota"}
	serverMarkers     = []string{"500", "503", "overloaded"}
	permissionMarkers = []string{"403", "PERMISSION_DENIED", "does not have permission"}
)

// Turn is one settled history entry sent as context.
type Turn struct {
	Role model.Role
	Text string
}

type GenerateRequest struct {
	Model             string
	SystemInstruction string
	History           []Turn
	Prompt            string
	Image             *datauri.Image
}

// Generator performs a single generation attempt against the remote API.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// FetchError is a terminal fetch failure tagged with its classified kind.
type FetchError struct {
	Type     model.ErrorType
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch response failed (%s) after %d attempts: %v", e.Type, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrorTypeOf returns the classified kind carried by err, UNKNOWN when err
// is not a FetchError.
func ErrorTypeOf(err error) model.ErrorType {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Type
	}
	return model.ErrorTypeUnknown
}

// IsTransient reports whether err signals quota exhaustion or a server side
// failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, quotaMarkers) || containsAny(msg, serverMarkers)
}

// Classify maps the text of err onto the error taxonomy.
func Classify(err error) model.ErrorType {
	if err == nil {
		return model.ErrorTypeUnknown
	}
	msg := err.Error()
	switch {
	case containsAny(msg, permissionMarkers):
		return model.ErrorTypePermissionDenied
	case containsAny(msg, quotaMarkers):
		return model.ErrorTypeQuotaExceeded
	default:
		return model.ErrorTypeUnknown
	}
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// HistoryTurns converts a history into request context, skipping loading
// placeholders, error markers and welcome messages.
func HistoryTurns(messages []model.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, message := range messages {
		if message.Error || !message.IsSettled() || message.IsWelcome() {
			continue
		}
		turns = append(turns, Turn{Role: message.Role, Text: message.Text})
	}
	return turns
}

type ResponseFetcherDeps struct {
	Generator Generator
	Logger    *slog.Logger
	// Limiter paces attempts when set.
	Limiter *rate.Limiter
	Sleep   func(ctx context.Context, d time.Duration) error
	Jitter  func(limit time.Duration) time.Duration
}

type ResponseFetcher struct {
	ResponseFetcherDeps
	cfg          config.Retry
	defaultModel string
	language     local.Language
}

func NewResponseFetcher(
	deps ResponseFetcherDeps,
	cfg config.Retry,
	defaultModel string,
	language local.Language,
) *ResponseFetcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.Jitter == nil {
		deps.Jitter = randomJitter
	}
	return &ResponseFetcher{
		ResponseFetcherDeps: deps,
		cfg:                 cfg,
		defaultModel:        defaultModel,
		language:            language,
	}
}

// FetchResponse generates a reply from modelID's persona. Transient failures
// are retried up to cfg.MaxRetries times with exponential backoff; terminal
// failures are returned as *FetchError.
func (f *ResponseFetcher) FetchResponse(
	ctx context.Context,
	modelID model.ModelID,
	prompt string,
	history []Turn,
	image string,
) (string, error) {
	persona, ok := model.FindPersona(modelID)
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrUnknownModel, modelID)
	}

	req := GenerateRequest{
		Model:             persona.APIModel(f.defaultModel),
		SystemInstruction: persona.SystemPrompt,
		History:           history,
		Prompt:            prompt,
	}
	if image != "" {
		img, err := datauri.Parse(image)
		if err != nil {
			f.Logger.Warn("dropping malformed image attachment", "model", modelID, "error", err)
		} else {
			req.Image = &img
		}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoff(attempt)
			f.Logger.Warn(
				"generation attempt failed, retrying",
				"model", modelID,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := f.Sleep(ctx, delay); err != nil {
				return "", f.fail(modelID, attempts, fmt.Errorf("%w: %w", err, lastErr), lastErr)
			}
		}
		if f.Limiter != nil {
			if err := f.Limiter.Wait(ctx); err != nil {
				return "", f.fail(modelID, attempts, err, lastErr)
			}
		}

		attempts++
		text, err := f.Generator.Generate(ctx, req)
		if err == nil {
			if text == "" {
				text = local.EmptyReply.Text(f.language)
			}
			return text, nil
		}
		lastErr = err
		if !IsTransient(err) {
			break
		}
	}

	return "", f.fail(modelID, attempts, lastErr, lastErr)
}

// backoff is the delay before retry attempt (1-based): BaseDelay doubled per
// attempt plus jitter below MaxJitter. The doubling stops at maxBackoffShift
// and the delay saturates instead of overflowing.
func (f *ResponseFetcher) backoff(attempt int) time.Duration {
	shift := min(max(attempt-1, 0), maxBackoffShift)
	delay := time.Duration(math.MaxInt64)
	if f.cfg.BaseDelay <= delay>>shift {
		delay = f.cfg.BaseDelay << shift
	}
	jitter := f.Jitter(f.cfg.MaxJitter)
	if delay > time.Duration(math.MaxInt64)-jitter {
		return time.Duration(math.MaxInt64)
	}
	return delay + jitter
}

func (f *ResponseFetcher) fail(modelID model.ModelID, attempts int, err, cause error) error {
	fetchErr := &FetchError{
		Type:     Classify(cause),
		Attempts: attempts,
		Err:      err,
	}
	f.Logger.Error(
		"failed to fetch response",
		"model", modelID,
		"attempts", attempts,
		"error_type", fetchErr.Type,
		"error", err,
	)
	return fetchErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

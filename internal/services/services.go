package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/metrics"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/store"
	"chatrelay-backend/internal/tagsplit"
)

var (
	// ErrEmptyResult is returned when the model finished without usable answer text.
	ErrEmptyResult = errors.New("model returned an empty response")
	// ErrNotAssistant is returned when regenerate or continue targets a non-assistant slot.
	ErrNotAssistant = errors.New("only assistant messages can be regenerated or continued")
	// ErrValidation wraps request validation failures.
	ErrValidation = errors.New("validation failed")
)

// continueHint is appended as a user turn when continuing an assistant slot.
const continueHint = "Continue from where you stopped. Output only the continuation (no preface, no repetition)."

var streamedMetadata = json.RawMessage(`{"streamed":true}`)

// Streamer runs one streamed completion. Implemented by *relay.Relay.
type Streamer interface {
	Stream(ctx context.Context, req relay.Request, sink relay.Sink) (*relay.Result, error)
}

// Completer runs one blocking completion. Implemented by *llm.Client.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error)
}

// TitleGenerator names a conversation from its first exchange. Implemented by *llm.Client.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, model, userText, assistantText string) (string, error)
}

// Defaults apply when a request leaves a knob unset.
type Defaults struct {
	Model           string
	Temperature     float64
	SystemPrompt    string
	TitleGeneration bool
}

// Backend bundles the model-facing collaborators shared by the chat and
// variant services. Titles may be nil.
type Backend struct {
	Relay     Streamer
	Completer Completer
	Titles    TitleGenerator
	Defaults  Defaults
}

// Options are the per-request overrides of a model operation.
type Options struct {
	// StreamID is announced in the meta event so the caller can abort.
	StreamID    string
	Model       string
	Temperature *float64
}

func (b Backend) model(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return b.Defaults.Model
}

func (b Backend) temperature(opts Options) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return b.Defaults.Temperature
}

func toChatMessages(entries []models.ContextEntry) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, llm.ChatMessage{Role: string(e.Role), Content: e.Content})
	}
	return out
}

// splitCompletion separates in-band reasoning from a blocking completion.
// Provider-supplied reasoning comes first.
func splitCompletion(c *llm.Completion) (content string, reasoning *string) {
	content, inband := tagsplit.Split(c.Content)
	parts := make([]string, 0, 2)
	for _, r := range []string{c.Reasoning, inband} {
		if r = strings.TrimSpace(r); r != "" {
			parts = append(parts, r)
		}
	}
	return strings.TrimSpace(content), optional(strings.Join(parts, "\n"))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func emit(logger zerolog.Logger, sink relay.Sink, event string, data any) {
	if err := sink.Send(event, data); err != nil {
		logger.Debug().Err(err).Str("event", event).Msg("downstream write failed")
	}
}

// errorEvent converts a service failure into the terminal error event.
func errorEvent(err error) relay.ErrorPayload {
	switch {
	case errors.Is(err, ErrEmptyResult):
		return relay.ErrorPayload{Message: "Empty response from model"}
	case errors.Is(err, ErrNotAssistant):
		return relay.ErrorPayload{Message: err.Error(), Status: 400}
	case errors.Is(err, store.ErrNotFound):
		return relay.ErrorPayload{Message: "Not found", Status: 404}
	default:
		return relay.ErrorPayload{Message: "Internal server error", Status: 500}
	}
}

// --- Operation lifecycle ---

type opState string

const (
	stateRequested       opState = "requested"
	stateContextResolved opState = "context_resolved"
	stateStreaming       opState = "streaming"
	stateCommitted       opState = "committed"
	stateRejected        opState = "rejected"
	stateAborted         opState = "aborted"
	stateFailed          opState = "failed"
)

// operation tracks one chat, regenerate or continue run through
// Requested, ContextResolved, Streaming and one terminal state.
type operation struct {
	name    string
	state   opState
	started time.Time
	logger  zerolog.Logger
}

func newOperation(name string, logger zerolog.Logger) *operation {
	return &operation{name: name, state: stateRequested, started: time.Now(), logger: logger}
}

func (o *operation) enter(s opState) {
	o.logger.Debug().Str("from", string(o.state)).Str("to", string(s)).Msg("operation state")
	o.state = s
	switch s {
	case stateCommitted, stateRejected, stateAborted, stateFailed:
		metrics.StreamsTotal.WithLabelValues(o.name, string(s)).Inc()
		metrics.StreamDuration.WithLabelValues(o.name).Observe(time.Since(o.started).Seconds())
	}
}

// fail moves the operation to the terminal state matching err.
func (o *operation) fail(err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		o.enter(stateAborted)
	case errors.Is(err, ErrEmptyResult):
		o.enter(stateRejected)
	default:
		o.logger.Warn().Err(err).Str("state", string(o.state)).Msg("operation failed")
		o.enter(stateFailed)
	}
}

// Package relay drives one streamed upstream completion and re-emits it as
// normalized downstream events, with in-band reasoning split out.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/metrics"
	"chatrelay-backend/internal/tagsplit"
)

var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamMalformed   = errors.New("malformed upstream frame")
)

const readChunkSize = 4096

// Upstream opens a streamed completion. Implemented by *llm.Client.
type Upstream interface {
	OpenStream(ctx context.Context, req llm.CompletionRequest) (io.ReadCloser, error)
}

// Extractor pulls delta text out of one upstream payload.
type Extractor interface {
	Extract(payload []byte) (llm.Delta, error)
}

// Request describes one relay run.
type Request struct {
	Model       string
	Temperature float64
	Messages    []llm.ChatMessage
}

// Result holds the text accumulated over a successful run.
type Result struct {
	Content         string
	Reasoning       string
	MalformedFrames int
}

// Relay is safe for concurrent use; all per-stream state lives in Stream.
type Relay struct {
	upstream  Upstream
	extractor Extractor
	logger    zerolog.Logger
}

func New(upstream Upstream, extractor Extractor, logger zerolog.Logger) *Relay {
	return &Relay{
		upstream:  upstream,
		extractor: extractor,
		logger:    logger.With().Str("component", "relay").Logger(),
	}
}

// Stream runs the request and forwards delta, reasoning_delta and done events
// to sink. It blocks until the upstream finishes, fails, or ctx is cancelled.
//
// Cancellation returns ctx.Err() without emitting anything further. An
// upstream failure emits exactly one error event and returns an error
// wrapping ErrUpstreamUnavailable. A sink write failure is treated as the
// caller going away and cancels the run.
func (r *Relay) Stream(ctx context.Context, req Request, sink Sink) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &stream{
		ctx:      ctx,
		cancel:   cancel,
		sink:     sink,
		splitter: tagsplit.New(),
		logger:   r.logger,
	}

	body, err := r.upstream.OpenStream(ctx, llm.CompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		Messages:    req.Messages,
		Stream:      true,
	})
	if err != nil {
		return nil, run.fail(err)
	}
	defer body.Close()

	var dec frameDecoder
	buf := make([]byte, readChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range dec.push(buf[:n]) {
				if run.frame(r.extractor, frame) {
					return run.finish()
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if readErr == io.EOF {
			run.frame(r.extractor, dec.rest())
			return run.finish()
		}
		if readErr != nil {
			return nil, run.fail(readErr)
		}
	}
}

// stream is the task-local state of one relay run.
type stream struct {
	ctx      context.Context
	cancel   context.CancelFunc
	sink     Sink
	splitter *tagsplit.Splitter
	logger   zerolog.Logger

	content   strings.Builder
	reasoning strings.Builder
	malformed int
	closed    bool
}

// frame handles every payload in one frame and reports whether the done
// sentinel was seen.
func (s *stream) frame(ex Extractor, frame string) bool {
	for _, p := range payloads(frame) {
		if s.ctx.Err() != nil {
			return false
		}
		if p == doneSentinel {
			return true
		}
		delta, err := ex.Extract([]byte(p))
		if err != nil {
			s.malformed++
			metrics.MalformedFrames.Inc()
			s.logger.Debug().Err(fmt.Errorf("%w: %v", ErrUpstreamMalformed, err)).Str("payload", truncate(p, 256)).Msg("skipping frame")
			continue
		}
		if delta.Reasoning != "" {
			s.reasoning.WriteString(delta.Reasoning)
			s.send(EventReasoningDelta, TextPayload{Text: delta.Reasoning})
		}
		if delta.Content != "" {
			s.spans(s.splitter.Feed(delta.Content))
		}
	}
	return false
}

func (s *stream) spans(spans []tagsplit.Span) {
	for _, sp := range spans {
		if sp.Channel == tagsplit.Reasoning {
			s.reasoning.WriteString(sp.Text)
			s.send(EventReasoningDelta, TextPayload{Text: sp.Text})
		} else {
			s.content.WriteString(sp.Text)
			s.send(EventDelta, TextPayload{Text: sp.Text})
		}
	}
}

func (s *stream) finish() (*Result, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	s.spans(s.splitter.Flush())
	s.send(EventDone, Empty{})
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Content:         s.content.String(),
		Reasoning:       s.reasoning.String(),
		MalformedFrames: s.malformed,
	}, nil
}

// fail converts an upstream error into the single error event, unless the
// failure was caused by cancellation.
func (s *stream) fail(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	payload := ErrorPayload{Message: "Upstream stream failed"}
	var se *llm.StatusError
	if errors.As(err, &se) {
		payload.Status = se.StatusCode
		payload.Details = truncate(se.Body, 2048)
		metrics.UpstreamErrors.WithLabelValues("status").Inc()
	} else {
		payload.Details = err.Error()
		metrics.UpstreamErrors.WithLabelValues("network").Inc()
	}
	s.logger.Warn().Err(err).Int("status", payload.Status).Msg("upstream stream failed")
	s.send(EventError, payload)
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

func (s *stream) send(event string, data any) {
	if s.closed || s.ctx.Err() != nil {
		return
	}
	if err := s.sink.Send(event, data); err != nil {
		s.logger.Debug().Err(err).Str("event", event).Msg("downstream write failed, cancelling")
		s.closed = true
		s.cancel()
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

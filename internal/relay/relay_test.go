package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chatrelay-backend/internal/llm"
)

type recorded struct {
	Event string
	Data  any
}

type recordingSink struct {
	mu     sync.Mutex
	events []recorded
	onSend func(event string)
	err    error
}

func (s *recordingSink) Send(event string, data any) error {
	s.mu.Lock()
	s.events = append(s.events, recorded{event, data})
	hook, err := s.onSend, s.err
	s.mu.Unlock()
	if hook != nil {
		hook(event)
	}
	return err
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Event)
	}
	return out
}

func (s *recordingSink) text(event string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, e := range s.events {
		if e.Event == event {
			b.WriteString(e.Data.(TextPayload).Text)
		}
	}
	return b.String()
}

func deltaFrame(content, reasoning string) string {
	var fields []string
	if content != "" {
		fields = append(fields, fmt.Sprintf(`"content":%q`, content))
	}
	if reasoning != "" {
		fields = append(fields, fmt.Sprintf(`"reasoning":%q`, reasoning))
	}
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{%s}}]}\n\n", strings.Join(fields, ","))
}

// chunkedUpstream serves the given raw chunks, flushing after each.
func chunkedUpstream(t *testing.T, chunks ...string) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			f.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return llm.NewClient(llm.Config{BaseURL: srv.URL}, nil, zerolog.Nop())
}

func newRelay(up Upstream) *Relay {
	return New(up, llm.NewExtractor(llm.DefaultExtractionTable()), zerolog.Nop())
}

func TestStream_SplitsMarkerAcrossChunks(t *testing.T) {
	up := chunkedUpstream(t,
		deltaFrame("<thi", ""),
		deltaFrame("nk>a</think>Hello", ""),
		"data: [DONE]\n\n",
	)
	sink := &recordingSink{}

	res, err := newRelay(up).Stream(context.Background(), Request{Model: "m"}, sink)
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Content)
	assert.Equal(t, "a", res.Reasoning)
	assert.Equal(t, "Hello", sink.text(EventDelta))
	assert.Equal(t, "a", sink.text(EventReasoningDelta))
	assert.Equal(t, []string{EventReasoningDelta, EventDelta, EventDone}, sink.names())
}

func TestStream_FramesSplitMidLineAndCRLF(t *testing.T) {
	frame := strings.ReplaceAll(deltaFrame("Hi there", ""), "\n", "\r\n")
	up := chunkedUpstream(t, frame[:7], frame[7:len(frame)-1], frame[len(frame)-1:], "data: [DONE]\r\n\r\n")
	sink := &recordingSink{}

	res, err := newRelay(up).Stream(context.Background(), Request{}, sink)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Content)
	assert.Equal(t, []string{EventDelta, EventDone}, sink.names())
}

func TestStream_ProviderReasoningForwardedFirst(t *testing.T) {
	up := chunkedUpstream(t, deltaFrame("answer", "thinking"), "data: [DONE]\n\n")
	sink := &recordingSink{}

	res, err := newRelay(up).Stream(context.Background(), Request{}, sink)
	require.NoError(t, err)
	assert.Equal(t, "thinking", res.Reasoning)
	assert.Equal(t, []string{EventReasoningDelta, EventDelta, EventDone}, sink.names())
}

func TestStream_SkipsMalformedFrames(t *testing.T) {
	up := chunkedUpstream(t,
		deltaFrame("one ", ""),
		"data: {not json\n\n",
		": keep-alive comment\n\n",
		deltaFrame("two", ""),
		"data: [DONE]\n\n",
	)
	sink := &recordingSink{}

	res, err := newRelay(up).Stream(context.Background(), Request{}, sink)
	require.NoError(t, err)
	assert.Equal(t, "one two", res.Content)
	assert.Equal(t, 1, res.MalformedFrames)
	assert.NotContains(t, sink.names(), EventError)
}

func TestStream_TrailingFrameAndCarryFlushedAtEOF(t *testing.T) {
	// No terminating blank line and no sentinel.
	up := chunkedUpstream(t, deltaFrame("kept <thi", ""), strings.TrimSuffix(deltaFrame("n", ""), "\n\n"))
	sink := &recordingSink{}

	res, err := newRelay(up).Stream(context.Background(), Request{}, sink)
	require.NoError(t, err)
	assert.Equal(t, "kept <thin", res.Content)
	assert.Equal(t, EventDone, sink.names()[len(sink.names())-1])
}

func TestStream_StopsAtDoneSentinel(t *testing.T) {
	up := chunkedUpstream(t, deltaFrame("a", ""), "data: [DONE]\n\n", deltaFrame("ignored", ""))
	sink := &recordingSink{}

	res, err := newRelay(up).Stream(context.Background(), Request{}, sink)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Content)
}

func TestStream_UpstreamStatusEmitsSingleError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no model loaded", http.StatusBadGateway)
	}))
	defer srv.Close()
	sink := &recordingSink{}

	_, err := newRelay(llm.NewClient(llm.Config{BaseURL: srv.URL}, nil, zerolog.Nop())).Stream(context.Background(), Request{}, sink)
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	require.Equal(t, []string{EventError}, sink.names())
	payload := sink.events[0].Data.(ErrorPayload)
	assert.Equal(t, http.StatusBadGateway, payload.Status)
	assert.Contains(t, payload.Details, "no model loaded")
}

func TestStream_NetworkErrorEmitsSingleError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	sink := &recordingSink{}

	_, err := newRelay(llm.NewClient(llm.Config{BaseURL: srv.URL}, nil, zerolog.Nop())).Stream(context.Background(), Request{}, sink)
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, []string{EventError}, sink.names())
}

// pipeUpstream hands the test the writing end of the response body.
type pipeUpstream struct {
	w      *io.PipeWriter
	opened chan struct{}
}

func newPipeUpstream() (*pipeUpstream, *io.PipeReader) {
	r, w := io.Pipe()
	return &pipeUpstream{w: w, opened: make(chan struct{})}, r
}

type pipeOpener struct {
	up *pipeUpstream
	r  *io.PipeReader
}

func (o *pipeOpener) OpenStream(ctx context.Context, _ llm.CompletionRequest) (io.ReadCloser, error) {
	// Mirror net/http: cancelling the request context breaks the body read.
	go func() {
		<-ctx.Done()
		o.r.CloseWithError(ctx.Err())
	}()
	close(o.up.opened)
	return o.r, nil
}

func TestStream_CancelAfterFirstDeltaIsSilent(t *testing.T) {
	defer goleak.VerifyNone(t)

	up, r := newPipeUpstream()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{onSend: func(event string) {
		if event == EventDelta {
			cancel()
		}
	}}

	done := make(chan error, 1)
	go func() {
		_, err := newRelay(&pipeOpener{up: up, r: r}).Stream(ctx, Request{}, sink)
		done <- err
	}()

	<-up.opened
	_, _ = io.WriteString(up.w, deltaFrame("partial", ""))
	// The relay may already have stopped reading; ignore the write result.
	go func() { _, _ = io.WriteString(up.w, deltaFrame(" more", "")) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
	assert.Equal(t, []string{EventDelta}, sink.names())
	up.w.Close()
}

func TestStream_SinkFailureCancels(t *testing.T) {
	up := chunkedUpstream(t, deltaFrame("a", ""), deltaFrame("b", ""), "data: [DONE]\n\n")
	sink := &recordingSink{err: errors.New("broken pipe")}

	_, err := newRelay(up).Stream(context.Background(), Request{}, sink)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{EventDelta}, sink.names())
}

func TestFrameDecoder(t *testing.T) {
	var d frameDecoder
	assert.Nil(t, d.push([]byte("data: a\r")))
	assert.Equal(t, []string{"data: a"}, d.push([]byte("\n\r\n")))
	assert.Equal(t, []string{"data: b", "data: c"}, d.push([]byte("data: b\n\ndata: c\n\ndata: d")))
	assert.Equal(t, "data: d", d.rest())
	assert.Equal(t, []string{"x", "[DONE]"}, payloads("event: message\ndata: x\n : c\ndata:[DONE]"))
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc…"},
		{"aé", 2, "a…"},
		{"日本語", 4, "日…"},
		{"日本語", 1, "…"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		assert.Equal(t, tt.want, got, "truncate(%q, %d)", tt.in, tt.n)
		assert.True(t, utf8.ValidString(got))
	}
}

package relay

// Event names on the downstream stream.
const (
	EventMeta           = "meta"
	EventDelta          = "delta"
	EventReasoningDelta = "reasoning_delta"
	EventDone           = "done"
	EventTitle          = "title"
	EventFinal          = "final"
	EventError          = "error"
)

// Sink accepts named events. Implementations serialize data as JSON.
type Sink interface {
	Send(event string, data any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event string, data any) error

func (f SinkFunc) Send(event string, data any) error { return f(event, data) }

// TextPayload carries one delta of answer or reasoning text.
type TextPayload struct {
	Text string `json:"text"`
}

// ErrorPayload is sent once when a stream fails.
type ErrorPayload struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
	Details string `json:"details,omitempty"`
}

// Empty is the payload of done.
type Empty struct{}

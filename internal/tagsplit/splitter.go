// Package tagsplit separates in-band reasoning from answer text in a streamed
// completion. Reasoning is delimited by an opening and closing marker that may
// be cut at any chunk boundary.
package tagsplit

import "strings"

// Default markers emitted by reasoning models served over OpenAI-compatible APIs.
const (
	OpenMarker  = "<think>"
	CloseMarker = "</think>"
)

// Channel identifies which output stream a span belongs to.
type Channel int

const (
	Content Channel = iota
	Reasoning
)

func (c Channel) String() string {
	if c == Reasoning {
		return "reasoning"
	}
	return "content"
}

// Span is one recognized run of text on a single channel.
type Span struct {
	Channel Channel
	Text    string
}

// Splitter is a stateful demultiplexer for one stream. It is not safe for
// concurrent use; each relay owns its own instance.
type Splitter struct {
	open  string
	close string
	mode  Channel
	carry string
}

// New returns a Splitter using the default think markers.
func New() *Splitter {
	return NewWithMarkers(OpenMarker, CloseMarker)
}

// NewWithMarkers returns a Splitter for a custom marker pair. Both markers
// must be non-empty.
func NewWithMarkers(open, close string) *Splitter {
	if open == "" || close == "" {
		panic("tagsplit: markers must not be empty")
	}
	return &Splitter{open: open, close: close, mode: Content}
}

// Mode reports the channel that text will be routed to next.
func (s *Splitter) Mode() Channel {
	return s.mode
}

// Feed consumes one chunk and returns the spans it made unambiguous, in source
// order. Text that could still turn out to be the start of a marker is held
// back until the next Feed or Flush.
//
// Inside a reasoning region only the closing marker is recognized, so a
// nested opening marker is kept as literal reasoning text.
func (s *Splitter) Feed(chunk string) []Span {
	buf := s.carry + chunk
	s.carry = ""

	var out []Span
	for buf != "" {
		marker := s.open
		if s.mode == Reasoning {
			marker = s.close
		}

		if i := strings.Index(buf, marker); i >= 0 {
			out = appendSpan(out, s.mode, buf[:i])
			buf = buf[i+len(marker):]
			s.toggle()
			continue
		}

		held := partialSuffix(buf, marker)
		out = appendSpan(out, s.mode, buf[:len(buf)-held])
		s.carry = buf[len(buf)-held:]
		break
	}
	return out
}

// Flush emits any held-back text under the current mode. A stream that ends
// in the middle of a marker keeps its text.
func (s *Splitter) Flush() []Span {
	if s.carry == "" {
		return nil
	}
	out := []Span{{Channel: s.mode, Text: s.carry}}
	s.carry = ""
	return out
}

func (s *Splitter) toggle() {
	if s.mode == Content {
		s.mode = Reasoning
	} else {
		s.mode = Content
	}
}

// appendSpan drops empty text and coalesces with a preceding span on the same channel.
func appendSpan(spans []Span, ch Channel, text string) []Span {
	if text == "" {
		return spans
	}
	if n := len(spans); n > 0 && spans[n-1].Channel == ch {
		spans[n-1].Text += text
		return spans
	}
	return append(spans, Span{Channel: ch, Text: text})
}

// partialSuffix returns the length of the longest suffix of s that is a strict
// prefix of marker.
func partialSuffix(s, marker string) int {
	for n := min(len(marker)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}

// Split runs a complete text through a fresh Splitter and returns the joined
// content and reasoning.
func Split(text string) (content, reasoning string) {
	s := New()
	spans := append(s.Feed(text), s.Flush()...)
	return Join(spans)
}

// Join concatenates spans per channel.
func Join(spans []Span) (content, reasoning string) {
	var c, r strings.Builder
	for _, sp := range spans {
		if sp.Channel == Reasoning {
			r.WriteString(sp.Text)
		} else {
			c.WriteString(sp.Text)
		}
	}
	return c.String(), r.String()
}

// Coalesce merges adjacent spans that share a channel. Feeding the same text
// in different chunkings yields the same coalesced sequence.
func Coalesce(spans []Span) []Span {
	var out []Span
	for _, sp := range spans {
		out = appendSpan(out, sp.Channel, sp.Text)
	}
	return out
}

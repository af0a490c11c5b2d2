package relay

import (
	"bytes"
	"strings"
)

// doneSentinel marks the end of an upstream stream.
const doneSentinel = "[DONE]"

// frameDecoder buffers upstream bytes and cuts them into blank-line delimited
// frames. Carriage returns are dropped on the way in, so CRLF framing and a
// CRLF pair split across reads are handled the same as LF.
type frameDecoder struct {
	buf []byte
}

// push appends data and returns every frame it completed.
func (d *frameDecoder) push(data []byte) []string {
	for _, b := range data {
		if b != '\r' {
			d.buf = append(d.buf, b)
		}
	}

	var frames []string
	for {
		i := bytes.Index(d.buf, []byte("\n\n"))
		if i < 0 {
			break
		}
		frames = append(frames, string(d.buf[:i]))
		d.buf = d.buf[i+2:]
	}
	return frames
}

// rest returns the unterminated tail left at end of stream.
func (d *frameDecoder) rest() string {
	s := string(d.buf)
	d.buf = nil
	return s
}

// payloads returns the data of each "data:" line in a frame. Comments and
// other fields are ignored.
func payloads(frame string) []string {
	var out []string
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		if p := strings.TrimSpace(strings.TrimPrefix(line, "data:")); p != "" {
			out = append(out, p)
		}
	}
	return out
}

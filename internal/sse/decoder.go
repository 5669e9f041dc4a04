// Package sse decodes server-sent event streams into discrete frames. The
// decoder tolerates arbitrary byte-boundary splits of its input and can be
// handed a new reader at any blank-line frame boundary, which the durability
// layer relies on when resuming an interrupted stream.
package sse

import (
	"bufio"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capra-ai/capra/internal/platform/logger"
)

// DoneSentinel is the data payload some providers send to mark end of stream.
const DoneSentinel = "[DONE]"

const readerBufferSize = 64 * 1024

// Event is one decoded SSE frame.
type Event struct {
	Name string
	ID   string
	Data string
}

// Done reports whether the frame is the terminal sentinel.
func (e Event) Done() bool {
	return e.Data == DoneSentinel
}

// Decoder reads frames from a byte stream. It keeps no state across frames
// beyond the buffered reader, so a decoder may be rebuilt over a fresh
// reader whenever the previous one stopped at a frame boundary.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r. The reader is consumed as frames are requested.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, readerBufferSize)}
}

// Next returns the next complete frame. It returns io.EOF once the stream
// is exhausted. A trailing frame that was never terminated by a blank line
// is still returned before EOF. Malformed frames are skipped, never fatal.
func (d *Decoder) Next() (Event, error) {
	for {
		ev, err := d.readFrame()
		if err == errSkip {
			continue
		}
		return ev, err
	}
}

// errSkip signals a frame that decoded to nothing useful.
var errSkip = io.ErrNoProgress

func (d *Decoder) readFrame() (Event, error) {
	var ev Event
	var data []string
	sawField := false

	for {
		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return Event{}, err
		}
		atEOF := err == io.EOF

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if sawField {
				break
			}
			if atEOF {
				return Event{}, io.EOF
			}
			// Blank line with no pending frame: keep reading.
			continue
		}

		if strings.HasPrefix(line, ":") {
			// Comment, commonly used as a keepalive.
			if atEOF {
				break
			}
			continue
		}

		field, value := splitField(line)
		switch field {
		case "data":
			data = append(data, value)
			sawField = true
		case "event":
			ev.Name = value
			sawField = true
		case "id":
			ev.ID = value
			sawField = true
		case "retry":
			// Reconnection hints are the transport's concern, not ours.
		default:
			logger.Debug("sse: ignoring unknown field", zap.String("field", field))
		}

		if atEOF {
			break
		}
	}

	if !sawField {
		return Event{}, io.EOF
	}
	ev.Data = strings.Join(data, "\n")
	if !utf8.ValidString(ev.Data) {
		logger.Debug("sse: skipping frame with invalid UTF-8 payload")
		return Event{}, errSkip
	}
	return ev, nil
}

// splitField separates "field: value", trimming the single optional space
// after the colon per the SSE grammar.
func splitField(line string) (string, string) {
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}

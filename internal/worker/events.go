package worker

import (
	"bytes"
	"io"

	"github.com/tidwall/gjson"
)

// Event kinds on the worker's stream-json stdout.
const (
	kindToolStart = "tool_start"
	kindToolEnd   = "tool_end"
	kindMessage   = "message"
	kindResult    = "result"
)

const argsPreviewMax = 80

// event is one parsed record from the worker's event stream.
type event struct {
	kind        string
	tool        string
	argsPreview string
	role        string
	texts       []string
	isError     bool
	model       string
	errMsg      string
	inputTokens int64
	outputTokens int64
	cacheTokens int64
	costUSD     float64
	sessionFile string
	durationMs  int64
}

// eventScanner incrementally reads newline-delimited JSON events from a
// worker's stdout. Partial lines are buffered until their newline arrives;
// non-JSON lines are skipped. The raw stream is retained for the event-log
// artifact.
type eventScanner struct {
	r    io.Reader
	buf  []byte
	raw  bytes.Buffer
	done bool
}

func newEventScanner(r io.Reader) *eventScanner {
	return &eventScanner{r: r}
}

// Raw returns everything read so far, for artifact capture.
func (s *eventScanner) Raw() []byte {
	return s.raw.Bytes()
}

// Next yields the next complete parsed event, blocking on the underlying
// reader as needed. It returns ok=false once the stream is exhausted.
func (s *eventScanner) Next() (event, bool) {
	for {
		if line, ok := s.takeLine(); ok {
			ev, ok := parseEvent(line)
			if !ok {
				continue
			}
			return ev, true
		}
		if s.done {
			// Flush a trailing line without a newline.
			if len(s.buf) > 0 {
				line := string(s.buf)
				s.buf = nil
				if ev, ok := parseEvent(line); ok {
					return ev, true
				}
			}
			return event{}, false
		}

		chunk := make([]byte, 4096)
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.raw.Write(chunk[:n])
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			s.done = true
		}
	}
}

func (s *eventScanner) takeLine() (string, bool) {
	idx := bytes.IndexByte(s.buf, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(s.buf[:idx])
	s.buf = s.buf[idx+1:]
	return line, true
}

// parseEvent decodes one stream line. Unknown or malformed lines are dropped.
func parseEvent(line string) (event, bool) {
	if !gjson.Valid(line) {
		return event{}, false
	}

	kind := gjson.Get(line, "type").String()
	switch kind {
	case kindToolStart:
		return event{
			kind:        kindToolStart,
			tool:        gjson.Get(line, "tool").String(),
			argsPreview: previewArgs(gjson.Get(line, "input")),
		}, true

	case kindToolEnd:
		return event{
			kind: kindToolEnd,
			tool: gjson.Get(line, "tool").String(),
		}, true

	case kindMessage:
		ev := event{
			kind:    kindMessage,
			role:    gjson.Get(line, "role").String(),
			tool:    gjson.Get(line, "tool").String(),
			isError: gjson.Get(line, "is_error").Bool(),
			model:   gjson.Get(line, "model").String(),
			errMsg:  gjson.Get(line, "error").String(),
		}
		gjson.Get(line, "content").ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() == "text" {
				ev.texts = append(ev.texts, item.Get("text").String())
			}
			return true
		})
		if usage := gjson.Get(line, "usage"); usage.Exists() {
			ev.inputTokens = usage.Get("input_tokens").Int()
			ev.outputTokens = usage.Get("output_tokens").Int()
			ev.cacheTokens = usage.Get("cache_read_tokens").Int()
			ev.costUSD = usage.Get("cost_usd").Float()
		}
		return ev, true

	case kindResult:
		return event{
			kind:        kindResult,
			sessionFile: gjson.Get(line, "session_file").String(),
			durationMs:  gjson.Get(line, "duration_ms").Int(),
			costUSD:     gjson.Get(line, "total_cost_usd").Float(),
		}, true
	}

	return event{}, false
}

// previewArgs renders a short single-line preview of a tool's input.
func previewArgs(input gjson.Result) string {
	if !input.Exists() {
		return ""
	}
	// Prefer the most recognizable field.
	for _, key := range []string{"command", "description", "file_path", "pattern", "url"} {
		if v := input.Get(key); v.Exists() {
			return clipPreview(v.String())
		}
	}
	return clipPreview(input.Raw)
}

func clipPreview(s string) string {
	s = oneLine(s)
	if len(s) > argsPreviewMax {
		return s[:argsPreviewMax] + "..."
	}
	return s
}

func oneLine(s string) string {
	if idx := bytes.IndexByte([]byte(s), '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

package upstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/nextlane/antigw/internal/geminiapi"
)

// doneMarker is the literal SSE terminator line upstream emits, matching
// the `data: [DONE]` OpenAI-style sentinel.
const doneMarker = "[DONE]"

// Stream parses the upstream SSE body line-by-line, unwrapping each
// `data: {...}` frame's envelope and stopping on the literal `data: [DONE]`
// line, exposing a typed chunk iterator the dialect translators consume.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
	err     error
}

func newStream(body io.ReadCloser) *Stream {
	return &Stream{body: body, scanner: bufio.NewScanner(body)}
}

// Next returns the next unwrapped response chunk, or (nil, false) when the
// stream has ended (either via [DONE] or EOF). Call Err after a false
// return to distinguish a clean end from a read/parse failure.
func (s *Stream) Next() (*geminiapi.InternalResponse, bool) {
	if s.done {
		return nil, false
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if string(data) == doneMarker {
			s.done = true
			return nil, false
		}
		var wrapper envelopeResponseWrapper
		if err := json.Unmarshal(data, &wrapper); err != nil {
			s.err = err
			s.done = true
			return nil, false
		}
		return &wrapper.Response, true
	}
	if err := s.scanner.Err(); err != nil {
		s.err = err
	}
	s.done = true
	return nil, false
}

// Err reports a parse or transport failure encountered mid-stream. Returns
// nil after a clean [DONE]/EOF termination.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying response body. Safe to call multiple
// times; callers should defer it right after a successful StreamGenerate.
func (s *Stream) Close() error { return s.body.Close() }

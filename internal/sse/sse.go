// Package sse decodes the line-oriented event feeds vendors use for
// streamed chat completions.
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"unichat/internal/models"
)

const (
	dataPrefix = "data:"
	// DoneSentinel terminates a stream.
	DoneSentinel = "[DONE]"

	initialBufferSize = 64 * 1024
	maxLineSize       = 1024 * 1024
)

// Decoder yields the payload bodies of data lines.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufferSize), maxLineSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next payload with the data prefix removed and
// surrounding whitespace trimmed. Blank lines and framing lines such as
// "event:" or ":" comments are skipped. It returns io.EOF at end of input.
func (d *Decoder) Next() (string, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}
		return strings.TrimSpace(payload), nil
	}
	if err := d.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// ExtractFunc pulls the incremental text out of one decoded chunk.
type ExtractFunc func(chunk map[string]any) string

// EventStream turns an SSE response body into unified stream events.
// It reads only as far as the consumer asks.
type EventStream struct {
	body     io.ReadCloser
	decoder  *Decoder
	extract  ExtractFunc
	logger   *zap.Logger
	finished bool

	closeOnce sync.Once
	closeErr  error
}

func NewEventStream(body io.ReadCloser, extract ExtractFunc, logger *zap.Logger) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStream{
		body:    body,
		decoder: NewDecoder(body),
		extract: extract,
		logger:  logger,
	}
}

// Recv returns the next event. Malformed chunks are skipped. After the
// Done event it returns io.EOF. If the body ends without the sentinel it
// returns io.ErrUnexpectedEOF; read errors are returned unchanged.
func (s *EventStream) Recv() (models.StreamEvent, error) {
	if s.finished {
		return models.StreamEvent{}, io.EOF
	}

	for {
		payload, err := s.decoder.Next()
		if err != nil {
			s.finished = true
			s.Close()
			if errors.Is(err, io.EOF) {
				return models.StreamEvent{}, io.ErrUnexpectedEOF
			}
			return models.StreamEvent{}, err
		}

		if payload == DoneSentinel {
			s.finished = true
			s.Close()
			return models.Done(nil), nil
		}

		var chunk map[string]any
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil || chunk == nil {
			s.logger.Debug("skipping non-JSON streaming chunk", zap.String("payload", payload))
			continue
		}

		if text := s.extract(chunk); text != "" {
			return models.TextDelta(text, chunk), nil
		}
	}
}

// Close releases the response body. It is safe to call more than once;
// later calls to Recv return io.EOF.
func (s *EventStream) Close() error {
	s.finished = true
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

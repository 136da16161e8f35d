package provider

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"unichat/internal/models"
)

// Provider defines the behaviour required to serve unified chat requests
// against one vendor API.
type Provider interface {
	Name() string
	// Capabilities never fails; unknown models get the backend defaults.
	Capabilities(model string) models.ModelCapabilities
	Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
	Stream(ctx context.Context, req models.ChatRequest) (Stream, error)
	// Close releases the outbound connection resources held by the provider.
	Close() error
}

// Stream is a pull-driven, single-consumer sequence of events.
//
// Recv blocks until the next event is available. Once the Done event has
// been returned, Recv returns io.EOF. Close releases the underlying
// connection and may be called at any point, including mid-stream.
type Stream interface {
	Recv() (models.StreamEvent, error)
	Close() error
}

// Events adapts a Stream for use with range. Iteration ends after the Done
// event, on the first error (which is yielded), or when the loop breaks.
// The caller still owns Close.
func Events(s Stream) iter.Seq2[models.StreamEvent, error] {
	return func(yield func(models.StreamEvent, error) bool) {
		for {
			event, err := s.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

// SliceStream replays a fixed list of events.
type SliceStream struct {
	mu     sync.Mutex
	events []models.StreamEvent
	closed bool
}

func NewSliceStream(events ...models.StreamEvent) *SliceStream {
	return &SliceStream{events: events}
}

func (s *SliceStream) Recv() (models.StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.events) == 0 {
		return models.StreamEvent{}, io.EOF
	}
	event := s.events[0]
	s.events = s.events[1:]
	return event, nil
}

func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

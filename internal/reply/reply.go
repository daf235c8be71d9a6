// ABOUTME: Reply source contract: a lazy, ordered stream of text fragments that may fail
// ABOUTME: Defines Request, Chunk, Event and the Source interface consumed by the send pipeline

package reply

import (
	"context"
	"errors"

	"github.com/2389/hago/internal/store"
)

// ErrStreamFailed is the generic cause reported when a source signals failure
// without a more specific error.
var ErrStreamFailed = errors.New("reply stream failed")

// Event identifies the kind of chunk on a reply stream.
type Event int

const (
	// EventText carries one fragment of reply text.
	EventText Event = iota
	// EventDone marks natural exhaustion. Closing the channel has the same meaning.
	EventDone
	// EventError marks a failure. Nothing after it is read.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventText:
		return "text"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Chunk is a single item on a reply stream.
type Chunk struct {
	Event Event
	Text  string
	Err   error
}

// Failure returns the error carried by an EventError chunk.
func (c *Chunk) Failure() error {
	if c.Err != nil {
		return c.Err
	}
	return ErrStreamFailed
}

// Request is everything a source needs to compose a reply.
type Request struct {
	ConversationID string
	// History is the full ordered sequence, ending with the message just sent.
	History         []store.Message
	CounterpartName string
	LocalUserID     string
}

// Source produces replies. A returned error means the stream never started.
// A returned channel is a started stream: the source sends chunks in order and
// closes the channel when it is finished, and it must stop and close promptly
// once ctx is cancelled. Each call is a fresh, single-use stream.
type Source interface {
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, req *Request) (<-chan *Chunk, error)

// Stream calls f.
func (f SourceFunc) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	return f(ctx, req)
}

// emit sends a chunk unless ctx is cancelled first. It reports whether the
// chunk was delivered.
func emit(ctx context.Context, out chan<- *Chunk, c *Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// lastLocalText returns the newest message written by localUserID.
func lastLocalText(history []store.Message, localUserID string) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].SenderID == localUserID {
			return history[i].Text
		}
	}
	return ""
}

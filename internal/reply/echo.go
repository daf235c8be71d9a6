// ABOUTME: Offline reply source that answers in the counterpart's voice without a network call
// ABOUTME: Streams a reply to the last local message word by word with a fixed delay

package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Echo is a Source that needs no credentials. It is the default provider.
type Echo struct {
	delay  time.Duration
	logger *slog.Logger
}

// NewEcho creates an Echo source that pauses delay between fragments.
func NewEcho(delay time.Duration, logger *slog.Logger) *Echo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Echo{
		delay:  delay,
		logger: logger.With("component", "reply.echo"),
	}
}

// Stream implements Source.
func (e *Echo) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := composeEcho(req)
	words := strings.SplitAfter(text, " ")
	out := make(chan *Chunk)

	go func() {
		defer close(out)

		for i, w := range words {
			if e.delay > 0 && i > 0 {
				select {
				case <-time.After(e.delay):
				case <-ctx.Done():
					return
				}
			}
			if !emit(ctx, out, &Chunk{Event: EventText, Text: w}) {
				return
			}
		}
		emit(ctx, out, &Chunk{Event: EventDone})

		e.logger.Debug("echo reply streamed",
			"conversation_id", req.ConversationID,
			"fragments", len(words))
	}()

	return out, nil
}

func composeEcho(req *Request) string {
	said := strings.TrimSpace(lastLocalText(req.History, req.LocalUserID))
	name := req.CounterpartName
	if name == "" {
		name = "I"
	}
	if said == "" {
		return fmt.Sprintf("%s here. What's on your mind?", name)
	}
	return fmt.Sprintf("%s here. You said: %q. Tell me more!", name, said)
}

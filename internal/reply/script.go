// ABOUTME: Deterministic reply sources for tests and demos
// ABOUTME: Script replays fixed fragments; Manual hands each stream to the caller to drive

package reply

import (
	"context"
	"sync"
	"time"
)

// Script replays a fixed list of fragments on every call.
type Script struct {
	Fragments []string

	// OpenErr makes Stream fail before the stream starts.
	OpenErr error
	// Fail, when set, is emitted as an EventError after FailAfter fragments.
	Fail      error
	FailAfter int
	// Gate, when set, holds the stream open before its first chunk until it is
	// closed or ctx is cancelled.
	Gate <-chan struct{}
	// SkipDone closes the channel without an explicit EventDone.
	SkipDone bool

	mu       sync.Mutex
	requests []*Request
}

// Stream implements Source.
func (s *Script) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	s.mu.Lock()
	s.requests = append(s.requests, cloneRequest(req))
	s.mu.Unlock()

	if s.OpenErr != nil {
		return nil, s.OpenErr
	}

	out := make(chan *Chunk)
	go func() {
		defer close(out)

		if s.Gate != nil {
			select {
			case <-s.Gate:
			case <-ctx.Done():
				return
			}
		}

		for i, frag := range s.Fragments {
			if s.Fail != nil && i == s.FailAfter {
				emit(ctx, out, &Chunk{Event: EventError, Err: s.Fail})
				return
			}
			if !emit(ctx, out, &Chunk{Event: EventText, Text: frag}) {
				return
			}
		}
		if s.Fail != nil {
			emit(ctx, out, &Chunk{Event: EventError, Err: s.Fail})
			return
		}
		if !s.SkipDone {
			emit(ctx, out, &Chunk{Event: EventDone})
		}
	}()
	return out, nil
}

// Requests returns a copy of every request received so far.
func (s *Script) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls reports how many streams were requested.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Manual is a Source whose streams are driven step by step by the caller.
type Manual struct {
	feeds chan *Feed
}

// NewManual creates a Manual source that can hold up to 16 unclaimed streams.
func NewManual() *Manual {
	return &Manual{feeds: make(chan *Feed, 16)}
}

// Stream implements Source. The stream stays open until the matching Feed is
// finished or failed, or ctx is cancelled.
func (m *Manual) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	f := &Feed{
		Request:  cloneRequest(req),
		ctx:      ctx,
		ch:       make(chan *Chunk),
		finished: make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			f.close()
		case <-f.finished:
		}
	}()
	m.feeds <- f
	return f.ch, nil
}

// Next waits up to timeout for the next stream to be opened.
func (m *Manual) Next(timeout time.Duration) (*Feed, bool) {
	select {
	case f := <-m.feeds:
		return f, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Feed is one open stream of a Manual source.
type Feed struct {
	Request *Request

	ctx      context.Context
	ch       chan *Chunk
	finished chan struct{}

	mu     sync.Mutex
	closed bool
}

// Send delivers a text fragment. It reports false if the consumer went away.
func (f *Feed) Send(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	return emit(f.ctx, f.ch, &Chunk{Event: EventText, Text: text})
}

// Fail delivers an error chunk and closes the stream.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	if !f.closed {
		emit(f.ctx, f.ch, &Chunk{Event: EventError, Err: err})
	}
	f.mu.Unlock()
	f.close()
}

// Finish closes the stream as natural exhaustion.
func (f *Feed) Finish() {
	f.close()
}

// Done is closed when the consumer's context is cancelled.
func (f *Feed) Done() <-chan struct{} {
	return f.ctx.Done()
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
	close(f.finished)
}

func cloneRequest(req *Request) *Request {
	if req == nil {
		return nil
	}
	c := *req
	c.History = append(c.History[:0:0], req.History...)
	return &c
}

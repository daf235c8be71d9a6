// ABOUTME: Send pipeline: optimistic append, streamed reply accumulation, status finalization
// ABOUTME: Holds at most one in-flight send per conversation and commits exactly once per send

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/hago/internal/reply"
	"github.com/2389/hago/internal/store"
)

var (
	// ErrMessageNotFound is returned by Retry when the message is not in the conversation.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotRetryable is returned by Retry for messages that are not failed outgoing messages.
	ErrNotRetryable = errors.New("message is not a failed outgoing message")
	// ErrClosed is returned once the service has been closed.
	ErrClosed = errors.New("conversation service closed")
)

// Directory resolves committed conversations.
type Directory interface {
	Get(id string) (store.Conversation, error)
}

// Finalizer receives the full sequence of a conversation once per send.
type Finalizer interface {
	Commit(ctx context.Context, conversationID string, messages []store.Message) error
}

// FinalizerFunc adapts a function to the Finalizer interface.
type FinalizerFunc func(ctx context.Context, conversationID string, messages []store.Message) error

// Commit calls f.
func (f FinalizerFunc) Commit(ctx context.Context, conversationID string, messages []store.Message) error {
	return f(ctx, conversationID, messages)
}

// Outcome is how a send request ended.
type Outcome int

const (
	// OutcomePending is reported by a ticket whose send has not finished.
	OutcomePending Outcome = iota
	// OutcomeIgnoredEmpty means the input was blank after trimming; nothing changed.
	OutcomeIgnoredEmpty
	// OutcomeIgnoredBusy means another send was in flight for the conversation; nothing changed.
	OutcomeIgnoredBusy
	// OutcomeSent means the reply completed and the outgoing message is sent.
	OutcomeSent
	// OutcomeFailed means the reply failed and the outgoing message is marked error.
	OutcomeFailed
	// OutcomeAborted means the send was cancelled and the outgoing message is marked error.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeIgnoredEmpty:
		return "ignored_empty"
	case OutcomeIgnoredBusy:
		return "ignored_busy"
	case OutcomeSent:
		return "sent"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Ignored reports whether the request was dropped without touching the conversation.
func (o Outcome) Ignored() bool {
	return o == OutcomeIgnoredEmpty || o == OutcomeIgnoredBusy
}

// Receipt describes a finished send.
type Receipt struct {
	ConversationID string
	OutgoingID     string
	// IncomingID is empty when the reply failed before its stream started.
	IncomingID string
	Outcome    Outcome
	ReplyText  string
	// Cause is the reply failure behind OutcomeFailed or OutcomeAborted.
	// It is informational; the failure is already recorded on the message.
	Cause error
}

// Ticket tracks one send request.
type Ticket struct {
	ConversationID string
	OutgoingID     string

	done    chan struct{}
	receipt *Receipt
}

// Outcome returns the final outcome, or OutcomePending while the send runs.
func (t *Ticket) Outcome() Outcome {
	select {
	case <-t.done:
		return t.receipt.Outcome
	default:
		return OutcomePending
	}
}

// Done is closed once the send has been committed, or immediately for ignored requests.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the send finishes or ctx is done. Cancelling ctx only stops
// waiting; it does not cancel the send.
func (t *Ticket) Wait(ctx context.Context) (*Receipt, error) {
	select {
	case <-t.done:
		return t.receipt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func ignoredTicket(conversationID string, outcome Outcome) *Ticket {
	t := &Ticket{
		ConversationID: conversationID,
		done:           make(chan struct{}),
		receipt:        &Receipt{ConversationID: conversationID, Outcome: outcome},
	}
	close(t.done)
	return t
}

// Config wires a Service.
type Config struct {
	Directory Directory
	Finalizer Finalizer
	Source    reply.Source
	// LocalUserID authors outgoing messages. Defaults to store.LocalUserID.
	LocalUserID string
	// Observer, when set, sees a snapshot after every mutation.
	Observer Observer
	// ReplyTimeout bounds each reply stream. Zero means no deadline.
	ReplyTimeout time.Duration
	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// Service runs sends. Each conversation has at most one send in flight; the
// send owns a working copy of the sequence and hands it to the Finalizer
// exactly once when it ends.
type Service struct {
	dir          Directory
	finalizer    Finalizer
	source       reply.Source
	localUserID  string
	observer     Observer
	replyTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu      sync.Mutex
	flights map[string]*flight
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Service. Directory, Finalizer and Source are required.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	localUserID := cfg.LocalUserID
	if localUserID == "" {
		localUserID = store.LocalUserID
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		dir:          cfg.Directory,
		finalizer:    cfg.Finalizer,
		source:       cfg.Source,
		localUserID:  localUserID,
		observer:     cfg.Observer,
		replyTimeout: cfg.ReplyTimeout,
		now:          now,
		logger:       logger.With("component", "conversation"),
		flights:      make(map[string]*flight),
	}
}

// flight is one in-flight send.
type flight struct {
	id          string
	convID      string
	participant store.Participant
	outgoingID  string
	cancel      context.CancelFunc
	ticket      *Ticket

	mu         sync.Mutex
	state      State
	transcript *transcript
	incomingID string
}

// Send sends rawInput and waits for the reply to finish. Ignored requests
// return at once with an ignored outcome. Cancelling ctx aborts the send.
func (s *Service) Send(ctx context.Context, conversationID, rawInput string) (*Receipt, error) {
	t, err := s.Start(ctx, conversationID, rawInput)
	if err != nil {
		return nil, err
	}
	return t.Wait(context.Background())
}

// Start appends the outgoing message and streams the reply in the background.
// The only error is an unknown conversation (or a closed service); blank input
// and busy conversations yield tickets with an ignored outcome. ctx governs
// the whole send: cancelling it aborts the reply.
func (s *Service) Start(ctx context.Context, conversationID, rawInput string) (*Ticket, error) {
	return s.begin(ctx, conversationID, func(conv store.Conversation) (string, []store.Message, error) {
		return strings.TrimSpace(rawInput), conv.Messages, nil
	})
}

// Retry re-sends the text of a failed outgoing message. The failed round trip
// is replaced: the failed message and the partial reply that followed it are
// removed, and a new message with a fresh id and timestamp goes at the end.
func (s *Service) Retry(ctx context.Context, conversationID, messageID string) (*Ticket, error) {
	return s.begin(ctx, conversationID, func(conv store.Conversation) (string, []store.Message, error) {
		rest, failed, ok := withoutRoundTrip(conv.Messages, messageID, s.localUserID)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}
		if failed.SenderID != s.localUserID || failed.Status != store.StatusError {
			return "", nil, fmt.Errorf("%w: %s", ErrNotRetryable, messageID)
		}
		return failed.Text, rest, nil
	})
}

// begin claims the conversation's flight slot and starts the send. plan picks
// the text and the base sequence from the committed conversation.
func (s *Service) begin(ctx context.Context, conversationID string, plan func(store.Conversation) (string, []store.Message, error)) (*Ticket, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	conv, err := s.dir.Get(conversationID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	if _, busy := s.flights[conversationID]; busy {
		s.mu.Unlock()
		s.logger.Debug("send ignored, another send is in flight", "conversation_id", conversationID)
		return ignoredTicket(conversationID, OutcomeIgnoredBusy), nil
	}

	text, base, err := plan(conv)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if text == "" {
		s.mu.Unlock()
		s.logger.Debug("send ignored, empty input", "conversation_id", conversationID)
		return ignoredTicket(conversationID, OutcomeIgnoredEmpty), nil
	}

	now := s.now()
	outgoing := store.Message{
		ID:        uuid.New().String(),
		Text:      text,
		Timestamp: now.Format(store.TimestampLayout),
		SenderID:  s.localUserID,
		Status:    store.StatusSending,
		CreatedAt: now,
	}

	runCtx, cancel := context.WithCancel(ctx)
	f := &flight{
		id:          uuid.New().String(),
		convID:      conversationID,
		participant: conv.Participant,
		outgoingID:  outgoing.ID,
		cancel:      cancel,
		state:       StateIdle,
		transcript:  newTranscript(base),
		ticket: &Ticket{
			ConversationID: conversationID,
			OutgoingID:     outgoing.ID,
			done:           make(chan struct{}),
		},
	}
	f.transcript.append(outgoing)
	s.transition(f, StateAwaitingFirstFragment)

	s.flights[conversationID] = f
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Debug("outgoing message appended",
		"conversation_id", conversationID,
		"message_id", outgoing.ID,
		"flight_id", f.id)
	s.publish(f, false)

	go s.run(runCtx, f)

	return f.ticket, nil
}

// run streams the reply into the flight's transcript and finalizes it.
func (s *Service) run(ctx context.Context, f *flight) {
	defer s.wg.Done()
	defer f.cancel()

	streamCtx := ctx
	if s.replyTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, s.replyTimeout)
		defer cancel()
	}

	stream, err := s.source.Stream(streamCtx, &reply.Request{
		ConversationID:  f.convID,
		History:         f.snapshot(),
		CounterpartName: f.participant.Name,
		LocalUserID:     s.localUserID,
	})
	if err != nil {
		if ctx.Err() != nil {
			s.finish(ctx, f, OutcomeAborted, ctx.Err())
			return
		}
		s.finish(ctx, f, OutcomeFailed, err)
		return
	}

	s.openPlaceholder(f)

	outcome, cause := s.consume(ctx, streamCtx, f, stream)
	s.finish(ctx, f, outcome, cause)
}

// openPlaceholder appends the empty counterpart message that fragments grow into.
func (s *Service) openPlaceholder(f *flight) {
	now := s.now()
	incoming := store.Message{
		ID:        uuid.New().String(),
		Timestamp: now.Format(store.TimestampLayout),
		SenderID:  f.participant.ID,
		CreatedAt: now,
	}

	f.mu.Lock()
	f.incomingID = incoming.ID
	f.transcript.append(incoming)
	f.mu.Unlock()

	s.publish(f, false)
}

// consume reads the stream until it ends. ctx is the flight's context;
// streamCtx additionally carries the reply deadline.
func (s *Service) consume(ctx, streamCtx context.Context, f *flight, stream <-chan *reply.Chunk) (Outcome, error) {
	for {
		select {
		case <-ctx.Done():
			s.drain(stream)
			return OutcomeAborted, ctx.Err()

		case chunk, ok := <-stream:
			if !ok {
				switch {
				case ctx.Err() != nil:
					return OutcomeAborted, ctx.Err()
				case streamCtx.Err() != nil:
					return OutcomeFailed, streamCtx.Err()
				default:
					return OutcomeSent, nil
				}
			}

			switch chunk.Event {
			case reply.EventText:
				if chunk.Text == "" {
					continue
				}
				f.mu.Lock()
				f.transcript.appendText(f.incomingID, chunk.Text)
				first := f.state == StateAwaitingFirstFragment
				f.mu.Unlock()
				if first {
					s.transition(f, StateStreaming)
				}
				s.publish(f, false)

			case reply.EventDone:
				s.drain(stream)
				return OutcomeSent, nil

			case reply.EventError:
				s.drain(stream)
				return OutcomeFailed, chunk.Failure()
			}
		}
	}
}

// drain discards whatever the source still sends so it never blocks.
func (s *Service) drain(stream <-chan *reply.Chunk) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for range stream {
		}
	}()
}

// finish records the outgoing status, commits the sequence, publishes the
// final snapshot and releases the conversation.
func (s *Service) finish(ctx context.Context, f *flight, outcome Outcome, cause error) {
	status := store.StatusError
	if outcome == OutcomeSent {
		status = store.StatusSent
	}

	if outcome == OutcomeAborted {
		s.transition(f, StateAborted)
	} else {
		s.transition(f, StateFinalizing)
	}

	f.mu.Lock()
	f.transcript.setStatus(f.outgoingID, status)
	final := f.transcript.snapshot()
	incomingID := f.incomingID
	replyText := f.transcript.text(incomingID)
	f.mu.Unlock()

	s.publish(f, false)

	if err := s.finalizer.Commit(context.WithoutCancel(ctx), f.convID, final); err != nil {
		s.logger.Error("failed to commit conversation",
			"error", err,
			"conversation_id", f.convID,
			"flight_id", f.id)
	}

	s.transition(f, StateIdle)
	s.publish(f, true)

	f.ticket.receipt = &Receipt{
		ConversationID: f.convID,
		OutgoingID:     f.outgoingID,
		IncomingID:     incomingID,
		Outcome:        outcome,
		ReplyText:      replyText,
		Cause:          cause,
	}

	s.mu.Lock()
	if s.flights[f.convID] == f {
		delete(s.flights, f.convID)
	}
	s.mu.Unlock()
	close(f.ticket.done)

	switch outcome {
	case OutcomeSent:
		s.logger.Info("message sent",
			"conversation_id", f.convID,
			"message_id", f.outgoingID,
			"reply_chars", len(replyText))
	case OutcomeAborted:
		s.logger.Info("send aborted",
			"conversation_id", f.convID,
			"message_id", f.outgoingID,
			"reply_chars", len(replyText))
	default:
		s.logger.Warn("reply generation failed",
			"conversation_id", f.convID,
			"message_id", f.outgoingID,
			"error", cause)
	}
}

func (s *Service) transition(f *flight, to State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := checkTransition(f.state, to); err != nil {
		s.logger.Error("send state machine violated",
			"error", err,
			"conversation_id", f.convID,
			"flight_id", f.id)
		return
	}
	f.state = to
}

func (s *Service) publish(f *flight, final bool) {
	if s.observer == nil {
		return
	}

	f.mu.Lock()
	u := &Update{
		ConversationID: f.convID,
		State:          f.state,
		Messages:       f.transcript.snapshot(),
		Final:          final,
	}
	u.Typing = Typing(f.state, u.Messages, s.localUserID)
	f.mu.Unlock()

	s.observer.OnUpdate(u)
}

func (f *flight) snapshot() []store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcript.snapshot()
}

// Cancel aborts the in-flight send of a conversation, for example when its
// view is closed. It reports whether there was a send to cancel.
func (s *Service) Cancel(conversationID string) bool {
	s.mu.Lock()
	f, ok := s.flights[conversationID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	f.cancel()
	return true
}

// State returns the current send state of a conversation.
func (s *Service) State(conversationID string) State {
	s.mu.Lock()
	f, ok := s.flights[conversationID]
	s.mu.Unlock()
	if !ok {
		return StateIdle
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Live returns the working, not yet committed view of a conversation while a
// send is in flight.
func (s *Service) Live(conversationID string) (store.Conversation, bool) {
	s.mu.Lock()
	f, ok := s.flights[conversationID]
	s.mu.Unlock()
	if !ok {
		return store.Conversation{}, false
	}
	return store.Conversation{
		ID:          f.convID,
		Participant: f.participant,
		Messages:    f.snapshot(),
	}, true
}

// View returns the live view when a send is in flight and the committed one otherwise.
func (s *Service) View(conversationID string) (store.Conversation, error) {
	if conv, ok := s.Live(conversationID); ok {
		return conv, nil
	}
	return s.dir.Get(conversationID)
}

// Close aborts every in-flight send and waits for them to commit.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	for _, f := range s.flights {
		f.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

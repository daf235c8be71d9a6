// ABOUTME: Observer contract for send progress and an in-memory fan-out broadcaster
// ABOUTME: Subscribers always receive the newest snapshot; stale ones are dropped when a buffer fills

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/hago/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Update is a full snapshot of a conversation after one mutation.
type Update struct {
	ConversationID string
	State          State
	Messages       []store.Message
	// Typing is true while a send is in flight and the newest message is the local user's.
	Typing bool
	// Final marks the snapshot that was committed. No further updates follow for that send.
	Final bool
}

// Observer is notified synchronously, in order, after every mutation of a
// send. Implementations must not block.
type Observer interface {
	OnUpdate(u *Update)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(u *Update)

// OnUpdate calls f.
func (f ObserverFunc) OnUpdate(u *Update) { f(u) }

type multiObserver []Observer

func (m multiObserver) OnUpdate(u *Update) {
	for _, o := range m {
		o.OnUpdate(u)
	}
}

// Observers combines several observers into one. nil entries are skipped.
func Observers(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// Broadcaster fans updates out to subscribers of a conversation. It
// implements Observer so it can be handed straight to the Service.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Update // conversationID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

var _ Observer = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for updates on a conversation. The returned channel is
// closed on Unsubscribe, on Close, or when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan *Update, string) {
	subID := uuid.New().String()
	ch := make(chan *Update, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan *Update)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// OnUpdate implements Observer by publishing the update.
func (b *Broadcaster) OnUpdate(u *Update) {
	b.Publish(u)
}

// Publish delivers u to every subscriber of its conversation without
// blocking. A subscriber whose buffer is full loses its oldest pending update
// to make room, so the newest snapshot is always delivered.
func (b *Broadcaster) Publish(u *Update) {
	// Held for the whole fan-out so Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[u.ConversationID] {
		select {
		case ch <- u:
			continue
		default:
		}

		select {
		case <-ch:
			b.logger.Debug("dropped stale update for slow subscriber",
				"conversation_id", u.ConversationID,
				"sub_id", subID)
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// SubscriberCount reports how many subscribers a conversation has.
func (b *Broadcaster) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[conversationID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for convID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, convID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}

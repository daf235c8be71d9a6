// ABOUTME: Controller owns every conversation's committed sequence and the active selection
// ABOUTME: Commits replace a sequence wholesale and are recorded to the audit ledger

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/hago/internal/store"
)

// Controller is the single authoritative mapping from conversation id to its
// messages. The active conversation is stored as an id and always resolved
// through that mapping, so there is never a second copy to keep in sync.
type Controller struct {
	mu            sync.RWMutex
	conversations map[string]*store.Conversation
	order         []string
	activeID      string

	localUserID string
	ledger      store.Ledger
	now         func() time.Time
	logger      *slog.Logger
}

// NewController creates an empty Controller. ledger may be nil to skip auditing.
func NewController(localUserID string, ledger store.Ledger, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if localUserID == "" {
		localUserID = store.LocalUserID
	}
	return &Controller{
		conversations: make(map[string]*store.Conversation),
		localUserID:   localUserID,
		ledger:        ledger,
		now:           time.Now,
		logger:        logger.With("component", "controller"),
	}
}

// LocalUserID returns the reserved identity of the local user.
func (c *Controller) LocalUserID() string {
	return c.localUserID
}

// Add registers a conversation handed over by the directory.
func (c *Controller) Add(conv store.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if conv.Participant.ID == c.localUserID {
		return fmt.Errorf("conversation %s: participant id %q is reserved for the local user", conv.ID, c.localUserID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.conversations[conv.ID]; exists {
		return fmt.Errorf("%w: %s", store.ErrDuplicateConversation, conv.ID)
	}
	clone := conv.Clone()
	c.conversations[conv.ID] = &clone
	c.order = append(c.order, conv.ID)
	return nil
}

// List returns every conversation in directory order.
func (c *Controller) List() []store.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return lo.Map(c.order, func(id string, _ int) store.Conversation {
		return c.conversations[id].Clone()
	})
}

// Get returns the committed state of a conversation.
func (c *Controller) Get(id string) (store.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conv, ok := c.conversations[id]
	if !ok {
		return store.Conversation{}, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	return conv.Clone(), nil
}

// GetActive returns the selected conversation, if any.
func (c *Controller) GetActive() (store.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.activeID == "" {
		return store.Conversation{}, false
	}
	conv, ok := c.conversations[c.activeID]
	if !ok {
		return store.Conversation{}, false
	}
	return conv.Clone(), true
}

// ActiveID returns the selected conversation id, or "" when nothing is selected.
func (c *Controller) ActiveID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeID
}

// Select makes id the active conversation.
func (c *Controller) Select(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	c.activeID = id
	c.logger.Debug("conversation selected", "conversation_id", id)
	return nil
}

// Deselect clears the active selection.
func (c *Controller) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeID = ""
}

// Commit replaces the stored sequence for id. The last commit wins. When id is
// active, GetActive reflects the new sequence immediately. The commit is then
// recorded to the ledger; ledger failures are logged and do not fail the commit.
func (c *Controller) Commit(ctx context.Context, id string, messages []store.Message) error {
	snapshot := store.CloneMessages(messages)

	c.mu.Lock()
	conv, ok := c.conversations[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	conv.Messages = snapshot
	c.mu.Unlock()

	c.logger.Debug("conversation committed",
		"conversation_id", id,
		"messages", len(snapshot))

	if c.ledger != nil {
		c.record(ctx, &store.Commit{
			ID:             uuid.New().String(),
			ConversationID: id,
			Messages:       snapshot,
			CommittedAt:    c.now(),
		})
	}
	return nil
}

// record saves a commit with its own timeout so auditing still happens when
// the send that produced it was cancelled.
func (c *Controller) record(ctx context.Context, commit *store.Commit) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.ledger.RecordCommit(saveCtx, commit); err != nil {
		c.logger.Error("failed to record commit",
			"error", err,
			"commit_id", commit.ID,
			"conversation_id", commit.ConversationID)
	}
}

// ABOUTME: Data model for one-to-one conversations and the Ledger interface
// ABOUTME: Defines Participant, Message, Conversation, Commit and their sentinel errors

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation id is registered twice
var ErrDuplicateConversation = errors.New("conversation already exists")

// LocalUserID is the default reserved identity of the person operating the app.
const LocalUserID = "user-1"

// TimestampLayout is the display format for message timestamps ("09:41 AM").
const TimestampLayout = "03:04 PM"

// Status tracks the delivery lifecycle of a message authored by the local user.
// Counterpart messages carry StatusNone.
type Status string

const (
	StatusNone    Status = ""
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// Terminal reports whether the status will not change again.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusError
}

// Participant is the other party in a conversation.
type Participant struct {
	ID        string `json:"id" yaml:"id" toml:"id"`
	Name      string `json:"name" yaml:"name" toml:"name"`
	AvatarURL string `json:"avatar_url,omitempty" yaml:"avatar_url" toml:"avatar_url"`
}

// Message is a single entry in a conversation's ordered sequence.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp string    `json:"timestamp"`
	SenderID  string    `json:"sender_id"`
	Status    Status    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation pairs one counterpart with the ordered message sequence.
type Conversation struct {
	ID          string      `json:"id"`
	Participant Participant `json:"participant"`
	Messages    []Message   `json:"messages"`
}

// Clone returns a copy whose message slice does not alias the receiver's.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = CloneMessages(c.Messages)
	return out
}

// LastMessage returns the newest message, if any.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// CloneMessages copies a message slice. A nil input yields an empty, non-nil slice.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Commit is an immutable audit record of a conversation's sequence at the
// moment a send finished.
type Commit struct {
	ID             string
	ConversationID string
	Messages       []Message
	CommittedAt    time.Time
}

// Ledger records finalized commits for later inspection. It is an audit
// trail only; live conversation state never reads from it.
type Ledger interface {
	RecordCommit(ctx context.Context, commit *Commit) error
	ListCommits(ctx context.Context, conversationID string, limit int) ([]*Commit, error)
	LatestCommit(ctx context.Context, conversationID string) (*Commit, error)
	Close() error
}

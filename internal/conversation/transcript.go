// ABOUTME: Working message sequence of one in-flight send
// ABOUTME: Append-only list with in-place text growth and single-shot status changes

package conversation

import (
	"github.com/samber/lo"

	"github.com/2389/hago/internal/store"
)

// transcript is the ordered working copy a send mutates before it is committed.
type transcript struct {
	messages []store.Message
}

func newTranscript(base []store.Message) *transcript {
	return &transcript{messages: store.CloneMessages(base)}
}

func (t *transcript) append(m store.Message) {
	t.messages = append(t.messages, m)
}

// appendText grows the text of message id by fragment.
func (t *transcript) appendText(id, fragment string) bool {
	_, idx, ok := lo.FindIndexOf(t.messages, func(m store.Message) bool { return m.ID == id })
	if !ok {
		return false
	}
	t.messages[idx].Text += fragment
	return true
}

// setStatus moves message id out of sending. A message already in a terminal
// status is left alone.
func (t *transcript) setStatus(id string, status store.Status) bool {
	_, idx, ok := lo.FindIndexOf(t.messages, func(m store.Message) bool { return m.ID == id })
	if !ok || t.messages[idx].Status.Terminal() {
		return false
	}
	t.messages[idx].Status = status
	return true
}

func (t *transcript) text(id string) string {
	m, ok := lo.Find(t.messages, func(m store.Message) bool { return m.ID == id })
	if !ok {
		return ""
	}
	return m.Text
}

func (t *transcript) last() (store.Message, bool) {
	if len(t.messages) == 0 {
		return store.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

func (t *transcript) snapshot() []store.Message {
	return store.CloneMessages(t.messages)
}

// withoutMessage returns msgs minus the message with the given id, plus that message.
func withoutMessage(msgs []store.Message, id string) ([]store.Message, store.Message, bool) {
	target, idx, ok := lo.FindIndexOf(msgs, func(m store.Message) bool { return m.ID == id })
	if !ok {
		return msgs, store.Message{}, false
	}
	out := make([]store.Message, 0, len(msgs)-1)
	out = append(out, msgs[:idx]...)
	out = append(out, msgs[idx+1:]...)
	return out, target, true
}

// withoutRoundTrip removes the message with the given id and, when the next
// message is the counterpart's, the reply that answered it.
func withoutRoundTrip(msgs []store.Message, id, localUserID string) ([]store.Message, store.Message, bool) {
	_, idx, ok := lo.FindIndexOf(msgs, func(m store.Message) bool { return m.ID == id })
	if !ok {
		return msgs, store.Message{}, false
	}
	rest, target, _ := withoutMessage(msgs, id)
	if idx < len(rest) && rest[idx].SenderID != localUserID {
		rest = append(rest[:idx], rest[idx+1:]...)
	}
	return rest, target, true
}

// ABOUTME: Server-Sent Events stream of conversation updates
// ABOUTME: Emits a snapshot on connect, one event per update, and keep-alive comments

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/2389/hago/internal/conversation"
	"github.com/2389/hago/internal/store"
)

// SSE event names.
const (
	EventSnapshot = "snapshot"
	EventFinal    = "final"
)

// UpdateView is the data of one SSE event.
type UpdateView struct {
	ConversationID string        `json:"conversation_id"`
	State          string        `json:"state"`
	Typing         bool          `json:"typing"`
	Final          bool          `json:"final"`
	Messages       []MessageView `json:"messages"`
}

func toMessageViews(msgs []store.Message) []MessageView {
	return lo.Map(msgs, func(m store.Message, _ int) MessageView {
		return MessageView{Message: m}
	})
}

func updateView(u *conversation.Update) UpdateView {
	return UpdateView{
		ConversationID: u.ConversationID,
		State:          u.State.String(),
		Typing:         u.Typing,
		Final:          u.Final,
		Messages:       toMessageViews(u.Messages),
	}
}

// currentView snapshots the conversation as a subscriber would see it now.
func (a *API) currentView(conv store.Conversation) UpdateView {
	state := a.sender.State(conv.ID)
	if live, ok := a.sender.Live(conv.ID); ok {
		conv = live
	}
	return UpdateView{
		ConversationID: conv.ID,
		State:          state.String(),
		Typing:         conversation.Typing(state, conv.Messages, a.convs.LocalUserID()),
		Messages:       toMessageViews(conv.Messages),
	}
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := a.convs.Get(id)
	if err != nil {
		a.sendServiceError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the initial snapshot so no update falls in between.
	updates, subID := a.updates.Subscribe(r.Context(), id)
	logger := a.logger.With("conversation_id", id, "subscription", subID)
	logger.Debug("event stream opened")
	defer logger.Debug("event stream closed")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	a.writeSSEEvent(w, EventSnapshot, a.currentView(conv))
	flusher.Flush()

	keepAlive := time.NewTicker(a.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			event := EventSnapshot
			if u.Final {
				event = EventFinal
			}
			a.writeSSEEvent(w, event, updateView(u))
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (a *API) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		a.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
}

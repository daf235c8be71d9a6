// ABOUTME: Read handlers for conversations and the active selection
// ABOUTME: Serves summaries, committed and live views, optionally with rendered Markdown

package api

import (
	"net/http"

	"github.com/samber/lo"

	"github.com/2389/hago/internal/store"
)

// MessageView is a message as returned by the API.
type MessageView struct {
	store.Message
	// HTML is the Markdown rendering of Text, present with ?format=html.
	HTML string `json:"html,omitempty"`
}

// ConversationView is a full conversation as returned by the API.
type ConversationView struct {
	ID          string            `json:"id"`
	Participant store.Participant `json:"participant"`
	Messages    []MessageView     `json:"messages"`
	State       string            `json:"state"`
	// Live is true when Messages is the uncommitted working copy of a send.
	Live bool `json:"live"`
}

// ConversationSummary is one row of GET /api/conversations.
type ConversationSummary struct {
	ID          string            `json:"id"`
	Participant store.Participant `json:"participant"`
	LastMessage *store.Message    `json:"last_message,omitempty"`
	State       string            `json:"state"`
	Active      bool              `json:"active"`
}

// ActiveResponse is the body of the /api/active endpoints.
type ActiveResponse struct {
	ConversationID string            `json:"conversation_id"`
	Conversation   *ConversationView `json:"conversation,omitempty"`
}

// SetActiveRequest is the body of PUT /api/active.
type SetActiveRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,max=256"`
}

func (a *API) view(conv store.Conversation, live, html bool) *ConversationView {
	return &ConversationView{
		ID:          conv.ID,
		Participant: conv.Participant,
		State:       a.sender.State(conv.ID).String(),
		Live:        live,
		Messages: lo.Map(conv.Messages, func(m store.Message, _ int) MessageView {
			mv := MessageView{Message: m}
			if html {
				mv.HTML = a.renderMarkdown(m.Text)
			}
			return mv
		}),
	}
}

func wantsHTML(r *http.Request) bool {
	return r.URL.Query().Get("format") == "html"
}

func (a *API) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	activeID := a.convs.ActiveID()
	summaries := lo.Map(a.convs.List(), func(conv store.Conversation, _ int) ConversationSummary {
		s := ConversationSummary{
			ID:          conv.ID,
			Participant: conv.Participant,
			State:       a.sender.State(conv.ID).String(),
			Active:      conv.ID == activeID,
		}
		if last, ok := conv.LastMessage(); ok {
			s.LastMessage = &last
		}
		return s
	})
	writeJSON(w, http.StatusOK, summaries)
}

func (a *API) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := a.convs.Get(r.PathValue("id"))
	if err != nil {
		a.sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(conv, false, wantsHTML(r)))
}

// handleLiveConversation returns the working copy while a send is in flight
// and falls back to the committed conversation otherwise.
func (a *API) handleLiveConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if conv, ok := a.sender.Live(id); ok {
		writeJSON(w, http.StatusOK, a.view(conv, true, wantsHTML(r)))
		return
	}
	conv, err := a.convs.Get(id)
	if err != nil {
		a.sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(conv, false, wantsHTML(r)))
}

func (a *API) activeResponse(html bool) ActiveResponse {
	id := a.convs.ActiveID()
	if id == "" {
		return ActiveResponse{}
	}
	conv, err := a.convs.Get(id)
	if err != nil {
		return ActiveResponse{}
	}
	return ActiveResponse{ConversationID: id, Conversation: a.view(conv, false, html)}
}

func (a *API) handleGetActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.activeResponse(wantsHTML(r)))
}

func (a *API) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.convs.Select(req.ConversationID); err != nil {
		a.sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.activeResponse(wantsHTML(r)))
}

func (a *API) handleClearActive(w http.ResponseWriter, _ *http.Request) {
	a.convs.Deselect()
	w.WriteHeader(http.StatusNoContent)
}

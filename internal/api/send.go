// ABOUTME: Write handlers that start, retry and cancel sends
// ABOUTME: Sends run on the API's long-lived context and repeated Idempotency-Keys replay the first response

package api

import (
	"context"
	"net/http"

	"github.com/2389/hago/internal/auth"
	"github.com/2389/hago/internal/conversation"
)

// IdempotencyHeader names the request header used to deduplicate sends.
const IdempotencyHeader = "Idempotency-Key"

// SendMessageRequest is the body of POST /api/conversations/{id}/messages.
// Blank text is accepted and reported as ignored_empty.
type SendMessageRequest struct {
	Text string `json:"text" validate:"max=4000"`
}

// SendResponse reports how a send request was handled.
type SendResponse struct {
	ConversationID string `json:"conversation_id"`
	Outcome        string `json:"outcome"`
	OutgoingID     string `json:"outgoing_id,omitempty"`
	// status is what the first request was served with, so replays match.
	status int
}

func newSendResponse(t *conversation.Ticket) *SendResponse {
	resp := &SendResponse{
		ConversationID: t.ConversationID,
		OutgoingID:     t.OutgoingID,
		Outcome:        t.Outcome().String(),
		status:         http.StatusAccepted,
	}
	if t.Outcome().Ignored() {
		resp.status = http.StatusOK
	}
	return resp
}

// idempotencyKey scopes the client key by caller and target so two callers
// cannot replay each other's responses.
func idempotencyKey(r *http.Request) string {
	key := r.Header.Get(IdempotencyHeader)
	if key == "" {
		return ""
	}
	return auth.SubjectFromContext(r.Context()) + "\x00" + r.URL.Path + "\x00" + key
}

// serveSend runs start once per idempotency key and writes its response.
func (a *API) serveSend(w http.ResponseWriter, r *http.Request, start func(ctx context.Context) (*conversation.Ticket, error)) {
	key := idempotencyKey(r)
	if key != "" {
		if prev, ok := a.replays.Get(key); ok {
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, prev.status, prev)
			return
		}
	}

	ticket, err := start(a.sendCtx)
	if err != nil {
		a.sendServiceError(w, err)
		return
	}

	resp := newSendResponse(ticket)
	if key != "" {
		a.replays.Put(key, resp)
	}
	a.logger.Debug("send accepted",
		"conversation_id", resp.ConversationID,
		"outcome", resp.Outcome,
		"caller", auth.SubjectFromContext(r.Context()),
	)
	writeJSON(w, resp.status, resp)
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	a.serveSend(w, r, func(ctx context.Context) (*conversation.Ticket, error) {
		return a.sender.Start(ctx, id, req.Text)
	})
}

func (a *API) handleRetryMessage(w http.ResponseWriter, r *http.Request) {
	id, messageID := r.PathValue("id"), r.PathValue("messageID")
	a.serveSend(w, r, func(ctx context.Context) (*conversation.Ticket, error) {
		return a.sender.Retry(ctx, id, messageID)
	})
}

// CancelResponse is the body returned by POST /api/conversations/{id}/cancel.
type CancelResponse struct {
	ConversationID string `json:"conversation_id"`
	Cancelled      bool   `json:"cancelled"`
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.convs.Get(id); err != nil {
		a.sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{ConversationID: id, Cancelled: a.sender.Cancel(id)})
}

// ABOUTME: HTTP API exposing conversations, sends and live updates as JSON and SSE
// ABOUTME: Routes are registered on a ServeMux with optional JWT auth on /api/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/hago/internal/auth"
	"github.com/2389/hago/internal/conversation"
	"github.com/2389/hago/internal/dedupe"
	"github.com/2389/hago/internal/store"
)

const (
	idempotencyTTL     = 10 * time.Minute
	idempotencyMaxKeys = 10_000
	maxBodyBytes       = 64 << 10
)

// Conversations is the committed state and active selection.
type Conversations interface {
	List() []store.Conversation
	Get(id string) (store.Conversation, error)
	ActiveID() string
	Select(id string) error
	Deselect()
	LocalUserID() string
}

// Sender starts, retries and cancels sends.
type Sender interface {
	Start(ctx context.Context, conversationID, rawInput string) (*conversation.Ticket, error)
	Retry(ctx context.Context, conversationID, messageID string) (*conversation.Ticket, error)
	Cancel(conversationID string) bool
	State(conversationID string) conversation.State
	Live(conversationID string) (store.Conversation, bool)
}

// Subscriber streams updates for one conversation until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan *conversation.Update, string)
}

// Config wires an API.
type Config struct {
	Conversations Conversations
	Sender        Sender
	Updates       Subscriber
	// Verifier enables bearer auth on /api/ when non-nil.
	Verifier auth.TokenVerifier
	// Ready reports whether the server can take sends. Nil means always ready.
	Ready func() error
	// SendContext outlives requests and governs every send started through
	// the API. Defaults to context.Background().
	SendContext context.Context
	// KeepAlive is the SSE comment interval. Zero uses 15s.
	KeepAlive time.Duration
	Logger    *slog.Logger
}

// API serves the HTTP surface.
type API struct {
	convs     Conversations
	sender    Sender
	updates   Subscriber
	verifier  auth.TokenVerifier
	ready     func() error
	sendCtx   context.Context
	keepAlive time.Duration
	logger    *slog.Logger

	validate *validator.Validate
	markdown goldmark.Markdown
	replays  *dedupe.Cache[*SendResponse]
}

// New creates an API. Call Close to stop its background cache cleanup.
func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sendCtx := cfg.SendContext
	if sendCtx == nil {
		sendCtx = context.Background()
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &API{
		convs:     cfg.Conversations,
		sender:    cfg.Sender,
		updates:   cfg.Updates,
		verifier:  cfg.Verifier,
		ready:     cfg.Ready,
		sendCtx:   sendCtx,
		keepAlive: keepAlive,
		logger:    logger.With("component", "api"),
		validate:  newValidator(),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough)),
		replays:   dedupe.New[*SendResponse](idempotencyTTL, idempotencyMaxKeys),
	}
}

// Register adds every route to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /health/ready", a.handleReady)

	routes := map[string]http.HandlerFunc{
		"GET /api/conversations":                                  a.handleListConversations,
		"GET /api/conversations/{id}":                             a.handleGetConversation,
		"GET /api/conversations/{id}/live":                        a.handleLiveConversation,
		"GET /api/conversations/{id}/events":                      a.handleEvents,
		"POST /api/conversations/{id}/messages":                   a.handleSendMessage,
		"POST /api/conversations/{id}/messages/{messageID}/retry": a.handleRetryMessage,
		"POST /api/conversations/{id}/cancel":                     a.handleCancel,
		"GET /api/active":                                         a.handleGetActive,
		"PUT /api/active":                                         a.handleSetActive,
		"DELETE /api/active":                                      a.handleClearActive,
	}

	wrap := func(h http.Handler) http.Handler { return h }
	if a.verifier != nil {
		wrap = auth.HTTPAuthMiddleware(a.verifier, a.logger)
	}
	for pattern, h := range routes {
		mux.Handle(pattern, wrap(h))
	}
}

// Handler returns a fresh mux with every route registered.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Register(mux)
	return mux
}

// Close releases the idempotency cache.
func (a *API) Close() {
	a.replays.Close()
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (a *API) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.ready != nil {
		if err := a.ready(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "not ready: %v", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// renderMarkdown converts message text to HTML. Raw HTML in the input is
// escaped by goldmark's default renderer.
func (a *API) renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := a.markdown.Convert([]byte(text), &buf); err != nil {
		a.logger.Warn("failed to convert markdown", "error", err)
		return ""
	}
	return buf.String()
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst and validates it.
func (a *API) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	if err := a.validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

// validationMessage turns validator errors into a short client-facing message.
func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sendServiceError maps domain errors onto HTTP statuses.
func (a *API) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrMessageNotFound):
		a.sendJSONError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, conversation.ErrNotRetryable):
		a.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, conversation.ErrClosed):
		a.sendJSONError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		a.logger.Error("request failed", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

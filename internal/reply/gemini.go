// ABOUTME: Reply source backed by Google's Gemini models via google.golang.org/genai
// ABOUTME: Maps conversation history to genai contents and forwards streamed text as fragments

package reply

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/2389/hago/internal/store"
)

type generateStreamFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// Gemini streams replies from a Gemini model, speaking as the counterpart.
type Gemini struct {
	model    string
	generate generateStreamFunc
	logger   *slog.Logger
}

// NewGemini creates a Gemini source for the given model.
func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{
		model:    model,
		generate: client.Models.GenerateContentStream,
		logger:   logger.With("component", "reply.gemini", "model", model),
	}, nil
}

// Stream implements Source.
func (g *Gemini) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	contents := buildContents(req.History, req.LocalUserID)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no history to reply to")
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(personaPrompt(req.CounterpartName), genai.RoleUser),
	}

	out := make(chan *Chunk)
	go func() {
		defer close(out)

		fragments := 0
		for resp, err := range g.generate(ctx, g.model, contents, cfg) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				g.logger.Warn("gemini stream failed",
					"conversation_id", req.ConversationID,
					"fragments", fragments,
					"error", err)
				emit(ctx, out, &Chunk{Event: EventError, Err: fmt.Errorf("gemini: %w", err)})
				return
			}
			if resp == nil {
				continue
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !emit(ctx, out, &Chunk{Event: EventText, Text: text}) {
				return
			}
			fragments++
		}

		g.logger.Debug("gemini reply streamed",
			"conversation_id", req.ConversationID,
			"fragments", fragments)
		emit(ctx, out, &Chunk{Event: EventDone})
	}()

	return out, nil
}

// personaPrompt instructs the model to answer as the named participant.
func personaPrompt(name string) string {
	if name == "" {
		name = "a friend"
	}
	return fmt.Sprintf("You are %s, chatting one-to-one with the user in a messaging app. "+
		"Stay in character as %s. Reply briefly and naturally, in the language the user writes in. "+
		"Never mention that you are an AI model.", name, name)
}

// buildContents converts history to genai turns. Messages from localUserID
// become user turns and everything else model turns; consecutive messages
// from the same side are merged and empty texts are skipped.
func buildContents(history []store.Message, localUserID string) []*genai.Content {
	var contents []*genai.Content
	for _, m := range history {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}

		role := genai.Role(genai.RoleModel)
		if m.SenderID == localUserID {
			role = genai.RoleUser
		}

		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.NewPartFromText(text))
			continue
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	return contents
}

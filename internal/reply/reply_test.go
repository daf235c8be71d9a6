// ABOUTME: Tests for reply sources and the provider factory
// ABOUTME: Covers Echo pacing and cancellation, Script and Manual control, Gemini mapping

package reply

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/2389/hago/internal/config"
	"github.com/2389/hago/internal/store"
)

// collect drains a stream and returns the concatenated text and the failure, if any.
func collect(t *testing.T, ch <-chan *Chunk) (string, error) {
	t.Helper()
	var sb strings.Builder
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			switch c.Event {
			case EventText:
				sb.WriteString(c.Text)
			case EventError:
				return sb.String(), c.Failure()
			case EventDone:
				// keep reading until close
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream")
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func history(texts ...string) []store.Message {
	var msgs []store.Message
	for i, text := range texts {
		sender := store.LocalUserID
		if i%2 == 1 {
			sender = "user-2"
		}
		msgs = append(msgs, store.Message{ID: text, Text: text, SenderID: sender})
	}
	return msgs
}

func TestEcho_StreamsReplyToLastLocalMessage(t *testing.T) {
	src := NewEcho(0, nil)
	ch, err := src.Stream(context.Background(), &Request{
		History:         history("first", "reply", "how are you?"),
		CounterpartName: "Aisha",
		LocalUserID:     store.LocalUserID,
	})
	require.NoError(t, err)

	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, `Aisha here. You said: "how are you?". Tell me more!`, text)
}

func TestEcho_StopsOnCancel(t *testing.T) {
	src := NewEcho(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := src.Stream(ctx, &Request{History: history("hi"), LocalUserID: store.LocalUserID})
	require.NoError(t, err)

	first := <-ch
	require.Equal(t, EventText, first.Event)

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("echo did not close after cancellation")
	}
}

func TestEcho_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEcho(0, nil).Stream(ctx, &Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScript_Fragments(t *testing.T) {
	s := &Script{Fragments: []string{"H", "i", "!"}}
	ch, err := s.Stream(context.Background(), &Request{ConversationID: "c1", History: history("yo")})
	require.NoError(t, err)

	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "Hi!", text)
	assert.Equal(t, 1, s.Calls())
	assert.Equal(t, "c1", s.Requests()[0].ConversationID)
}

func TestScript_FailAfter(t *testing.T) {
	boom := errors.New("boom")
	s := &Script{Fragments: []string{"H", "e", "y"}, Fail: boom, FailAfter: 1}
	ch, err := s.Stream(context.Background(), &Request{})
	require.NoError(t, err)

	text, err := collect(t, ch)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "H", text)
}

func TestScript_OpenErr(t *testing.T) {
	s := &Script{OpenErr: errors.New("offline")}
	_, err := s.Stream(context.Background(), &Request{})
	assert.EqualError(t, err, "offline")
	assert.Equal(t, 1, s.Calls())
}

func TestScript_RequestHistoryIsCopied(t *testing.T) {
	s := &Script{}
	h := history("a")
	ch, err := s.Stream(context.Background(), &Request{History: h})
	require.NoError(t, err)
	_, _ = collect(t, ch)

	h[0].Text = "mutated"
	assert.Equal(t, "a", s.Requests()[0].History[0].Text)
}

func TestManual_DrivenStream(t *testing.T) {
	m := NewManual()
	ch, err := m.Stream(context.Background(), &Request{ConversationID: "c1"})
	require.NoError(t, err)

	feed, ok := m.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, "c1", feed.Request.ConversationID)

	go func() {
		feed.Send("a")
		feed.Send("b")
		feed.Finish()
	}()

	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	assert.False(t, feed.Send("late"))
}

func TestManual_ClosesOnCancel(t *testing.T) {
	m := NewManual()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Stream(ctx, &Request{})
	require.NoError(t, err)
	feed, ok := m.Next(time.Second)
	require.True(t, ok)

	cancel()
	_, err = collect(t, ch)
	require.NoError(t, err)
	assert.False(t, feed.Send("after cancel"))
}

func TestManual_NextTimesOut(t *testing.T) {
	_, ok := NewManual().Next(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestBuildContents(t *testing.T) {
	msgs := []store.Message{
		{Text: "Hey, are you free?", SenderID: "user-2"},
		{Text: "Yes!", SenderID: store.LocalUserID},
		{Text: "2 PM?", SenderID: store.LocalUserID},
		{Text: "", SenderID: "user-2"},
	}

	contents := buildContents(msgs, store.LocalUserID)
	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleModel), contents[0].Role)
	assert.Equal(t, string(genai.RoleUser), contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "Yes!", contents[1].Parts[0].Text)
	assert.Equal(t, "2 PM?", contents[1].Parts[1].Text)
}

func TestPersonaPrompt(t *testing.T) {
	assert.Contains(t, personaPrompt("Omar Abdullah"), "You are Omar Abdullah")
	assert.Contains(t, personaPrompt(""), "a friend")
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func fakeGenerate(items []*genai.GenerateContentResponse, failWith error) generateStreamFunc {
	return func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if failWith != nil {
				yield(nil, failWith)
			}
		}
	}
}

func TestGemini_StreamsFragments(t *testing.T) {
	g := &Gemini{
		model:    "test-model",
		generate: fakeGenerate([]*genai.GenerateContentResponse{textResponse("Hel"), textResponse(""), textResponse("lo")}, nil),
		logger:   testLogger(),
	}

	ch, err := g.Stream(context.Background(), &Request{History: history("hi"), LocalUserID: store.LocalUserID, CounterpartName: "Aisha"})
	require.NoError(t, err)

	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestGemini_ForwardsFailure(t *testing.T) {
	quota := errors.New("quota exceeded")
	g := &Gemini{
		model:    "test-model",
		generate: fakeGenerate([]*genai.GenerateContentResponse{textResponse("Hi")}, quota),
		logger:   testLogger(),
	}

	ch, err := g.Stream(context.Background(), &Request{History: history("hi"), LocalUserID: store.LocalUserID})
	require.NoError(t, err)

	text, err := collect(t, ch)
	assert.ErrorIs(t, err, quota)
	assert.Equal(t, "Hi", text)
}

func TestGemini_EmptyHistoryFailsBeforeStart(t *testing.T) {
	g := &Gemini{model: "m", generate: fakeGenerate(nil, nil), logger: testLogger()}
	_, err := g.Stream(context.Background(), &Request{})
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	src, err := New(context.Background(), config.ReplyConfig{Provider: config.ProviderEcho}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, src)

	_, err = New(context.Background(), config.ReplyConfig{Provider: config.ProviderGemini}, nil)
	assert.ErrorContains(t, err, "API key is required")

	_, err = New(context.Background(), config.ReplyConfig{Provider: "smoke-signals"}, nil)
	assert.ErrorContains(t, err, "unknown reply provider")
}

// Package reply defines how counterpart replies are produced.
//
// A Source turns a conversation history into a stream of text fragments on a
// channel. Fragments are concatenated in arrival order by the consumer. The
// stream ends with EventDone or by closing the channel (success), or with an
// EventError chunk (failure). An error returned from Stream itself means the
// stream never started.
//
// Implementations:
//
//   - Echo: offline, word-by-word reply paced by a fixed delay
//   - Gemini: google.golang.org/genai streaming, with a persona system prompt
//   - Script and Manual: deterministic sources for tests
//
// New selects one from configuration.
package reply

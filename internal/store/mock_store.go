// ABOUTME: Mock Ledger implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"sync"
)

// MockStore is an in-memory Ledger implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	commits map[string][]*Commit // keyed by conversation ID, oldest first

	// RecordErr, when set, is returned by RecordCommit instead of storing.
	RecordErr error
}

var _ Ledger = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		commits: make(map[string][]*Commit),
	}
}

// RecordCommit stores a copy of the commit.
func (m *MockStore) RecordCommit(ctx context.Context, commit *Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecordErr != nil {
		return m.RecordErr
	}

	c := *commit
	c.Messages = CloneMessages(commit.Messages)
	m.commits[c.ConversationID] = append(m.commits[c.ConversationID], &c)
	return nil
}

// ListCommits returns commits newest first, up to limit (all when limit <= 0).
func (m *MockStore) ListCommits(ctx context.Context, conversationID string, limit int) ([]*Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.commits[conversationID]
	var out []*Commit
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		c := *all[i]
		c.Messages = CloneMessages(all[i].Messages)
		out = append(out, &c)
	}
	return out, nil
}

// LatestCommit returns the newest commit or ErrNotFound.
func (m *MockStore) LatestCommit(ctx context.Context, conversationID string) (*Commit, error) {
	commits, _ := m.ListCommits(ctx, conversationID, 1)
	if len(commits) == 0 {
		return nil, ErrNotFound
	}
	return commits[0], nil
}

// CommitCount reports how many commits were recorded for a conversation.
func (m *MockStore) CommitCount(conversationID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.commits[conversationID])
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

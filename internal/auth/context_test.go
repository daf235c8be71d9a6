// ABOUTME: Unit tests for authentication context helpers
// ABOUTME: Tests WithAuth, FromContext and SubjectFromContext

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	ctx := WithAuth(context.Background(), &AuthContext{Subject: "alice"})
	got := FromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Subject)
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), authContextKey{}, "not an auth context")
	assert.Nil(t, FromContext(ctx))
}

func TestSubjectFromContext(t *testing.T) {
	assert.Equal(t, "anonymous", SubjectFromContext(context.Background()))
	assert.Equal(t, "anonymous", SubjectFromContext(WithAuth(context.Background(), &AuthContext{})))
	assert.Equal(t, "bob", SubjectFromContext(WithAuth(context.Background(), &AuthContext{Subject: "bob"})))
}

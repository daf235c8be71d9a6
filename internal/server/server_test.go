// ABOUTME: Tests for server wiring and lifecycle
// ABOUTME: Serves on ephemeral ports and checks HTTP sends, gRPC health and shutdown commits

package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/hago/internal/api"
	"github.com/2389/hago/internal/config"
	"github.com/2389/hago/internal/reply"
	"github.com/2389/hago/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "hago.db")
	cfg, err := config.Parse([]byte(`
database:
  path: "`+dbPath+`"
reply:
  provider: echo
  fragment_delay: 1ms
conversations:
  - id: chat-1
    participant:
      id: user-2
      name: Aisha Al-Farsi
    messages:
      - text: "Hey, are you free tomorrow?"
        timestamp: "10:30 AM"
        sender_id: user-2
`), false)
	require.NoError(t, err)
	return cfg
}

type running struct {
	srv      *Server
	httpURL  string
	grpcAddr string
	cancel   context.CancelFunc
	done     chan error
}

func start(t *testing.T, cfg *config.Config, opts ...Option) *running {
	t.Helper()
	srv, err := New(cfg, discardLogger(), opts...)
	require.NoError(t, err)

	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{
		srv:      srv,
		httpURL:  "http://" + httpLn.Addr().String(),
		grpcAddr: grpcLn.Addr().String(),
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { r.done <- srv.Serve(ctx, grpcLn, httpLn) }()
	t.Cleanup(func() {
		cancel()
		<-r.done
	})
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		require.NoError(t, err)
		r.done <- nil // let Cleanup's receive return
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func (r *running) postMessage(t *testing.T, id, text string) api.SendResponse {
	t.Helper()
	resp, err := http.Post(r.httpURL+"/api/conversations/"+id+"/messages", "application/json",
		strings.NewReader(`{"text":"`+text+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out api.SendResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func latestCommit(t *testing.T, cfg *config.Config, id string) *store.Commit {
	t.Helper()
	ledger, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	defer ledger.Close()

	commit, err := ledger.LatestCommit(context.Background(), id)
	require.NoError(t, err)
	return commit
}

func TestServer_SendAndHealth(t *testing.T) {
	cfg := testConfig(t)
	r := start(t, cfg, WithReplySource(&reply.Script{Fragments: []string{"Sure", ", when?"}}))

	resp, err := http.Get(r.httpURL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(r.httpURL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sent := r.postMessage(t, "chat-1", "Yes I am")
	assert.Equal(t, "pending", sent.Outcome)

	require.Eventually(t, func() bool {
		conv, err := r.srv.Controller().Get("chat-1")
		_, live := r.srv.Service().Live("chat-1")
		return err == nil && len(conv.Messages) == 3 && !live
	}, 2*time.Second, 5*time.Millisecond)

	conn, err := grpc.NewClient(r.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, svc := range []string{"", HealthService} {
		check, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check.GetStatus(), "service %q", svc)
	}

	r.stop(t)

	commit := latestCommit(t, cfg, "chat-1")
	require.Len(t, commit.Messages, 3)
	assert.Equal(t, "Yes I am", commit.Messages[1].Text)
	assert.Equal(t, store.StatusSent, commit.Messages[1].Status)
	assert.Equal(t, "Sure, when?", commit.Messages[2].Text)
}

func TestServer_ShutdownAbortsInFlightSend(t *testing.T) {
	cfg := testConfig(t)
	manual := reply.NewManual()
	r := start(t, cfg, WithReplySource(manual))

	sent := r.postMessage(t, "chat-1", "long story please")

	feed, ok := manual.Next(2 * time.Second)
	require.True(t, ok)
	require.True(t, feed.Send("Once upon"))

	r.stop(t)

	commit := latestCommit(t, cfg, "chat-1")
	require.Len(t, commit.Messages, 3)
	assert.Equal(t, sent.OutgoingID, commit.Messages[1].ID)
	assert.Equal(t, store.StatusError, commit.Messages[1].Status, "aborted send is retryable")
	assert.Equal(t, "Once upon", commit.Messages[2].Text)
}

func TestServer_ShutdownEndsEventStreams(t *testing.T) {
	cfg := testConfig(t)
	r := start(t, cfg, WithReplySource(&reply.Script{}))

	resp, err := http.Get(r.httpURL + "/api/conversations/chat-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	r.stop(t)

	_, err = io.ReadAll(resp.Body)
	assert.NoError(t, err, "stream ends cleanly")
}

func TestServer_ShutdownWithoutServe(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx), "second shutdown is a no-op")
	assert.Error(t, srv.ready())
}

func TestServer_NoLedgerWithoutPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = ""

	srv, err := New(cfg, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, srv.ledger)
	require.NoError(t, srv.Shutdown(context.Background()))
}

package application

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-sidecar/sidecar/admission/domain"
	"admission-sidecar/sidecar/admission/infra"
)

type publisherFixture struct {
	pub      *Publisher
	state    *infra.LiveState
	artifact string
	client   net.Conn
	done     chan error
}

func startPublisher(t *testing.T, ctx context.Context, writer domain.ArtifactWriter) *publisherFixture {
	t.Helper()
	eng, state := newTestEngine(t, infra.AnalyticPredictor{})
	path := filepath.Join(t.TempDir(), "whitelist.csv")
	if writer == nil {
		writer = infra.FileArtifact{Path: path}
	}
	pub := &Publisher{Engine: eng, Artifact: writer}
	pub.Listen()

	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	done := make(chan error, 1)
	go func() { done <- pub.Serve(ctx, server, "test-session") }()
	return &publisherFixture{pub: pub, state: state, artifact: path, client: client, done: done}
}

func (f *publisherFixture) exchange(t *testing.T, send byte) byte {
	t.Helper()
	require.NoError(t, f.client.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := f.client.Write([]byte{send})
	require.NoError(t, err)
	var buf [1]byte
	_, err = io.ReadFull(f.client, buf[:])
	require.NoError(t, err)
	return buf[0]
}

func (f *publisherFixture) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("publisher did not stop")
		return nil
	}
}

func TestPublisher_TwoPhaseHandshake(t *testing.T) {
	f := startPublisher(t, context.Background(), nil)
	require.NoError(t, f.state.AddWorkload("B", 900*time.Millisecond))

	assert.Equal(t, Ack1, f.exchange(t, Trigger1))
	require.Eventually(t, func() bool { return f.pub.State() == StateAwaitTrigger2 }, time.Second, time.Millisecond)

	got, err := infra.ReadArtifact(f.artifact)
	require.NoError(t, err)
	if diff := cmp.Diff(f.state.Whitelist().Entries(), got); diff != "" {
		t.Fatalf("artifact differs from in-memory whitelist (-want +got):\n%s", diff)
	}
	assert.Equal(t, []domain.ServerID{"A"}, got["GET/cart"])

	assert.Equal(t, Ack2, f.exchange(t, Trigger2))
	require.Eventually(t, func() bool { return f.pub.Cycles() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateAwaitTrigger1, f.pub.State())
}

func TestPublisher_DroppedConnectionClosesAndKeepsArtifact(t *testing.T) {
	f := startPublisher(t, context.Background(), nil)

	require.Equal(t, Ack1, f.exchange(t, Trigger1))
	before, err := os.ReadFile(f.artifact)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	require.NoError(t, f.client.Close())
	err = f.wait(t)

	require.ErrorIs(t, err, domain.ErrConnectionBroken)
	assert.True(t, IsConnectionBroken(err))
	assert.Equal(t, StateClosed, f.pub.State())

	after, err := os.ReadFile(f.artifact)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, int64(0), f.pub.Cycles())
}

func TestPublisher_AcceptsAnyTriggerByte(t *testing.T) {
	f := startPublisher(t, context.Background(), nil)

	assert.Equal(t, Ack1, f.exchange(t, 'x'))
	assert.Equal(t, Ack2, f.exchange(t, 'y'))
	assert.Equal(t, Ack1, f.exchange(t, Trigger1))
}

func TestPublisher_RecomputesOnEveryCycle(t *testing.T) {
	f := startPublisher(t, context.Background(), nil)

	f.exchange(t, Trigger1)
	f.exchange(t, Trigger2)
	got, err := infra.ReadArtifact(f.artifact)
	require.NoError(t, err)
	assert.Equal(t, []domain.ServerID{"A", "B"}, got["GET/cart"])

	require.NoError(t, f.state.AddWorkload("A", 2*time.Second))
	f.exchange(t, Trigger1)
	got, err = infra.ReadArtifact(f.artifact)
	require.NoError(t, err)
	assert.Equal(t, []domain.ServerID{"B"}, got["GET/cart"])
}

type brokenArtifact struct{}

func (brokenArtifact) Write(*domain.Whitelist) error { return errors.New("read-only file system") }

func TestPublisher_ArtifactFailureIsFatalAndSkipsAck(t *testing.T) {
	f := startPublisher(t, context.Background(), brokenArtifact{})

	require.NoError(t, f.client.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := f.client.Write([]byte{Trigger1})
	require.NoError(t, err)

	err = f.wait(t)
	require.ErrorIs(t, err, domain.ErrConnectionBroken)
	assert.Contains(t, err.Error(), "read-only file system")
	assert.Equal(t, StateClosed, f.pub.State())
}

func TestPublisher_ShutdownReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := startPublisher(t, ctx, nil)
	require.Eventually(t, func() bool { return f.pub.State() == StateAwaitTrigger1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, f.client.Close())

	err := f.wait(t)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsConnectionBroken(err))
	assert.Equal(t, StateClosed, f.pub.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "AWAIT_TRIGGER_2", StateAwaitTrigger2.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "State(42)", State(42).String())
}

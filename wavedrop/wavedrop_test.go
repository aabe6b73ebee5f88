package wavedrop_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavedrop/wavedrop/internal/receiver"
	"github.com/wavedrop/wavedrop/internal/relaytest"
	"github.com/wavedrop/wavedrop/internal/session"
	"github.com/wavedrop/wavedrop/wavedrop"
)

func setupSender(t *testing.T, srv *relaytest.Server, id string) *relaytest.Sender {
	t.Helper()
	ctx := context.Background()
	sender, err := relaytest.DialSender(ctx, srv.URL(), id)
	require.NoError(t, err)
	t.Cleanup(func() { sender.Close() })
	require.Eventually(t, func() bool { return srv.Registered(id) }, 2*time.Second, 5*time.Millisecond)
	return sender
}

func TestReceive(t *testing.T) {
	srv := relaytest.NewServer(nil)
	t.Cleanup(srv.Close)

	config := &wavedrop.Config{
		RelayAddr:      srv.Addr(),
		SettleDelay:    10 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	}

	t.Run("receives file", func(t *testing.T) {
		oracle := bytes.Repeat([]byte("A frog walks into a bank..."), 1000)
		sender := setupSender(t, srv, "transfer-1")

		errC := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			target, err := sender.WaitReady(ctx)
			if err != nil {
				errC <- err
				return
			}
			errC <- sender.SendFile(ctx, target, "frog.txt", oracle, 4096)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		artifact, err := wavedrop.Receive(ctx, "transfer-1", config)
		require.NoError(t, err)
		require.NoError(t, <-errC)

		assert.Equal(t, "frog.txt", artifact.Meta.Name)
		assert.Equal(t, int64(len(oracle)), artifact.Meta.TotalSize)
		b, err := io.ReadAll(artifact.Reader())
		require.NoError(t, err)
		assert.Equal(t, oracle, b)
	})

	t.Run("empty transfer", func(t *testing.T) {
		sender := setupSender(t, srv, "transfer-2")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			target, err := sender.WaitReady(ctx)
			if err != nil {
				return
			}
			sender.SendEnd(ctx, target, nil)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := wavedrop.Receive(ctx, "transfer-2", config)
		assert.ErrorIs(t, err, session.ErrEmptyTransfer)
	})

	t.Run("no sender", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := wavedrop.Receive(ctx, "nobody", config)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("no transfer id", func(t *testing.T) {
		_, err := wavedrop.Receive(context.Background(), "", config)
		assert.ErrorIs(t, err, wavedrop.ErrNoTransferID)
	})
}

func TestReceiveUnreachableRelay(t *testing.T) {
	srv := relaytest.NewServer(nil)
	addr := srv.Addr()
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := wavedrop.Receive(ctx, "transfer", &wavedrop.Config{
		RelayAddr:            addr,
		MaxReconnectAttempts: 1,
		ReconnectDelay:       10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, receiver.ErrReconnectExhausted)
}

func TestMergeConfig(t *testing.T) {
	defaults := wavedrop.Config{RelayAddr: "localhost:8000", MaxReconnectAttempts: 5, SettleDelay: time.Second}

	merged := wavedrop.MergeConfig(defaults, &wavedrop.Config{RelayAddr: "relay.example.com", SettleDelay: time.Millisecond})
	assert.Equal(t, "relay.example.com", merged.RelayAddr)
	assert.Equal(t, 5, merged.MaxReconnectAttempts)
	assert.Equal(t, time.Millisecond, merged.SettleDelay)

	assert.Equal(t, defaults, wavedrop.MergeConfig(defaults, nil))

	merged = wavedrop.MergeConfigReader(defaults, bytes.NewBufferString(`{"MaxReconnectAttempts": 2}`))
	assert.Equal(t, 2, merged.MaxReconnectAttempts)
	assert.Equal(t, "localhost:8000", merged.RelayAddr)
}

func TestMergeConfigZeroValues(t *testing.T) {
	defaults := wavedrop.Config{MaxReconnectAttempts: 5, ReconnectDelay: time.Second, CompletionThreshold: 0.95}

	merged := wavedrop.MergeConfig(defaults, &wavedrop.Config{MaxReconnectAttempts: 0, ReconnectDelay: 0})
	assert.Equal(t, defaults, merged)

	merged = wavedrop.MergeConfigReader(defaults, bytes.NewBufferString(`{"MaxReconnectAttempts": 0, "ReconnectDelay": 0}`))
	assert.Zero(t, merged.MaxReconnectAttempts)
	assert.Zero(t, merged.ReconnectDelay)
	assert.Equal(t, 0.95, merged.CompletionThreshold)
}

// Package wavedrop receives files sent through a wavedrop relay.
package wavedrop

import (
	"context"
	"errors"

	"github.com/wavedrop/wavedrop/internal/receiver"
	"github.com/wavedrop/wavedrop/internal/session"
)

// Artifact is a completely received file.
type Artifact = session.Artifact

var ErrNoTransferID = errors.New("no transfer id provided")

// Receive connects to the relay, waits for the sender identified by
// transferID and blocks until the file has been received, the transfer
// failed, reconnect attempts ran out, or ctx is done. The provided config
// will be merged with the default config.
func Receive(ctx context.Context, transferID string, config *Config) (Artifact, error) {
	if transferID == "" {
		return Artifact{}, ErrNoTransferID
	}
	merged := MergeConfig(defaultConfig, config)
	r := receiver.New(receiver.WSDialer{Addr: merged.RelayAddr}, merged.options()...)

	errC := make(chan error, 1)
	go func() {
		errC <- r.Run(ctx)
	}()
	r.Connect(transferID)

	artifact, done, err := await(r.Updates())
	r.Disconnect()
	runErr := <-errC
	if done {
		return artifact, err
	}
	if runErr == nil {
		runErr = context.Canceled
	}
	return Artifact{}, runErr
}

// await consumes snapshots until the transfer reaches an outcome. It reports
// false when the updates end before that.
func await(updates <-chan receiver.Snapshot) (Artifact, bool, error) {
	for snap := range updates {
		switch {
		case snap.Artifact != nil:
			return *snap.Artifact, true, nil
		case snap.RetriesExhausted:
			return Artifact{}, true, snap.Err
		case snap.Transfer == session.Failed:
			return Artifact{}, true, snap.Err
		}
	}
	return Artifact{}, false, nil
}

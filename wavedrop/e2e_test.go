//nolint:errcheck
package wavedrop_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wavedrop/wavedrop/internal/relaytest"
	"github.com/wavedrop/wavedrop/wavedrop"
)

// relayImageEnv names the relay image the E2E test runs against.
const relayImageEnv = "WAVEDROP_E2E_RELAY_IMAGE"

type relayContainer struct {
	testcontainers.Container
	Addr string
}

func TestE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test...")
	}
	image := os.Getenv(relayImageEnv)
	if image == "" {
		t.Skipf("skipping E2E test, %s is not set", relayImageEnv)
	}
	ctx := context.Background()
	relayC, err := setupRelay(ctx, image)
	if err != nil {
		t.Fatalf("unable to setup relay: %s", err)
	}
	t.Cleanup(func() {
		if err := relayC.Terminate(ctx); err != nil {
			t.Fatal(err)
		}
	})
	oracle := []byte("A frog walks into a bank...")

	sender, err := relaytest.DialSender(ctx, fmt.Sprintf("ws://%s/ws", relayC.Addr), "e2e-transfer")
	require.NoError(t, err)
	defer sender.Close()

	errC := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		target, err := sender.WaitReady(ctx)
		if err != nil {
			errC <- err
			return
		}
		errC <- sender.SendFile(ctx, target, "frog.txt", oracle, 8)
	}()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	artifact, err := wavedrop.Receive(ctx, "e2e-transfer", &wavedrop.Config{RelayAddr: relayC.Addr})
	assert.Nil(t, err)
	assert.Nil(t, <-errC)

	var out bytes.Buffer
	io.Copy(&out, artifact.Reader())
	assert.Equal(t, string(oracle), out.String())
}

func setupRelay(ctx context.Context, image string) (*relayContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"8000/tcp"},
		WaitingFor: wait.ForHTTP("/").WithPort(nat.Port("8000/tcp")).WithStatusCodeMatcher(
			func(status int) bool { return status < http.StatusInternalServerError }),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}
	ip, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	mappedPort, err := container.MappedPort(ctx, "8000")
	if err != nil {
		return nil, err
	}
	return &relayContainer{Container: container, Addr: fmt.Sprintf("%s:%d", ip, mappedPort.Int())}, nil
}

//go:generate go run go.uber.org/mock/mockgen -source=dialer.go -destination=../mocks/mock_dialer.go -package=mocks
package receiver

import (
	"context"
	"fmt"
	"strings"

	"github.com/wavedrop/wavedrop/internal/conn"
	"github.com/wavedrop/wavedrop/protocol/relay"
)

// Dialer opens transport connections to the relay.
type Dialer interface {
	Dial(ctx context.Context) (conn.Conn, error)
}

// WSDialer dials the websocket endpoint of the relay at Addr.
type WSDialer struct {
	Addr      string
	ReadLimit int64
}

// URL returns the websocket url of the relay. Addresses that already carry a
// websocket scheme are used as is.
func (d WSDialer) URL() string {
	if strings.HasPrefix(d.Addr, "ws://") || strings.HasPrefix(d.Addr, "wss://") {
		return d.Addr
	}
	return fmt.Sprintf("ws://%s%s", d.Addr, relay.Path)
}

func (d WSDialer) Dial(ctx context.Context) (conn.Conn, error) {
	limit := d.ReadLimit
	if limit <= 0 {
		limit = conn.DefaultReadLimit
	}
	return conn.Dial(ctx, d.URL(), limit)
}

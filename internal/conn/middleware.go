package conn

import (
	"context"
	"errors"
	"net/http"

	"github.com/wavedrop/wavedrop/internal/logger"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type ctxKey struct{}

var ErrNoConn = errors.New("no relay connection in context")

// WithConn returns a copy of ctx carrying c.
func WithConn(ctx context.Context, c Conn) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) (Conn, error) {
	if c, ok := ctx.Value(ctxKey{}).(Conn); ok {
		return c, nil
	}
	return nil, ErrNoConn
}

// Middleware accepts the websocket handshake of a relay peer and hands the
// accepted Conn to the next handler through the request context. Peers
// sending frames over readLimit bytes are dropped; readLimit <= 0 means
// DefaultReadLimit.
func Middleware(readLimit int64) func(http.Handler) http.Handler {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lgr, err := logger.FromContext(r.Context())
			if err != nil {
				lgr = zap.NewNop()
			}
			ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
			if err != nil {
				lgr.Warn("websocket handshake rejected", zap.Error(err))
				return
			}
			ws.SetReadLimit(readLimit)
			next.ServeHTTP(w, r.WithContext(WithConn(r.Context(), &WS{Conn: ws})))
		})
	}
}

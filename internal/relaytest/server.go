// Package relaytest provides an in-process relay speaking the wavedrop
// forwarding rules, for tests of relay clients.
//
// Clients register under a connection id. A text frame carrying a target_id is
// forwarded verbatim to that peer and the peer becomes the destination of the
// sender's subsequent binary frames.
package relaytest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/wavedrop/wavedrop/internal/conn"
	"github.com/wavedrop/wavedrop/internal/logger"
	"github.com/wavedrop/wavedrop/protocol/relay"
	"go.uber.org/zap"
)

// Server is an in-process relay.
type Server struct {
	httpServer *httptest.Server
	router     *mux.Router
	peers      *Peers
	logger     *zap.Logger
}

// NewServer starts a relay listening on a local port. A nil logger selects
// the production logger.
func NewServer(lgr *zap.Logger) *Server {
	if lgr == nil {
		lgr = logger.New()
	}
	s := &Server{
		router: mux.NewRouter(),
		peers:  &Peers{&sync.Map{}},
		logger: lgr,
	}
	s.routes()
	s.httpServer = httptest.NewServer(s.router)
	return s
}

func (s *Server) routes() {
	s.router.Use(logger.Middleware(s.logger))
	s.router.Use(conn.Middleware(conn.DefaultReadLimit))
	s.router.HandleFunc(relay.Path, s.handleConn())
}

// Addr returns the host:port of the relay.
func (s *Server) Addr() string {
	return strings.TrimPrefix(s.httpServer.URL, "http://")
}

// URL returns the websocket endpoint of the relay.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + relay.Path
}

// Close shuts down the relay and all its connections.
func (s *Server) Close() {
	s.httpServer.CloseClientConnections()
	s.httpServer.Close()
}

// Registered reports whether a client is registered with the provided id.
func (s *Server) Registered(id string) bool {
	_, err := s.peers.GetPeer(id)
	return err == nil
}

// Kick unregisters the client with the provided id and closes its connection
// in the background.
func (s *Server) Kick(id string) error {
	p, err := s.peers.GetPeer(id)
	if err != nil {
		return err
	}
	s.peers.DeletePeer(p)
	go p.conn.Close()
	return nil
}

// ------------------------------------------------------ Handlers -----------------------------------------------------

// handleConn returns a websocket handler forwarding the frames of one client.
func (s *Server) handleConn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger, err := logger.FromContext(ctx)
		if err != nil {
			return
		}
		c, err := conn.FromContext(ctx)
		if err != nil {
			logger.Error("getting Conn from request context", zap.Error(err))
			return
		}
		defer c.Close()
		logger.Info("client connected")

		p := &peer{conn: c}
		defer func() {
			if p.id != "" {
				s.peers.DeletePeer(p)
				logger.Info("unregistered client", zap.String("id", p.id))
			}
		}()

		for {
			f, err := c.Read(ctx)
			if err != nil {
				if !conn.IsNormalClosure(err) {
					logger.Debug("reading frame", zap.Error(err))
				}
				return
			}
			b, err := f.Bytes()
			if err != nil {
				logger.Debug("reading frame", zap.Error(err))
				return
			}
			if f.Kind == conn.Text {
				s.handleText(ctx, logger, p, b)
				continue
			}
			s.forward(ctx, logger, p.binaryTarget(), conn.Frame{Kind: conn.Binary, Data: b})
		}
	}
}

func (s *Server) handleText(ctx context.Context, logger *zap.Logger, p *peer, b []byte) {
	var msg relay.Msg
	if err := json.Unmarshal(b, &msg); err != nil {
		logger.Warn("dropping malformed message", zap.Error(err))
		return
	}
	switch {
	case msg.Type == relay.Register:
		if msg.ConnectionID == "" {
			logger.Warn("register without connection id")
			return
		}
		if p.id != "" {
			s.peers.DeletePeer(p)
		}
		p.id = msg.ConnectionID
		s.peers.StorePeer(p)
		logger.Info("registered client", zap.String("id", p.id))
	case msg.TargetID != "":
		p.setTarget(msg.TargetID)
		s.forward(ctx, logger, msg.TargetID, conn.Frame{Kind: conn.Text, Data: b})
	default:
		logger.Debug("dropping message without target", zap.String("type", string(msg.Type)))
	}
}

func (s *Server) forward(ctx context.Context, logger *zap.Logger, target string, f conn.Frame) {
	if target == "" {
		logger.Debug("dropping frame without target")
		return
	}
	dst, err := s.peers.GetPeer(target)
	if err != nil {
		logger.Debug("dropping frame", zap.Error(err))
		return
	}
	if f.Kind == conn.Text {
		err = dst.conn.WriteText(ctx, f.Data)
	} else {
		err = dst.conn.Write(ctx, f.Data)
	}
	if err != nil {
		logger.Debug("forwarding frame", zap.String("target", target), zap.Error(err))
	}
}

package conn

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wavedrop/wavedrop/protocol/relay"
	"nhooyr.io/websocket"
)

// DefaultReadLimit is the largest frame, in bytes, a websocket connection accepts.
const DefaultReadLimit = 64 << 20

// ErrUnexpectedFrame is returned when a binary frame is read where a control message was expected.
var ErrUnexpectedFrame = errors.New("unexpected binary frame")

// Conn is an interface that wraps a message oriented network connection.
type Conn interface {
	Write(ctx context.Context, payload []byte) error
	WriteText(ctx context.Context, payload []byte) error
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// ------------------------------------------------------- Frames ------------------------------------------------------

// FrameKind tags the payload carried by a Frame.
type FrameKind int

const (
	Text   FrameKind = iota // Structured control message
	Binary                  // Raw chunk, fully in memory
	Blob                    // Raw chunk that still has to be read from the transport
)

// Frame is an inbound message. Exactly one of Data or Blob is set, depending on Kind.
type Frame struct {
	Kind FrameKind
	Data []byte
	Blob io.Reader
}

// Bytes materializes the frame payload. Blob frames are read to completion, which
// must happen before the next frame is read from the same connection.
func (f Frame) Bytes() ([]byte, error) {
	if f.Kind != Blob {
		return f.Data, nil
	}
	if f.Blob == nil {
		return nil, nil
	}
	b, err := io.ReadAll(f.Blob)
	if err != nil {
		return nil, fmt.Errorf("materializing blob frame: %w", err)
	}
	return b, nil
}

// ------------------------------------------------- Conn implementations ----------------------------------------------

// WS is a wrapper around a websocket connection.
type WS struct {
	Conn *websocket.Conn
}

// Dial opens a websocket connection to the provided url.
func Dial(ctx context.Context, url string, readLimit int64) (*WS, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(readLimit)
	return &WS{Conn: c}, nil
}

func (ws *WS) Write(ctx context.Context, payload []byte) error {
	return ws.Conn.Write(ctx, websocket.MessageBinary, payload)
}

func (ws *WS) WriteText(ctx context.Context, payload []byte) error {
	return ws.Conn.Write(ctx, websocket.MessageText, payload)
}

// Read returns the next frame. Text frames are read eagerly, binary frames are
// returned as a Blob backed by the connection.
func (ws *WS) Read(ctx context.Context) (Frame, error) {
	typ, r, err := ws.Conn.Reader(ctx)
	if err != nil {
		return Frame{}, err
	}
	if typ == websocket.MessageText {
		b, err := io.ReadAll(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: Text, Data: b}, nil
	}
	return Frame{Kind: Blob, Blob: r}, nil
}

// Close performs a normal closure of the websocket.
func (ws *WS) Close() error {
	return ws.Conn.Close(websocket.StatusNormalClosure, "")
}

// IsNormalClosure reports whether err stems from a normal closure of the connection.
func IsNormalClosure(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}

// ------------------------------------------------------ Relay Conn ---------------------------------------------------

// Relay specifies a connection to the relay server.
type Relay struct {
	Conn Conn
}

// WriteMsg writes a control message to the underlying connection.
func (r Relay) WriteMsg(ctx context.Context, msg relay.Msg) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	return r.Conn.WriteText(ctx, payload)
}

// ReadMsg reads a control message from the underlying connection.
func (r Relay) ReadMsg(ctx context.Context, expected ...relay.MsgType) (relay.Msg, error) {
	f, err := r.Conn.Read(ctx)
	if err != nil {
		return relay.Msg{}, err
	}
	if f.Kind != Text {
		if _, err := f.Bytes(); err != nil {
			return relay.Msg{}, err
		}
		return relay.Msg{}, ErrUnexpectedFrame
	}
	msg, err := relay.Decode(f.Data)
	if err != nil {
		return relay.Msg{}, err
	}
	if len(expected) != 0 && expected[0] != msg.Type {
		return relay.Msg{}, relay.Error{Expected: expected, Got: msg.Type}
	}
	return msg, nil
}

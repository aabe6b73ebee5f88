package relaytest

import (
	"context"
	"fmt"

	"github.com/wavedrop/wavedrop/internal/conn"
	"github.com/wavedrop/wavedrop/protocol/relay"
)

// Sender is a minimal sending client used to drive receivers in tests.
type Sender struct {
	ID string
	rc conn.Relay
}

// DialSender connects to the relay at url and registers under id.
func DialSender(ctx context.Context, url, id string) (*Sender, error) {
	ws, err := conn.Dial(ctx, url, conn.DefaultReadLimit)
	if err != nil {
		return nil, err
	}
	s := &Sender{ID: id, rc: conn.Relay{Conn: ws}}
	if err := s.rc.WriteMsg(ctx, relay.NewRegister(id)); err != nil {
		ws.Close()
		return nil, err
	}
	return s, nil
}

// WaitReady blocks until a receiver announces itself and returns its connection id.
func (s *Sender) WaitReady(ctx context.Context) (string, error) {
	msg, err := s.rc.ReadMsg(ctx, relay.ReceiveReady)
	if err != nil {
		return "", err
	}
	if msg.SenderID == "" {
		return "", fmt.Errorf("receive ready without sender id")
	}
	return msg.SenderID, nil
}

// SendInfo announces the file to the receiver with the provided connection id.
func (s *Sender) SendInfo(ctx context.Context, target, name string, size int64) error {
	return s.rc.WriteMsg(ctx, relay.Msg{Type: relay.FileInfo, TargetID: target, Name: name, Size: size})
}

// SendChunks writes data as binary frames of at most chunkSize bytes.
func (s *Sender) SendChunks(ctx context.Context, data []byte, chunkSize int) error {
	for len(data) > 0 {
		n := min(chunkSize, len(data))
		if err := s.rc.Conn.Write(ctx, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// SendEnd signals the end of the stream, declaring totalBytes when non-nil.
func (s *Sender) SendEnd(ctx context.Context, target string, totalBytes *int64) error {
	return s.rc.WriteMsg(ctx, relay.Msg{Type: relay.FileEnd, TargetID: target, TotalBytes: totalBytes})
}

// SendFile runs the whole announcement, data and end sequence.
func (s *Sender) SendFile(ctx context.Context, target, name string, data []byte, chunkSize int) error {
	size := int64(len(data))
	if err := s.SendInfo(ctx, target, name, size); err != nil {
		return err
	}
	if err := s.SendChunks(ctx, data, chunkSize); err != nil {
		return err
	}
	return s.SendEnd(ctx, target, &size)
}

func (s *Sender) Close() error {
	return s.rc.Conn.Close()
}

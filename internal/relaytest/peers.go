package relaytest

import (
	"fmt"
	"sync"

	"github.com/wavedrop/wavedrop/internal/conn"
)

// peer is a registered relay client.
type peer struct {
	id   string
	conn conn.Conn

	mu     sync.Mutex
	target string // destination of binary frames
}

func (p *peer) setTarget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = id
}

func (p *peer) binaryTarget() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Peers keeps track of the registered connections by connection id.
type Peers struct{ *sync.Map }

func (peers *Peers) StorePeer(p *peer) {
	peers.Store(p.id, p)
}

func (peers *Peers) GetPeer(id string) (*peer, error) {
	p, ok := peers.Load(id)
	if !ok {
		return nil, fmt.Errorf("no peer registered with id '%s'", id)
	}
	return p.(*peer), nil
}

// DeletePeer removes the peer only if it is still the one registered under its id.
func (peers *Peers) DeletePeer(p *peer) {
	peers.CompareAndDelete(p.id, p)
}

// Package memory implements an in-process transport. Every transport joined
// to the same Network can dial any other by id.
package memory

import (
	"context"
	"sync"

	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

type Network struct {
	mu    sync.Mutex
	peers map[string]*Transport
}

func NewNetwork() *Network {
	return &Network{peers: make(map[string]*Transport)}
}

// Join registers id on the network.
func (n *Network) Join(id string) (*Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.peers[id]; exists {
		return nil, transport.ErrIDTaken
	}
	t := &Transport{
		id:      id,
		network: n,
		mailbox: transport.NewMailbox(),
		links:   make(map[*link]struct{}),
	}
	n.peers[id] = t
	return t, nil
}

func (n *Network) lookup(id string) (*Transport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.peers[id]
	return t, ok
}

func (n *Network) leave(id string) {
	n.mu.Lock()
	delete(n.peers, id)
	n.mu.Unlock()
}

type Transport struct {
	id      string
	network *Network
	mailbox *transport.Mailbox

	mu     sync.Mutex
	links  map[*link]struct{}
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) ID() string {
	return t.id
}

func (t *Transport) Events() <-chan transport.Event {
	return t.mailbox.Events()
}

func (t *Transport) Connect(_ context.Context, peerID string, metadata transport.Metadata) (transport.Link, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrTransportClosed
	}
	t.mu.Unlock()

	local := &link{owner: t, peerID: peerID, outbound: true}

	remote, ok := t.network.lookup(peerID)
	if !ok || remote == t {
		t.track(local)
		t.mailbox.Push(transport.Event{Kind: transport.EventError, Link: local, Err: transport.ErrPeerUnavailable})
		return local, nil
	}

	far := &link{owner: remote, peerID: t.id, metadata: metadata}
	local.peer = far
	far.peer = local

	t.track(local)
	remote.track(far)

	remote.mailbox.Push(transport.Event{Kind: transport.EventIncoming, Link: far})

	local.setOpen()
	far.setOpen()
	remote.mailbox.Push(transport.Event{Kind: transport.EventOpen, Link: far})
	t.mailbox.Push(transport.Event{Kind: transport.EventOpen, Link: local})

	return local, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	links := make([]*link, 0, len(t.links))
	for l := range t.links {
		links = append(links, l)
	}
	t.mu.Unlock()

	for _, l := range links {
		_ = l.Close()
	}
	t.network.leave(t.id)
	t.mailbox.Close()
	return nil
}

func (t *Transport) track(l *link) {
	t.mu.Lock()
	t.links[l] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) untrack(l *link) {
	t.mu.Lock()
	delete(t.links, l)
	t.mu.Unlock()
}

type link struct {
	owner    *Transport
	peer     *link
	peerID   string
	metadata transport.Metadata
	outbound bool

	mu     sync.Mutex
	open   bool
	closed bool
}

func (l *link) PeerID() string               { return l.peerID }
func (l *link) Metadata() transport.Metadata { return l.metadata }
func (l *link) Outbound() bool               { return l.outbound }

func (l *link) Open() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open && !l.closed
}

func (l *link) setOpen() {
	l.mu.Lock()
	l.open = true
	l.mu.Unlock()
}

func (l *link) Send(data []byte) error {
	if !l.Open() || l.peer == nil {
		return transport.ErrLinkClosed
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	l.peer.owner.mailbox.Push(transport.Event{Kind: transport.EventData, Link: l.peer, Data: payload})
	return nil
}

func (l *link) Close() error {
	if !l.markClosed() {
		return nil
	}
	l.owner.untrack(l)
	l.owner.mailbox.Push(transport.Event{Kind: transport.EventClose, Link: l})

	if far := l.peer; far != nil && far.markClosed() {
		far.owner.untrack(far)
		far.owner.mailbox.Push(transport.Event{Kind: transport.EventClose, Link: far})
	}
	return nil
}

func (l *link) markClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	l.open = false
	return true
}

// Package dispatch turns logical sends into per-link sends, dialing missing
// links lazily and queueing messages until they open.
package dispatch

import (
	"context"
	"sort"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/loop"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
	"github.com/sirupsen/logrus"
)

// Connection is the authoritative link to one peer.
type Connection struct {
	PeerID  string
	link    transport.Link
	open    bool
	pending [][]byte
	grace   loop.Timer
}

func (c *Connection) Open() bool {
	return c.open
}

type Options struct {
	Self      string
	Transport transport.Transport
	Scheduler loop.Scheduler
	// Metadata is presented to every peer we dial.
	Metadata  transport.Metadata
	DialGrace time.Duration
	// Targets lists broadcast recipients, normally the directory's others.
	Targets func() []string
	Logger  *logrus.Logger
}

// Dispatcher owns the connection pool. It is driven from the session loop
// and is not safe for concurrent use.
type Dispatcher struct {
	self      string
	transport transport.Transport
	sched     loop.Scheduler
	codec     *protocol.Codec
	metadata  transport.Metadata
	grace     time.Duration
	targets   func() []string
	conns     map[string]*Connection
	logger    *logrus.Entry
}

func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	targets := opts.Targets
	if targets == nil {
		targets = func() []string { return nil }
	}
	return &Dispatcher{
		self:      opts.Self,
		transport: opts.Transport,
		sched:     opts.Scheduler,
		codec:     protocol.NewCodec(),
		metadata:  opts.Metadata,
		grace:     opts.DialGrace,
		targets:   targets,
		conns:     make(map[string]*Connection),
		logger:    logger.WithField("component", "dispatch"),
	}
}

// Broadcast sends msg to every target and returns how many were addressed.
func (d *Dispatcher) Broadcast(msg protocol.Message) int {
	data, ok := d.encode(msg)
	if !ok {
		return 0
	}
	sent := 0
	for _, id := range d.targets() {
		if id == d.self {
			continue
		}
		d.deliver(id, data)
		sent++
	}
	return sent
}

// SendToSubset sends msg to the given ids. It returns false for an empty set.
func (d *Dispatcher) SendToSubset(ids []string, msg protocol.Message) bool {
	if len(ids) == 0 {
		return false
	}
	data, ok := d.encode(msg)
	if !ok {
		return false
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || id == d.self || seen[id] {
			continue
		}
		seen[id] = true
		d.deliver(id, data)
	}
	return true
}

func (d *Dispatcher) SendToOne(id string, msg protocol.Message) bool {
	if id == "" || id == d.self {
		return false
	}
	return d.SendToSubset([]string{id}, msg)
}

// SendOpen sends msg on every open connection without dialing anyone.
func (d *Dispatcher) SendOpen(msg protocol.Message) int {
	data, ok := d.encode(msg)
	if !ok {
		return 0
	}
	sent := 0
	for _, id := range d.OpenPeers() {
		d.deliver(id, data)
		sent++
	}
	return sent
}

func (d *Dispatcher) encode(msg protocol.Message) ([]byte, bool) {
	data, err := d.codec.EncodeToBytes(msg)
	if err != nil {
		d.logger.Warnf("Failed to encode %s: %v", msg.Type(), err)
		return nil, false
	}
	return data, true
}

func (d *Dispatcher) deliver(id string, data []byte) {
	conn, ok := d.conns[id]
	if !ok {
		conn = d.Connect(id)
		if conn == nil {
			return
		}
	}
	if !conn.open {
		conn.pending = append(conn.pending, data)
		return
	}
	if err := conn.link.Send(data); err != nil {
		d.sendFailed(conn, err)
	}
}

// sendFailed closes a link that could not carry a message. The close event
// then drops the connection like any other closed link.
func (d *Dispatcher) sendFailed(conn *Connection, err error) {
	d.logger.Warnf("Send to %s failed, closing link: %v", conn.PeerID, err)
	conn.open = false
	conn.pending = nil
	_ = conn.link.Close()
}

// Connect ensures a connection to id exists. The smaller id of a pair dials;
// the larger waits DialGrace for the inbound link before dialing itself.
func (d *Dispatcher) Connect(id string) *Connection {
	if conn, ok := d.conns[id]; ok {
		return conn
	}
	if id == "" || id == d.self {
		return nil
	}
	conn := &Connection{PeerID: id}
	d.conns[id] = conn

	if d.self < id || d.grace <= 0 {
		d.dial(conn)
		return d.conns[id]
	}

	d.logger.Debugf("Waiting %s for %s to dial", d.grace, id)
	conn.grace = d.sched.AfterFunc(d.grace, func() {
		if current, ok := d.conns[id]; ok && current == conn && conn.link == nil {
			conn.grace = nil
			d.dial(conn)
		}
	})
	return conn
}

// Dial connects to id immediately, skipping the tie-break wait.
func (d *Dispatcher) Dial(id string) *Connection {
	conn, ok := d.conns[id]
	if !ok {
		if id == "" || id == d.self {
			return nil
		}
		conn = &Connection{PeerID: id}
		d.conns[id] = conn
	}
	if conn.link == nil {
		d.stopGrace(conn)
		d.dial(conn)
	}
	return d.conns[id]
}

func (d *Dispatcher) dial(conn *Connection) {
	link, err := d.transport.Connect(context.Background(), conn.PeerID, d.metadata)
	if err != nil {
		d.logger.Warnf("Failed to dial %s: %v", conn.PeerID, err)
		delete(d.conns, conn.PeerID)
		return
	}
	d.logger.Debugf("Dialing %s", conn.PeerID)
	conn.link = link
}

// Accept adopts an inbound link. When a link to the same peer already
// exists, the one dialed by the smaller id wins on both ends and the other
// is closed. Accept reports whether the inbound link was kept.
func (d *Dispatcher) Accept(link transport.Link) bool {
	id := link.PeerID()
	conn, ok := d.conns[id]
	if !ok {
		d.conns[id] = &Connection{PeerID: id, link: link}
		return true
	}

	if conn.link == nil {
		d.stopGrace(conn)
		conn.link = link
		return true
	}

	if conn.link.Outbound() && d.self < id {
		d.logger.Debugf("Dropping duplicate inbound link from %s", id)
		_ = link.Close()
		return false
	}

	d.logger.Debugf("Replacing link to %s with its inbound link", id)
	stale := conn.link
	conn.link = link
	conn.open = false
	_ = stale.Close()
	return true
}

// HandleOpen marks the link open and flushes queued messages. It reports
// false for links that are not authoritative.
func (d *Dispatcher) HandleOpen(link transport.Link) bool {
	conn, ok := d.conns[link.PeerID()]
	if !ok || conn.link != link {
		return false
	}
	conn.open = true

	pending := conn.pending
	conn.pending = nil
	for _, data := range pending {
		if err := link.Send(data); err != nil {
			d.sendFailed(conn, err)
			break
		}
	}
	return true
}

// HandleClose drops the connection owning link. Closes of superseded links
// are ignored.
func (d *Dispatcher) HandleClose(link transport.Link) (string, bool) {
	conn, ok := d.conns[link.PeerID()]
	if !ok || conn.link != link {
		return "", false
	}
	d.drop(conn)
	return conn.PeerID, true
}

// HandleError drops the connection owning link along with its queue.
// Failed connections are not retried.
func (d *Dispatcher) HandleError(link transport.Link) (string, bool) {
	conn, ok := d.conns[link.PeerID()]
	if !ok || conn.link != link {
		return "", false
	}
	d.drop(conn)
	_ = link.Close()
	return conn.PeerID, true
}

// Disconnect closes the connection to id, if any.
func (d *Dispatcher) Disconnect(id string) {
	conn, ok := d.conns[id]
	if !ok {
		return
	}
	d.drop(conn)
	if conn.link != nil {
		_ = conn.link.Close()
	}
}

func (d *Dispatcher) drop(conn *Connection) {
	d.stopGrace(conn)
	conn.open = false
	conn.pending = nil
	delete(d.conns, conn.PeerID)
}

func (d *Dispatcher) stopGrace(conn *Connection) {
	if conn.grace != nil {
		conn.grace.Stop()
		conn.grace = nil
	}
}

func (d *Dispatcher) Connection(id string) (*Connection, bool) {
	conn, ok := d.conns[id]
	return conn, ok
}

func (d *Dispatcher) IsOpen(id string) bool {
	conn, ok := d.conns[id]
	return ok && conn.open
}

// OpenPeers returns the ids with an open connection, sorted.
func (d *Dispatcher) OpenPeers() []string {
	ids := make([]string, 0, len(d.conns))
	for id, conn := range d.conns {
		if conn.open {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (d *Dispatcher) OpenCount() int {
	n := 0
	for _, conn := range d.conns {
		if conn.open {
			n++
		}
	}
	return n
}

// Close closes every link without emitting anything.
func (d *Dispatcher) Close() {
	for _, conn := range d.conns {
		d.stopGrace(conn)
		if conn.link != nil {
			_ = conn.link.Close()
		}
	}
	d.conns = make(map[string]*Connection)
}

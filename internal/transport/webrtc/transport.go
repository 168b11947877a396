// Package webrtc implements the transport over pion WebRTC data channels.
// Session descriptions travel through a transport.Signaler.
package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
	"github.com/sirupsen/logrus"
)

type Options struct {
	// ID is the desired self id. Empty asks the signaling service to assign one.
	ID          string
	Config      webrtc.Configuration
	DataChannel *webrtc.DataChannelInit
	Logger      *logrus.Logger
}

type Transport struct {
	id          string
	config      webrtc.Configuration
	channel     *webrtc.DataChannelInit
	signaler    transport.Signaler
	logger      *logrus.Logger
	mailbox     *transport.Mailbox
	ctx         context.Context
	cancel      context.CancelFunc
	connections map[string]*connection
	mu          sync.RWMutex
	closed      bool
}

var _ transport.Transport = (*Transport)(nil)

// New registers with the signaling service and starts serving signals.
func New(ctx context.Context, signaler transport.Signaler, opts Options) (*Transport, error) {
	id, err := signaler.Register(ctx, opts.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to register with signaling: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		id:          id,
		config:      opts.Config,
		channel:     opts.DataChannel,
		signaler:    signaler,
		logger:      logger,
		mailbox:     transport.NewMailbox(),
		ctx:         runCtx,
		cancel:      cancel,
		connections: make(map[string]*connection),
	}

	go t.listen()
	return t, nil
}

func (t *Transport) ID() string {
	return t.id
}

func (t *Transport) Events() <-chan transport.Event {
	return t.mailbox.Events()
}

func (t *Transport) Connect(ctx context.Context, peerID string, metadata transport.Metadata) (transport.Link, error) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return nil, transport.ErrTransportClosed
	}

	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := newConnection(t, uuid.NewString(), peerID, pc, true, transport.Metadata{})
	if err := conn.createDataChannel(t.channel); err != nil {
		_ = pc.Close()
		return nil, err
	}

	t.mu.Lock()
	t.connections[conn.linkID] = conn
	t.mu.Unlock()

	go func() {
		if err := conn.offer(t.ctx, metadata.Nickname); err != nil {
			t.logger.Debugf("Offer to %s failed: %v", peerID, err)
			t.emit(transport.Event{Kind: transport.EventError, Link: conn, Err: err})
			conn.shutdown()
		}
	}()

	return conn, nil
}

func (t *Transport) listen() {
	signals := t.signaler.RecvSignal()
	for {
		select {
		case <-t.ctx.Done():
			return
		case signal, ok := <-signals:
			if !ok {
				return
			}
			if err := t.handleSignal(signal); err != nil {
				t.logger.Debugf("Signal from %s dropped: %v", signal.From, err)
			}
		}
	}
}

func (t *Transport) handleSignal(signal transport.Signal) error {
	switch signal.Kind {
	case transport.SignalOffer:
		pc, err := webrtc.NewPeerConnection(t.config)
		if err != nil {
			return fmt.Errorf("failed to create peer connection: %w", err)
		}

		conn := newConnection(t, signal.LinkID, signal.From, pc, false, transport.Metadata{Nickname: signal.Nickname})
		t.mu.Lock()
		t.connections[signal.LinkID] = conn
		t.mu.Unlock()

		t.emit(transport.Event{Kind: transport.EventIncoming, Link: conn})

		go func() {
			if err := conn.answer(t.ctx, string(signal.Payload)); err != nil {
				t.logger.Debugf("Answer to %s failed: %v", signal.From, err)
				conn.shutdown()
			}
		}()
		return nil

	case transport.SignalAnswer:
		conn, ok := t.lookup(signal.LinkID)
		if !ok {
			return fmt.Errorf("unknown link %s", signal.LinkID)
		}
		return conn.acceptAnswer(string(signal.Payload))

	case transport.SignalUnavailable:
		conn, ok := t.lookup(signal.LinkID)
		if !ok {
			return fmt.Errorf("unknown link %s", signal.LinkID)
		}
		t.emit(transport.Event{Kind: transport.EventError, Link: conn, Err: transport.ErrPeerUnavailable})
		conn.shutdown()
		return nil

	default:
		return fmt.Errorf("unknown signal kind %d", signal.Kind)
	}
}

func (t *Transport) lookup(linkID string) (*connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn, ok := t.connections[linkID]
	return conn, ok
}

func (t *Transport) forget(linkID string) {
	t.mu.Lock()
	delete(t.connections, linkID)
	t.mu.Unlock()
}

func (t *Transport) emit(ev transport.Event) {
	t.mailbox.Push(ev)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*connection, 0, len(t.connections))
	for _, conn := range t.connections {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	t.cancel()
	for _, conn := range conns {
		_ = conn.Close()
	}
	err := t.signaler.Close()
	t.mailbox.Close()
	return err
}

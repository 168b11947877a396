package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

type connection struct {
	linkID   string
	peerID   string
	metadata transport.Metadata
	outbound bool

	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	transport *Transport

	mu        sync.Mutex
	sendMu    sync.Mutex
	open      bool
	closeOnce sync.Once
}

func newConnection(t *Transport, linkID, peerID string, pc *webrtc.PeerConnection, outbound bool, metadata transport.Metadata) *connection {
	conn := &connection{
		linkID:    linkID,
		peerID:    peerID,
		metadata:  metadata,
		outbound:  outbound,
		pc:        pc,
		transport: t,
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.logger.Debugf("Peer connection %s to %s is %s", linkID, peerID, s.String())
		switch s {
		case webrtc.PeerConnectionStateFailed:
			t.emit(transport.Event{Kind: transport.EventError, Link: conn, Err: fmt.Errorf("peer connection %s failed", linkID)})
			conn.shutdown()
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			conn.shutdown()
		}
	})

	if !outbound {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			conn.setupDataChannel(dc)
		})
	}

	return conn
}

func (c *connection) createDataChannel(init *webrtc.DataChannelInit) error {
	dc, err := c.pc.CreateDataChannel("data", init)
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.setupDataChannel(dc)
	return nil
}

func (c *connection) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.mu.Lock()
		c.open = true
		c.mu.Unlock()
		c.transport.emit(transport.Event{Kind: transport.EventOpen, Link: c})
	})

	// pion delivers messages of one channel sequentially.
	var frames reassembler
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data, done, err := frames.add(msg.Data)
		if err != nil {
			c.transport.logger.Warnf("Dropping frame from %s: %v", c.peerID, err)
			return
		}
		if done {
			c.transport.emit(transport.Event{Kind: transport.EventData, Link: c, Data: data})
		}
	})

	dc.OnError(func(err error) {
		c.transport.emit(transport.Event{Kind: transport.EventError, Link: c, Err: err})
	})

	dc.OnClose(func() {
		c.shutdown()
	})
}

// offer runs off the caller's goroutine: ICE gathering blocks until every
// candidate is known, and the full description travels in one signal.
func (c *connection) offer(ctx context.Context, nickname string) error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.transport.signaler.SendSignal(ctx, transport.Signal{
		Kind:     transport.SignalOffer,
		From:     c.transport.id,
		To:       c.peerID,
		LinkID:   c.linkID,
		Nickname: nickname,
		Payload:  []byte(c.pc.LocalDescription().SDP),
	})
}

func (c *connection) answer(ctx context.Context, sdp string) error {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.transport.signaler.SendSignal(ctx, transport.Signal{
		Kind:    transport.SignalAnswer,
		From:    c.transport.id,
		To:      c.peerID,
		LinkID:  c.linkID,
		Payload: []byte(c.pc.LocalDescription().SDP),
	})
}

func (c *connection) acceptAnswer(sdp string) error {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (c *connection) PeerID() string               { return c.peerID }
func (c *connection) Metadata() transport.Metadata { return c.metadata }
func (c *connection) Outbound() bool               { return c.outbound }

func (c *connection) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && c.dc != nil
}

func (c *connection) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	open := c.open
	c.mu.Unlock()

	if dc == nil || !open {
		return transport.ErrLinkClosed
	}

	frames := splitFrames(data)
	if frames == nil {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for _, frame := range frames {
		if err := dc.Send(frame); err != nil {
			return fmt.Errorf("failed to send to %s: %w", c.peerID, err)
		}
	}
	return nil
}

func (c *connection) Close() error {
	c.shutdown()
	return nil
}

// shutdown tears the connection down once and emits a single close event.
func (c *connection) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.open = false
		dc := c.dc
		c.mu.Unlock()

		if dc != nil {
			_ = dc.Close()
		}
		_ = c.pc.Close()

		c.transport.forget(c.linkID)
		c.transport.emit(transport.Event{Kind: transport.EventClose, Link: c})
	})
}

// Package transport defines the link abstraction the session runs on: one
// reliable, ordered, message-based channel per pair of peers.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrIDTaken means the requested self id is already registered.
	ErrIDTaken = errors.New("peer id already in use")
	// ErrPeerUnavailable means the dialed id is unknown or offline.
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrLinkClosed      = errors.New("link closed")
	ErrTransportClosed = errors.New("transport closed")
)

type Transport interface {
	// ID is the peer id this transport is registered under.
	ID() string
	// Connect starts dialing peerID and returns immediately; readiness is
	// reported later as an EventOpen for the returned link.
	Connect(ctx context.Context, peerID string, metadata Metadata) (Link, error)
	// Events carries every link event, including inbound links.
	Events() <-chan Event
	Close() error
}

type Link interface {
	PeerID() string
	// Metadata is the dialer's metadata; empty on links we dialed.
	Metadata() Metadata
	// Outbound reports whether the local side dialed this link.
	Outbound() bool
	Open() bool
	// Send is fire-and-forget; delivery failures surface as later
	// close/error events.
	Send(data []byte) error
	Close() error
}

type Metadata struct {
	Nickname string
}

type EventKind int

const (
	EventIncoming EventKind = iota
	EventOpen
	EventData
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventIncoming:
		return "incoming"
	case EventOpen:
		return "open"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	Link Link
	Data []byte
	Err  error
}

// Signaler exchanges session descriptions with remote peers through a
// rendezvous service.
type Signaler interface {
	// Register claims id (or asks for one to be assigned when empty) and
	// returns the id actually registered.
	Register(ctx context.Context, id string) (string, error)
	SendSignal(ctx context.Context, signal Signal) error
	RecvSignal() <-chan Signal
	io.Closer
}

type SignalKind int

const (
	SignalOffer SignalKind = iota + 1
	SignalAnswer
	SignalUnavailable
)

type Signal struct {
	Kind     SignalKind
	From     string
	To       string
	LinkID   string
	Nickname string
	Payload  []byte
}

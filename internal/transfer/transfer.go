// Package transfer implements chunked file transfer over the dispatcher:
// paced chunk emission with cancellation on the sending side, idempotent
// reassembly with count-driven completion on the receiving side.
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
)

var (
	ErrUnknownTransfer = errors.New("unknown transfer")
	ErrNoRecipients    = errors.New("no recipients")
	ErrEmptyFileName   = errors.New("empty file name")
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Reason says why a transfer ended without completing.
type Reason string

const (
	ReasonCancelled    Reason = "cancelled"
	ReasonDeclined     Reason = "declined"
	ReasonDisconnected Reason = "disconnected"
	ReasonIncomplete   Reason = "incomplete"
	ReasonFailed       Reason = "failed"
)

type Progress struct {
	TransferID string
	FileName   string
	Direction  Direction
	Bytes      int64
	Total      int64
	Percent    float64
	// Speed is in bytes per second since the transfer started.
	Speed float64
	ETA   time.Duration
	Done  bool
}

// Offer is an announced inbound transfer waiting for Accept or Decline.
type Offer struct {
	TransferID string
	FileName   string
	Size       int64
	From       string
	Nickname   string
}

// Record is one completed transfer.
type Record struct {
	TransferID string
	FileName   string
	Size       int64
	Direction  Direction
	Peer       string
	Path       string
	At         time.Time
}

// Ended reports a transfer that stopped without completing.
type Ended struct {
	TransferID string
	FileName   string
	Direction  Direction
	Reason     Reason
}

// Sender is the part of the dispatcher the engine needs.
type Sender interface {
	Broadcast(msg protocol.Message) int
	SendToSubset(ids []string, msg protocol.Message) bool
}

// Observer receives transfer notifications on the session loop.
type Observer interface {
	Progress(p Progress)
	Offered(o Offer)
	Completed(r Record)
	Ended(e Ended)
}

// HistoryStore persists completed transfers.
type HistoryStore interface {
	AddTransfer(ctx context.Context, r Record) error
	RecentTransfers(ctx context.Context, limit int) ([]Record, error)
	ClearTransfers(ctx context.Context) error
}

// Delivery receives every fully reassembled file.
type Delivery interface {
	Deliver(fileName string, data []byte) (string, error)
}

type NopObserver struct{}

func (NopObserver) Progress(Progress) {}
func (NopObserver) Offered(Offer)     {}
func (NopObserver) Completed(Record)  {}
func (NopObserver) Ended(Ended)       {}

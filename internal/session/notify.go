package session

import (
	"github.com/rudransh-shrivastava/peer-mesh/internal/chat"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transfer"
)

type NotificationKind int

const (
	PeerJoined NotificationKind = iota + 1
	PeerLeft
	TransferOffered
	TransferProgress
	TransferCompleted
	TransferEnded
	ChatReceived
	LinkFailed
)

func (k NotificationKind) String() string {
	switch k {
	case PeerJoined:
		return "peer-joined"
	case PeerLeft:
		return "peer-left"
	case TransferOffered:
		return "transfer-offered"
	case TransferProgress:
		return "transfer-progress"
	case TransferCompleted:
		return "transfer-completed"
	case TransferEnded:
		return "transfer-ended"
	case ChatReceived:
		return "chat-received"
	case LinkFailed:
		return "link-failed"
	default:
		return "unknown"
	}
}

// Notification is one user-visible event. Only the fields matching Kind
// are set.
type Notification struct {
	Kind     NotificationKind
	PeerID   string
	Nickname string

	Progress transfer.Progress
	Offer    transfer.Offer
	Record   transfer.Record
	Ended    transfer.Ended
	Chat     chat.Message
	Err      error
}

// engineObserver forwards transfer events as notifications.
type engineObserver struct {
	s *Session
}

func (o engineObserver) Progress(p transfer.Progress) {
	o.s.notify(Notification{Kind: TransferProgress, Progress: p})
}

func (o engineObserver) Offered(f transfer.Offer) {
	o.s.notify(Notification{Kind: TransferOffered, PeerID: f.From, Nickname: f.Nickname, Offer: f})
}

func (o engineObserver) Completed(r transfer.Record) {
	o.s.notify(Notification{Kind: TransferCompleted, PeerID: r.Peer, Record: r})
}

func (o engineObserver) Ended(e transfer.Ended) {
	o.s.notify(Notification{Kind: TransferEnded, Ended: e})
}

// notify never blocks the loop. Progress is dropped first when the
// consumer falls behind.
func (s *Session) notify(n Notification) {
	if n.Kind == TransferProgress && len(s.notes) >= cap(s.notes)/2 {
		return
	}
	select {
	case s.notes <- n:
	default:
		s.logger.Debugf("Dropping %s notification", n.Kind)
	}
}

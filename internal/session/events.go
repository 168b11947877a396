package session

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/chat"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventIncoming:
		if s.disp.Accept(ev.Link) {
			s.logger.Debugf("Accepted link from %s", ev.Link.PeerID())
		}
	case transport.EventOpen:
		s.linkOpened(ev.Link)
	case transport.EventData:
		msg, err := s.codec.DecodeFromBytes(ev.Data)
		if err != nil {
			s.logger.Warnf("Dropping undecodable message from %s: %v", ev.Link.PeerID(), err)
			return
		}
		s.handleMessage(ev.Link.PeerID(), msg)
	case transport.EventClose:
		if peer, ok := s.disp.HandleClose(ev.Link); ok {
			s.peerGone(peer)
		}
	case transport.EventError:
		peer, ok := s.disp.HandleError(ev.Link)
		if !ok {
			s.logger.Debugf("Error on superseded link to %s: %v", ev.Link.PeerID(), ev.Err)
			return
		}
		s.logger.Warnf("Link to %s failed: %v", peer, ev.Err)
		s.notify(Notification{Kind: LinkFailed, PeerID: peer, Nickname: s.dir.Nickname(peer), Err: ev.Err})
		s.peerGone(peer)
	}
}

func (s *Session) linkOpened(link transport.Link) {
	if !s.disp.HandleOpen(link) {
		return
	}
	peer := link.PeerID()
	s.logger.Infof("Link to %s open", peer)
	if s.mesh.LinkOpened(link) {
		s.joined(peer)
	}
	s.monitor.Update(s.disp.OpenCount())
}

func (s *Session) peerGone(peer string) {
	s.engine.PeerClosed(peer)
	if nickname, ok := s.mesh.PeerClosed(peer); ok {
		s.left(peer, nickname)
	}
	s.monitor.Update(s.disp.OpenCount())
}

func (s *Session) joined(ids ...string) {
	for _, id := range ids {
		nickname := s.dir.Nickname(id)
		s.logger.Infof("%s joined", nickname)
		s.notify(Notification{Kind: PeerJoined, PeerID: id, Nickname: nickname})
	}
}

func (s *Session) left(id, nickname string) {
	s.logger.Infof("%s left", nickname)
	s.notify(Notification{Kind: PeerLeft, PeerID: id, Nickname: nickname})
}

func (s *Session) handleMessage(from string, msg protocol.Message) {
	s.logger.Debugf("Received %s from %s", msg.Type(), from)

	switch m := msg.(type) {
	case *protocol.Nickname:
		if s.mesh.HandleNickname(from, m) {
			s.joined(from)
		}
	case *protocol.RequestDevices:
		s.mesh.HandleRequestDevices(from, m)
	case *protocol.DevicesList:
		s.joined(s.mesh.HandleDevicesList(from, m)...)
	case *protocol.NewDevice:
		s.joined(s.mesh.HandleNewDevice(from, m)...)
	case *protocol.DeviceLeft:
		nickname, ok := s.mesh.HandleDeviceLeft(from, m)
		if !ok {
			return
		}
		s.disp.Disconnect(m.DeviceID)
		s.engine.PeerClosed(m.DeviceID)
		s.monitor.Update(s.disp.OpenCount())
		s.left(m.DeviceID, nickname)
	case *protocol.Heartbeat:
	case *protocol.FileMeta:
		s.engine.HandleMeta(from, m)
	case *protocol.FileChunk:
		s.engine.HandleChunk(from, m)
	case *protocol.FileComplete:
		s.engine.HandleComplete(from, m)
	case *protocol.FileCancelled:
		s.engine.HandleCancelled(from, m)
	case *protocol.Chat:
		s.receiveChat(from, m)
	default:
		s.logger.Warnf("Ignoring message of type %T from %s", msg, from)
	}
}

func (s *Session) receiveChat(from string, m *protocol.Chat) {
	at := s.loop.Now()
	if m.Time > 0 {
		at = time.UnixMilli(m.Time)
	}
	nickname := m.SenderNickname
	if nickname == "" {
		nickname = s.dir.Nickname(from)
	}
	msg := chat.Message{
		Content:        m.Content,
		SenderNickname: nickname,
		Direction:      chat.DirectionReceived,
		Peer:           from,
		At:             at,
	}
	if err := s.chat.Append(context.Background(), msg); err != nil {
		s.logger.Warnf("Failed to persist chat message: %v", err)
	}
	s.notify(Notification{Kind: ChatReceived, PeerID: from, Nickname: nickname, Chat: msg})
}

package transfer

import (
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/loop"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
)

type inboundTransfer struct {
	id          string
	fileName    string
	size        int64
	totalChunks int
	from        string
	nickname    string
	chunks      map[int][]byte
	received    int
	bytes       int64
	accepted    bool
	// completeSeen records the sender's completion signal.
	completeSeen bool
	polls        int
	poll         loop.Timer
	startedAt    time.Time
	lastReport   time.Time
}

func (in *inboundTransfer) progress(now time.Time) Progress {
	return computeProgress(in.id, in.fileName, DirectionReceived, in.bytes, in.size, in.startedAt, now)
}

func (in *inboundTransfer) offer() Offer {
	return Offer{
		TransferID: in.id,
		FileName:   in.fileName,
		Size:       in.size,
		From:       in.from,
		Nickname:   in.nickname,
	}
}

// HandleMeta starts an inbound transfer. Announcements for known or
// finished ids are ignored.
func (e *Engine) HandleMeta(from string, m *protocol.FileMeta) {
	if _, ok := e.inbound[m.TransferID]; ok || e.finished[m.TransferID] {
		e.logger.Debugf("Ignoring repeated announcement of %s", m.TransferID)
		return
	}
	if !validMeta(m) {
		e.logger.Warnf("Ignoring malformed announcement from %s", from)
		return
	}

	in := &inboundTransfer{
		id:          m.TransferID,
		fileName:    m.FileName,
		size:        m.FileSize,
		totalChunks: m.TotalChunks,
		from:        from,
		nickname:    m.SenderNickname,
		chunks:      make(map[int][]byte, m.TotalChunks),
		accepted:    e.accept,
		startedAt:   e.sched.Now(),
	}
	e.inbound[in.id] = in
	e.logger.Infof("Receiving %s (%d bytes) from %s", in.fileName, in.size, from)

	if !in.accepted {
		e.observer.Offered(in.offer())
		return
	}
	e.maybeFinish(in)
}

// validMeta rejects announcements whose chunk count cannot describe the
// announced size.
func validMeta(m *protocol.FileMeta) bool {
	if m.TransferID == "" || m.FileSize < 0 || m.TotalChunks < 0 {
		return false
	}
	if (m.FileSize == 0) != (m.TotalChunks == 0) {
		return false
	}
	return int64(m.TotalChunks) <= m.FileSize
}

// HandleChunk stores one chunk. Unknown transfers, out-of-range indexes and
// duplicates are ignored.
func (e *Engine) HandleChunk(from string, m *protocol.FileChunk) {
	in, ok := e.inbound[m.TransferID]
	if !ok {
		return
	}
	if m.ChunkIndex < 0 || m.ChunkIndex >= in.totalChunks {
		e.logger.Debugf("Ignoring chunk %d of %s: out of range", m.ChunkIndex, in.fileName)
		return
	}
	if _, dup := in.chunks[m.ChunkIndex]; dup {
		return
	}

	in.chunks[m.ChunkIndex] = m.Chunk
	in.received++
	in.bytes += int64(len(m.Chunk))

	now := e.sched.Now()
	if in.received < in.totalChunks && e.shouldReport(in.lastReport, now) {
		in.lastReport = now
		e.observer.Progress(in.progress(now))
	}
	e.maybeFinish(in)
}

// HandleComplete is the fallback trigger: when chunks are still missing it
// polls a bounded number of times before giving up.
func (e *Engine) HandleComplete(from string, m *protocol.FileComplete) {
	in, ok := e.inbound[m.TransferID]
	if !ok {
		return
	}
	in.completeSeen = true
	if e.maybeFinish(in) {
		return
	}
	if in.accepted {
		e.schedulePoll(in)
	}
}

func (e *Engine) HandleCancelled(from string, m *protocol.FileCancelled) {
	in, ok := e.inbound[m.TransferID]
	e.finished[m.TransferID] = true
	if !ok {
		return
	}
	e.logger.Infof("%s was cancelled by the sender", in.fileName)
	e.dropInbound(in.id)
	e.observer.Ended(Ended{TransferID: in.id, FileName: in.fileName, Direction: DirectionReceived, Reason: ReasonCancelled})
}

// Accept lets an offered transfer deliver once complete.
func (e *Engine) Accept(id string) error {
	in, ok := e.inbound[id]
	if !ok {
		return ErrUnknownTransfer
	}
	if in.accepted {
		return nil
	}
	in.accepted = true
	if !e.maybeFinish(in) && in.completeSeen {
		e.schedulePoll(in)
	}
	return nil
}

// Decline discards an offered transfer and ignores the rest of its chunks.
func (e *Engine) Decline(id string) error {
	in, ok := e.inbound[id]
	if !ok {
		return ErrUnknownTransfer
	}
	e.dropInbound(id)
	e.observer.Ended(Ended{TransferID: id, FileName: in.fileName, Direction: DirectionReceived, Reason: ReasonDeclined})
	return nil
}

func (e *Engine) schedulePoll(in *inboundTransfer) {
	if in.poll != nil {
		return
	}
	in.poll = e.sched.AfterFunc(e.poll, func() {
		current, ok := e.inbound[in.id]
		if !ok || current != in {
			return
		}
		in.poll = nil
		in.polls++
		if e.maybeFinish(in) {
			return
		}
		if in.polls >= e.retries {
			e.logger.Warnf("Giving up on %s: %d of %d chunks arrived", in.fileName, in.received, in.totalChunks)
			e.dropInbound(in.id)
			e.observer.Ended(Ended{TransferID: in.id, FileName: in.fileName, Direction: DirectionReceived, Reason: ReasonIncomplete})
			return
		}
		e.schedulePoll(in)
	})
}

// maybeFinish delivers the transfer once every chunk arrived and it was
// accepted. It reports whether the transfer is gone.
func (e *Engine) maybeFinish(in *inboundTransfer) bool {
	if in.received < in.totalChunks || !in.accepted {
		return false
	}

	if in.bytes != in.size {
		e.logger.Warnf("Discarding %s: got %d bytes, announced %d", in.fileName, in.bytes, in.size)
		e.dropInbound(in.id)
		e.observer.Ended(Ended{TransferID: in.id, FileName: in.fileName, Direction: DirectionReceived, Reason: ReasonIncomplete})
		return true
	}

	data, ok := Assemble(in.chunks, in.totalChunks)
	if !ok {
		return false
	}
	e.dropInbound(in.id)

	path, err := e.delivery.Deliver(in.fileName, data)
	if err != nil {
		e.logger.Warnf("Failed to deliver %s: %v", in.fileName, err)
		e.observer.Ended(Ended{TransferID: in.id, FileName: in.fileName, Direction: DirectionReceived, Reason: ReasonFailed})
		return true
	}

	now := e.sched.Now()
	e.observer.Progress(in.progress(now))
	e.logger.Infof("Received %s", in.fileName)
	e.record(Record{
		TransferID: in.id,
		FileName:   in.fileName,
		Size:       in.size,
		Direction:  DirectionReceived,
		Peer:       in.from,
		Path:       path,
		At:         now,
	})
	return true
}

func (e *Engine) dropInbound(id string) {
	in, ok := e.inbound[id]
	if !ok {
		return
	}
	if in.poll != nil {
		in.poll.Stop()
		in.poll = nil
	}
	in.chunks = nil
	delete(e.inbound, id)
	e.finished[id] = true
}

package transfer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-mesh/internal/loop"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
)

type outboundTransfer struct {
	id          string
	fileName    string
	size        int64
	totalChunks int
	cursor      int
	sent        int64
	cancelled   bool
	// targets is nil for a broadcast.
	targets    []string
	source     io.ReaderAt
	closer     io.Closer
	startedAt  time.Time
	lastReport time.Time
	timer      loop.Timer
}

func (o *outboundTransfer) removeTarget(peer string) bool {
	for i, id := range o.targets {
		if id == peer {
			o.targets = append(o.targets[:i], o.targets[i+1:]...)
			return true
		}
	}
	return false
}

func (o *outboundTransfer) progress(now time.Time) Progress {
	return computeProgress(o.id, o.fileName, DirectionSent, o.sent, o.size, o.startedAt, now)
}

// SendFile streams the file at path to targets, or to everyone when
// targets is empty. It returns the new transfer id.
func (e *Engine) SendFile(path string, targets []string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return "", fmt.Errorf("%s is a directory", path)
	}

	id, err := e.send(ExtractFileName(path), f, info.Size(), targets, f)
	if err != nil {
		_ = f.Close()
		return "", err
	}
	return id, nil
}

// SendData sends an in-memory file.
func (e *Engine) SendData(fileName string, data []byte, targets []string) (string, error) {
	return e.send(fileName, bytes.NewReader(data), int64(len(data)), targets, nil)
}

func (e *Engine) send(fileName string, source io.ReaderAt, size int64, targets []string, closer io.Closer) (string, error) {
	if fileName == "" {
		return "", ErrEmptyFileName
	}

	o := &outboundTransfer{
		id:          uuid.NewString(),
		fileName:    fileName,
		size:        size,
		totalChunks: CalculateTotalChunks(size, e.chunkSize),
		source:      source,
		closer:      closer,
		startedAt:   e.sched.Now(),
	}
	if len(targets) > 0 {
		o.targets = append([]string(nil), targets...)
	}

	meta := &protocol.FileMeta{
		TransferID:     o.id,
		FileName:       o.fileName,
		FileSize:       o.size,
		TotalChunks:    o.totalChunks,
		SenderNickname: e.nickname,
	}
	if !e.emit(o, meta) {
		return "", ErrNoRecipients
	}

	e.outbound[o.id] = o
	e.logger.Infof("Sending %s (%d bytes, %d chunks)", o.fileName, o.size, o.totalChunks)
	o.timer = e.sched.AfterFunc(e.interval, func() { e.tick(o.id) })
	return o.id, nil
}

// Cancel stops an outbound transfer at its next tick. Cancellation cannot
// be undone.
func (e *Engine) Cancel(id string) error {
	o, ok := e.outbound[id]
	if !ok {
		return ErrUnknownTransfer
	}
	o.cancelled = true
	return nil
}

func (e *Engine) emit(o *outboundTransfer, msg protocol.Message) bool {
	if o.targets == nil {
		return e.sender.Broadcast(msg) > 0
	}
	return e.sender.SendToSubset(o.targets, msg)
}

// tick emits one chunk. The cancellation flag is checked before anything
// else so no chunk follows a cancel.
func (e *Engine) tick(id string) {
	o, ok := e.outbound[id]
	if !ok {
		return
	}
	o.timer = nil

	if o.cancelled {
		e.emit(o, &protocol.FileCancelled{TransferID: o.id, FileName: o.fileName})
		e.logger.Infof("Cancelled %s after %d of %d chunks", o.fileName, o.cursor, o.totalChunks)
		e.dropOutbound(id)
		e.observer.Ended(Ended{TransferID: id, FileName: o.fileName, Direction: DirectionSent, Reason: ReasonCancelled})
		return
	}

	if o.cursor < o.totalChunks {
		data, err := ReadChunkData(o.source, o.cursor, e.chunkSize, o.size)
		if err != nil {
			e.logger.Warnf("Failed to read chunk %d of %s: %v", o.cursor, o.fileName, err)
			e.emit(o, &protocol.FileCancelled{TransferID: o.id, FileName: o.fileName})
			e.dropOutbound(id)
			e.observer.Ended(Ended{TransferID: id, FileName: o.fileName, Direction: DirectionSent, Reason: ReasonFailed})
			return
		}

		chunk := &protocol.FileChunk{
			TransferID:  o.id,
			ChunkIndex:  o.cursor,
			Chunk:       data,
			TotalChunks: o.totalChunks,
		}
		if !e.emit(o, chunk) {
			e.logger.Warnf("Abandoning %s: no recipients left", o.fileName)
			e.dropOutbound(id)
			e.observer.Ended(Ended{TransferID: id, FileName: o.fileName, Direction: DirectionSent, Reason: ReasonDisconnected})
			return
		}
		o.cursor++
		o.sent += int64(len(data))
	}

	now := e.sched.Now()
	if o.cursor < o.totalChunks {
		if e.shouldReport(o.lastReport, now) {
			o.lastReport = now
			e.observer.Progress(o.progress(now))
		}
		o.timer = e.sched.AfterFunc(e.interval, func() { e.tick(id) })
		return
	}

	e.emit(o, &protocol.FileComplete{TransferID: o.id, FileSize: o.size})
	e.observer.Progress(o.progress(now))
	e.logger.Infof("Sent %s", o.fileName)
	e.dropOutbound(id)

	peer := ""
	if len(o.targets) == 1 {
		peer = o.targets[0]
	}
	e.record(Record{
		TransferID: o.id,
		FileName:   o.fileName,
		Size:       o.size,
		Direction:  DirectionSent,
		Peer:       peer,
		At:         now,
	})
}

func (e *Engine) dropOutbound(id string) {
	o, ok := e.outbound[id]
	if !ok {
		return
	}
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if o.closer != nil {
		_ = o.closer.Close()
	}
	delete(e.outbound, id)
	e.finished[id] = true
}

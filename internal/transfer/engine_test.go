package transfer

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/logger"
	"github.com/rudransh-shrivastava/peer-mesh/internal/loop"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
)

type recordingSender struct {
	// recipients is what Broadcast reports.
	recipients int
	msgs       []protocol.Message
}

func (s *recordingSender) Broadcast(msg protocol.Message) int {
	s.msgs = append(s.msgs, msg)
	return s.recipients
}

func (s *recordingSender) SendToSubset(ids []string, msg protocol.Message) bool {
	if len(ids) == 0 {
		return false
	}
	s.msgs = append(s.msgs, msg)
	return true
}

func (s *recordingSender) chunks() []*protocol.FileChunk {
	var out []*protocol.FileChunk
	for _, m := range s.msgs {
		if c, ok := m.(*protocol.FileChunk); ok {
			out = append(out, c)
		}
	}
	return out
}

type recordingObserver struct {
	progress  []Progress
	offers    []Offer
	completed []Record
	ended     []Ended
}

func (o *recordingObserver) Progress(p Progress) { o.progress = append(o.progress, p) }
func (o *recordingObserver) Offered(f Offer)     { o.offers = append(o.offers, f) }
func (o *recordingObserver) Completed(r Record)  { o.completed = append(o.completed, r) }
func (o *recordingObserver) Ended(e Ended)       { o.ended = append(o.ended, e) }

type harness struct {
	sched    *loop.Manual
	sender   *recordingSender
	observer *recordingObserver
	delivery *MemoryDelivery
	engine   *Engine
}

func newHarness(t *testing.T, chunkSize int, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		sched:    loop.NewManual(),
		sender:   &recordingSender{recipients: 1},
		observer: &recordingObserver{},
		delivery: NewMemoryDelivery(),
	}
	opts := Options{
		Sender:            h.sender,
		Scheduler:         h.sched,
		ChunkSize:         chunkSize,
		ChunkInterval:     5 * time.Millisecond,
		ProgressInterval:  100 * time.Millisecond,
		CompletionPoll:    100 * time.Millisecond,
		CompletionRetries: 10,
		AutoAccept:        true,
		HistoryLimit:      20,
		Nickname:          "Sender",
		Delivery:          h.delivery,
		Observer:          h.observer,
		Logger:            logger.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.engine = New(opts)
	return h
}

// feed hands msgs to the engine as if they arrived from peer.
func (h *harness) feed(peer string, msgs ...protocol.Message) {
	for _, m := range msgs {
		switch msg := m.(type) {
		case *protocol.FileMeta:
			h.engine.HandleMeta(peer, msg)
		case *protocol.FileChunk:
			h.engine.HandleChunk(peer, msg)
		case *protocol.FileComplete:
			h.engine.HandleComplete(peer, msg)
		case *protocol.FileCancelled:
			h.engine.HandleCancelled(peer, msg)
		}
	}
}

func randomBytes(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func TestSendAndReceive150KBIn64KBChunks(t *testing.T) {
	const chunkSize = 64 * 1024
	tx := newHarness(t, chunkSize, nil)
	rx := newHarness(t, chunkSize, nil)
	data := randomBytes(150 * 1024)

	id, err := tx.engine.SendData("photo.jpg", data, nil)
	if err != nil {
		t.Fatalf("SendData failed: %v", err)
	}

	meta, ok := tx.sender.msgs[0].(*protocol.FileMeta)
	if !ok {
		t.Fatalf("expected announcement first, got %T", tx.sender.msgs[0])
	}
	if meta.TotalChunks != 3 || meta.FileSize != int64(len(data)) || meta.SenderNickname != "Sender" {
		t.Errorf("unexpected announcement %+v", meta)
	}

	tx.sched.Advance(time.Second)

	chunks := tx.sender.chunks()
	want := []int{64 * 1024, 64 * 1024, 22 * 1024}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i || len(c.Chunk) != want[i] || c.TotalChunks != 3 {
			t.Errorf("chunk %d: index %d, %d bytes", i, c.ChunkIndex, len(c.Chunk))
		}
	}
	last := tx.sender.msgs[len(tx.sender.msgs)-1]
	if done, ok := last.(*protocol.FileComplete); !ok || done.TransferID != id {
		t.Fatalf("expected completion last, got %T", last)
	}

	rx.feed("sender", tx.sender.msgs...)

	got, ok := rx.delivery.Files["photo.jpg"]
	if !ok {
		t.Fatal("file was not delivered")
	}
	if len(got) != 150*1024 || !bytes.Equal(got, data) {
		t.Errorf("delivered %d bytes, content match %v", len(got), bytes.Equal(got, data))
	}

	if h := tx.engine.History(); len(h) != 1 || h[0].Direction != DirectionSent {
		t.Errorf("expected one sent record, got %+v", h)
	}
	if h := rx.engine.History(); len(h) != 1 || h[0].Direction != DirectionReceived || h[0].Peer != "sender" {
		t.Errorf("expected one received record, got %+v", h)
	}
}

func TestReassemblyOutOfOrderWithDuplicates(t *testing.T) {
	rx := newHarness(t, 4, nil)
	meta := &protocol.FileMeta{TransferID: "t1", FileName: "a.txt", FileSize: 10, TotalChunks: 3}
	rx.feed("peer", meta)

	rx.feed("peer",
		&protocol.FileChunk{TransferID: "t1", ChunkIndex: 2, Chunk: []byte("ij"), TotalChunks: 3},
		&protocol.FileChunk{TransferID: "t1", ChunkIndex: 0, Chunk: []byte("abcd"), TotalChunks: 3},
		&protocol.FileChunk{TransferID: "t1", ChunkIndex: 0, Chunk: []byte("XXXX"), TotalChunks: 3},
	)

	in, ok := rx.engine.inbound["t1"]
	if !ok {
		t.Fatal("transfer should still be in progress")
	}
	if in.received != 2 {
		t.Errorf("duplicate chunk changed receivedCount: %d", in.received)
	}
	if string(in.chunks[0]) != "abcd" {
		t.Errorf("duplicate chunk corrupted buffer: %q", in.chunks[0])
	}
	if len(rx.delivery.Files) != 0 {
		t.Fatal("delivered with a chunk missing")
	}

	rx.feed("peer", &protocol.FileChunk{TransferID: "t1", ChunkIndex: 1, Chunk: []byte("efgh"), TotalChunks: 3})

	if got := string(rx.delivery.Files["a.txt"]); got != "abcdefghij" {
		t.Errorf("expected 'abcdefghij', got %q", got)
	}

	// The late completion signal finds nothing to do.
	rx.feed("peer", &protocol.FileComplete{TransferID: "t1", FileSize: 10})
	if len(rx.observer.completed) != 1 {
		t.Errorf("expected exactly one completion, got %d", len(rx.observer.completed))
	}
}

func TestCancelAfterKChunks(t *testing.T) {
	tx := newHarness(t, 16, nil)
	rx := newHarness(t, 16, nil)

	id, err := tx.engine.SendData("big.bin", randomBytes(160), nil)
	if err != nil {
		t.Fatalf("SendData failed: %v", err)
	}

	tx.sched.Advance(15 * time.Millisecond)
	const k = 3
	if n := len(tx.sender.chunks()); n != k {
		t.Fatalf("expected %d chunks before cancel, got %d", k, n)
	}

	rx.feed("sender", tx.sender.msgs...)
	if _, ok := rx.engine.inbound[id]; !ok {
		t.Fatal("receiver should hold partial state")
	}

	if err := tx.engine.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	sentBefore := len(tx.sender.msgs)
	tx.sched.Advance(time.Second)

	for _, c := range tx.sender.chunks() {
		if c.ChunkIndex >= k {
			t.Errorf("chunk %d emitted after cancel", c.ChunkIndex)
		}
	}
	tail := tx.sender.msgs[sentBefore:]
	if len(tail) != 1 {
		t.Fatalf("expected only a cancellation notice, got %d messages", len(tail))
	}
	notice, ok := tail[0].(*protocol.FileCancelled)
	if !ok || notice.TransferID != id || notice.FileName != "big.bin" {
		t.Fatalf("expected cancellation notice, got %#v", tail[0])
	}

	if err := tx.engine.Cancel(id); err != ErrUnknownTransfer {
		t.Errorf("expected ErrUnknownTransfer after cancel, got %v", err)
	}

	rx.feed("sender", notice)
	if _, ok := rx.engine.inbound[id]; ok {
		t.Error("receiver state should be purged")
	}
	if len(rx.observer.ended) != 1 || rx.observer.ended[0].Reason != ReasonCancelled {
		t.Errorf("expected one cancellation notice, got %+v", rx.observer.ended)
	}
	if len(rx.delivery.Files) != 0 {
		t.Error("cancelled transfer must not be delivered")
	}
}

func TestStragglerPollGivesUp(t *testing.T) {
	rx := newHarness(t, 4, nil)
	rx.feed("peer",
		&protocol.FileMeta{TransferID: "t1", FileName: "a.txt", FileSize: 8, TotalChunks: 2},
		&protocol.FileChunk{TransferID: "t1", ChunkIndex: 0, Chunk: []byte("abcd"), TotalChunks: 2},
		&protocol.FileComplete{TransferID: "t1", FileSize: 8},
	)

	rx.sched.Advance(900 * time.Millisecond)
	if _, ok := rx.engine.inbound["t1"]; !ok {
		t.Fatal("gave up before the retries ran out")
	}

	rx.sched.Advance(100 * time.Millisecond)
	if _, ok := rx.engine.inbound["t1"]; ok {
		t.Fatal("expected to give up after the last poll")
	}
	if len(rx.delivery.Files) != 0 {
		t.Error("incomplete transfer must not be delivered")
	}
	if rx.sched.Pending() != 0 {
		t.Errorf("expected no pending polls, got %d", rx.sched.Pending())
	}

	// A straggler after giving up is ignored.
	rx.feed("peer", &protocol.FileChunk{TransferID: "t1", ChunkIndex: 1, Chunk: []byte("efgh"), TotalChunks: 2})
	if len(rx.delivery.Files) != 0 {
		t.Error("late chunk revived an abandoned transfer")
	}
}

func TestStragglerArrivesDuringPoll(t *testing.T) {
	rx := newHarness(t, 4, nil)
	rx.feed("peer",
		&protocol.FileMeta{TransferID: "t1", FileName: "a.txt", FileSize: 8, TotalChunks: 2},
		&protocol.FileChunk{TransferID: "t1", ChunkIndex: 1, Chunk: []byte("efgh"), TotalChunks: 2},
		&protocol.FileComplete{TransferID: "t1", FileSize: 8},
	)
	rx.sched.Advance(250 * time.Millisecond)

	rx.feed("peer", &protocol.FileChunk{TransferID: "t1", ChunkIndex: 0, Chunk: []byte("abcd"), TotalChunks: 2})
	if got := string(rx.delivery.Files["a.txt"]); got != "abcdefgh" {
		t.Errorf("expected 'abcdefgh', got %q", got)
	}
	if rx.sched.Pending() != 0 {
		t.Errorf("poll should be withdrawn after completion, got %d pending", rx.sched.Pending())
	}
}

func TestRepeatedAnnouncementIgnored(t *testing.T) {
	rx := newHarness(t, 4, nil)
	meta := &protocol.FileMeta{TransferID: "t1", FileName: "a.txt", FileSize: 4, TotalChunks: 1}

	rx.feed("peer", meta, &protocol.FileChunk{TransferID: "t1", ChunkIndex: 0, Chunk: []byte("abcd"), TotalChunks: 1})
	rx.feed("relay", meta)

	if len(rx.engine.inbound) != 0 {
		t.Error("re-announcement of a finished transfer created new state")
	}
	if len(rx.observer.completed) != 1 {
		t.Errorf("expected one completion, got %d", len(rx.observer.completed))
	}
}

func TestMalformedAnnouncementIgnored(t *testing.T) {
	rx := newHarness(t, 4, nil)
	rx.feed("peer",
		&protocol.FileMeta{TransferID: "t1", FileName: "a.txt", FileSize: 4, TotalChunks: 9},
		&protocol.FileMeta{TransferID: "t2", FileName: "b.txt", FileSize: 4, TotalChunks: 0},
	)

	if len(rx.engine.inbound) != 0 {
		t.Errorf("expected no transfers, got %d", len(rx.engine.inbound))
	}
}

func TestEmptyFileCompletesOnAnnouncement(t *testing.T) {
	tx := newHarness(t, 16, nil)
	rx := newHarness(t, 16, nil)

	if _, err := tx.engine.SendData("empty.txt", nil, nil); err != nil {
		t.Fatalf("SendData failed: %v", err)
	}
	tx.sched.Advance(5 * time.Millisecond)
	rx.feed("sender", tx.sender.msgs...)

	data, ok := rx.delivery.Files["empty.txt"]
	if !ok || len(data) != 0 {
		t.Errorf("expected empty file delivered, got %v %d", ok, len(data))
	}
}

func TestAcceptAndDecline(t *testing.T) {
	rx := newHarness(t, 4, func(o *Options) { o.AutoAccept = false })
	msgs := []protocol.Message{
		&protocol.FileMeta{TransferID: "t1", FileName: "a.txt", FileSize: 4, TotalChunks: 1, SenderNickname: "Alice"},
		&protocol.FileChunk{TransferID: "t1", ChunkIndex: 0, Chunk: []byte("abcd"), TotalChunks: 1},
		&protocol.FileComplete{TransferID: "t1", FileSize: 4},
		&protocol.FileMeta{TransferID: "t2", FileName: "b.txt", FileSize: 4, TotalChunks: 1},
	}
	rx.feed("alice", msgs...)

	if len(rx.observer.offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(rx.observer.offers))
	}
	if rx.observer.offers[0].Nickname != "Alice" || rx.observer.offers[0].From != "alice" {
		t.Errorf("unexpected offer %+v", rx.observer.offers[0])
	}
	if len(rx.delivery.Files) != 0 {
		t.Fatal("delivered before acceptance")
	}
	if len(rx.engine.Offers()) != 2 {
		t.Errorf("expected 2 pending offers, got %d", len(rx.engine.Offers()))
	}

	if err := rx.engine.Accept("t1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if string(rx.delivery.Files["a.txt"]) != "abcd" {
		t.Error("accepted transfer was not delivered")
	}

	if err := rx.engine.Decline("t2"); err != nil {
		t.Fatalf("Decline failed: %v", err)
	}
	rx.feed("alice", &protocol.FileChunk{TransferID: "t2", ChunkIndex: 0, Chunk: []byte("wxyz"), TotalChunks: 1})
	if _, ok := rx.delivery.Files["b.txt"]; ok {
		t.Error("declined transfer was delivered")
	}
	if len(rx.observer.ended) != 1 || rx.observer.ended[0].Reason != ReasonDeclined {
		t.Errorf("expected a declined notice, got %+v", rx.observer.ended)
	}

	if err := rx.engine.Accept("missing"); err != ErrUnknownTransfer {
		t.Errorf("expected ErrUnknownTransfer, got %v", err)
	}
}

func TestPeerClosedAbandonsTransfers(t *testing.T) {
	h := newHarness(t, 4, nil)

	h.feed("alice",
		&protocol.FileMeta{TransferID: "in", FileName: "a.txt", FileSize: 8, TotalChunks: 2},
		&protocol.FileChunk{TransferID: "in", ChunkIndex: 0, Chunk: []byte("abcd"), TotalChunks: 2},
	)
	outID, err := h.engine.SendData("b.txt", randomBytes(40), []string{"alice"})
	if err != nil {
		t.Fatalf("SendData failed: %v", err)
	}
	h.sched.Advance(5 * time.Millisecond)

	h.engine.PeerClosed("alice")

	if len(h.engine.inbound) != 0 || len(h.engine.outbound) != 0 {
		t.Errorf("expected all state dropped, got %d inbound %d outbound", len(h.engine.inbound), len(h.engine.outbound))
	}
	chunksBefore := len(h.sender.chunks())
	h.sched.Advance(time.Second)
	if len(h.sender.chunks()) != chunksBefore {
		t.Error("abandoned transfer kept emitting chunks")
	}

	reasons := make(map[string]Reason)
	for _, e := range h.observer.ended {
		reasons[e.TransferID] = e.Reason
	}
	if reasons["in"] != ReasonDisconnected || reasons[outID] != ReasonDisconnected {
		t.Errorf("unexpected end reasons %v", reasons)
	}
}

func TestSendWithoutRecipientsFails(t *testing.T) {
	h := newHarness(t, 4, nil)
	h.sender.recipients = 0

	if _, err := h.engine.SendData("a.txt", []byte("abc"), nil); err != ErrNoRecipients {
		t.Errorf("expected ErrNoRecipients, got %v", err)
	}
	if _, err := h.engine.SendData("", []byte("abc"), []string{"x"}); err != ErrEmptyFileName {
		t.Errorf("expected ErrEmptyFileName, got %v", err)
	}
}

func TestProgressIsThrottled(t *testing.T) {
	tx := newHarness(t, 16, nil)
	if _, err := tx.engine.SendData("big.bin", randomBytes(16*100), nil); err != nil {
		t.Fatalf("SendData failed: %v", err)
	}
	tx.sched.Advance(time.Second)

	reports := tx.observer.progress
	if len(reports) == 0 || len(reports) > 7 {
		t.Fatalf("expected at most 7 throttled reports over 500ms, got %d", len(reports))
	}
	final := reports[len(reports)-1]
	if !final.Done || final.Percent != 100 || final.Bytes != 1600 {
		t.Errorf("unexpected final report %+v", final)
	}
	if final.Speed <= 0 {
		t.Errorf("expected positive speed, got %f", final.Speed)
	}
}

func TestHistoryKeepsNewestFirstCapped(t *testing.T) {
	h := newHarness(t, 4, nil)
	for i := 0; i < 25; i++ {
		h.engine.record(Record{TransferID: string(rune('a' + i)), Direction: DirectionSent})
	}

	history := h.engine.History()
	if len(history) != 20 {
		t.Fatalf("expected 20 records, got %d", len(history))
	}
	if history[0].TransferID != string(rune('a'+24)) {
		t.Errorf("expected newest first, got %q", history[0].TransferID)
	}

	if err := h.engine.ClearHistory(context.Background()); err != nil {
		t.Fatalf("ClearHistory failed: %v", err)
	}
	if len(h.engine.History()) != 0 {
		t.Error("history not cleared")
	}
}

func TestEngineWithoutObserver(t *testing.T) {
	noObserver := func(o *Options) { o.Observer = nil }
	tx := newHarness(t, 4, noObserver)
	rx := newHarness(t, 4, noObserver)

	if _, err := tx.engine.SendData("a.txt", []byte("hello world"), nil); err != nil {
		t.Fatalf("SendData failed: %v", err)
	}
	tx.sched.Advance(time.Second)
	rx.feed("sender", tx.sender.msgs...)

	if got := rx.delivery.Files["a.txt"]; string(got) != "hello world" {
		t.Errorf("delivered %q", got)
	}
	if len(tx.engine.History()) != 1 || len(rx.engine.History()) != 1 {
		t.Error("transfers should be recorded without an observer")
	}
}

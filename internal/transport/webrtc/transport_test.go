package webrtc

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-mesh/internal/config"
	"github.com/rudransh-shrivastava/peer-mesh/internal/logger"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/signal"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

func signalURL(t *testing.T) string {
	t.Helper()
	ts := httptest.NewServer(signal.NewServer(logger.Discard()).Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func newTransport(t *testing.T, url, id string) *Transport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := signal.Dial(ctx, url, logger.Discard())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	tr, err := New(ctx, client, Options{
		ID:          id,
		Config:      pion.Configuration{},
		DataChannel: config.DefaultDataChannelConfig(),
		Logger:      logger.Discard(),
	})
	if err != nil {
		_ = client.Close()
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func waitEvent(t *testing.T, tr *Transport, kind transport.EventKind) transport.Event {
	t.Helper()
	timeout := time.After(15 * time.Second)
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestRegisterAssignsID(t *testing.T) {
	url := signalURL(t)

	if tr := newTransport(t, url, "ft-abcdefghi"); tr.ID() != "ft-abcdefghi" {
		t.Errorf("expected desired id, got %q", tr.ID())
	}
	if tr := newTransport(t, url, ""); tr.ID() == "" {
		t.Error("expected an assigned id")
	}
}

func TestRegisterTakenID(t *testing.T) {
	url := signalURL(t)
	newTransport(t, url, "room")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := signal.Dial(ctx, url, logger.Discard())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = client.Close() }()

	if _, err := New(ctx, client, Options{ID: "room", Logger: logger.Discard()}); !errors.Is(err, transport.ErrIDTaken) {
		t.Errorf("expected ErrIDTaken, got %v", err)
	}
}

func TestConnectToUnknownPeer(t *testing.T) {
	tr := newTransport(t, signalURL(t), "a")

	link, err := tr.Connect(context.Background(), "ghost", transport.Metadata{Nickname: "Alice"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ev := waitEvent(t, tr, transport.EventError)
	if ev.Link != link || !errors.Is(ev.Err, transport.ErrPeerUnavailable) {
		t.Errorf("expected peer-unavailable on the dialed link, got %+v", ev)
	}
}

func TestDataChannelRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a usable network interface for ICE")
	}
	url := signalURL(t)
	a := newTransport(t, url, "a")
	b := newTransport(t, url, "b")

	out, err := a.Connect(context.Background(), "b", transport.Metadata{Nickname: "Alice"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !out.Outbound() || out.PeerID() != "b" {
		t.Errorf("unexpected outbound link %s outbound=%v", out.PeerID(), out.Outbound())
	}

	in := waitEvent(t, b, transport.EventIncoming).Link
	if in.PeerID() != "a" || in.Outbound() || in.Metadata().Nickname != "Alice" {
		t.Errorf("unexpected inbound link from %s: %+v", in.PeerID(), in.Metadata())
	}

	waitEvent(t, a, transport.EventOpen)
	waitEvent(t, b, transport.EventOpen)

	if err := out.Send([]byte("ping")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := waitEvent(t, b, transport.EventData); string(got.Data) != "ping" {
		t.Errorf("expected ping, got %q", got.Data)
	}

	_ = out.Close()
	if out.Open() {
		t.Error("closed link reports open")
	}
	if err := out.Send([]byte("late")); !errors.Is(err, transport.ErrLinkClosed) {
		t.Errorf("expected ErrLinkClosed, got %v", err)
	}
}

func TestSendMaxChunkSizeChunk(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a usable network interface for ICE")
	}
	url := signalURL(t)
	a := newTransport(t, url, "a")
	b := newTransport(t, url, "b")

	out, err := a.Connect(context.Background(), "b", transport.Metadata{Nickname: "Alice"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitEvent(t, b, transport.EventIncoming)
	waitEvent(t, a, transport.EventOpen)
	waitEvent(t, b, transport.EventOpen)

	codec := protocol.NewCodec()
	data, err := codec.EncodeToBytes(&protocol.FileChunk{
		TransferID:  "t-1",
		ChunkIndex:  1,
		Chunk:       bytes.Repeat([]byte{0x5a}, config.MaxChunkSize),
		TotalChunks: 2,
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := out.Send(data); err != nil {
		t.Fatalf("Send of a %d byte message failed: %v", len(data), err)
	}
	if err := out.Send([]byte("after")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msg, err := codec.DecodeFromBytes(waitEvent(t, b, transport.EventData).Data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	chunk, ok := msg.(*protocol.FileChunk)
	if !ok || chunk.ChunkIndex != 1 || len(chunk.Chunk) != config.MaxChunkSize {
		t.Fatalf("unexpected message %T", msg)
	}
	if got := waitEvent(t, b, transport.EventData); string(got.Data) != "after" {
		t.Errorf("expected the next message intact, got %d bytes", len(got.Data))
	}
}

package webrtc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rudransh-shrivastava/peer-mesh/internal/config"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
)

func reassemble(t *testing.T, frames [][]byte) []byte {
	t.Helper()
	var r reassembler
	for i, frame := range frames {
		msg, done, err := r.add(frame)
		if err != nil {
			t.Fatalf("frame %d rejected: %v", i, err)
		}
		if done != (i == len(frames)-1) {
			t.Fatalf("frame %d: done=%v with %d frames", i, done, len(frames))
		}
		if done {
			return msg
		}
	}
	t.Fatal("no final frame")
	return nil
}

func TestMaxChunkSizeMessageFitsFrames(t *testing.T) {
	data, err := protocol.NewCodec().EncodeToBytes(&protocol.FileChunk{
		TransferID:  "t-1",
		ChunkIndex:  0,
		Chunk:       bytes.Repeat([]byte{0xab}, config.MaxChunkSize),
		TotalChunks: 3,
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(data) <= config.MaxChunkSize {
		t.Fatalf("expected codec overhead, got %d bytes", len(data))
	}

	frames := splitFrames(data)
	if len(frames) < 2 {
		t.Fatalf("expected the message to be split, got %d frames", len(frames))
	}
	for i, frame := range frames {
		if len(frame) > maxFrameSize {
			t.Errorf("frame %d is %d bytes, limit %d", i, len(frame), maxFrameSize)
		}
	}
	if got := reassemble(t, frames); !bytes.Equal(got, data) {
		t.Errorf("reassembled %d bytes, want %d", len(got), len(data))
	}
}

func TestSmallAndEmptyMessagesUseOneFrame(t *testing.T) {
	for _, data := range [][]byte{{}, []byte("ping"), bytes.Repeat([]byte{1}, maxFramePayload)} {
		frames := splitFrames(data)
		if len(frames) != 1 {
			t.Fatalf("%d bytes: expected one frame, got %d", len(data), len(frames))
		}
		if got := reassemble(t, frames); !bytes.Equal(got, data) {
			t.Errorf("%d bytes: reassembled %q", len(data), got)
		}
	}
}

func TestReassemblerKeepsMessagesApart(t *testing.T) {
	first := bytes.Repeat([]byte{1}, maxFramePayload+10)
	second := []byte("second")

	var r reassembler
	var got [][]byte
	for _, frame := range append(splitFrames(first), splitFrames(second)...) {
		msg, done, err := r.add(frame)
		if err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if done {
			got = append(got, msg)
		}
	}
	if len(got) != 2 || !bytes.Equal(got[0], first) || !bytes.Equal(got[1], second) {
		t.Errorf("unexpected messages: %d", len(got))
	}
}

func TestReassemblerRejectsBadFrames(t *testing.T) {
	var r reassembler
	if _, _, err := r.add(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
	if _, _, err := r.add([]byte{7, 1, 2}); !errors.Is(err, ErrBadFrameFlag) {
		t.Errorf("expected ErrBadFrameFlag, got %v", err)
	}

	more := make([]byte, maxFrameSize)
	more[0] = frameMore
	var err error
	for i := 0; i*maxFramePayload <= maxMessageSize && err == nil; i++ {
		_, _, err = r.add(more)
	}
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if splitFrames(make([]byte, maxMessageSize+1)) != nil {
		t.Error("oversized message should not be framed")
	}
}

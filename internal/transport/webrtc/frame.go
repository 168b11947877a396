package webrtc

import (
	"errors"
	"fmt"
)

const (
	// maxFrameSize keeps every data channel message under the 16 KiB most
	// SCTP stacks accept, well below pion's 64 KiB ceiling.
	maxFrameSize    = 16 * 1024
	maxFramePayload = maxFrameSize - 1

	// maxMessageSize bounds how much a peer can make us buffer for one
	// reassembled message.
	maxMessageSize = 4 * 1024 * 1024

	frameFinal byte = 0
	frameMore  byte = 1
)

var (
	ErrEmptyFrame      = errors.New("empty frame")
	ErrBadFrameFlag    = errors.New("unknown frame flag")
	ErrMessageTooLarge = errors.New("message exceeds size limit")
)

// splitFrames cuts data into frames of at most maxFrameSize bytes. Each frame
// carries a one byte flag telling whether more frames of the same message
// follow. An empty message is a single final frame.
func splitFrames(data []byte) [][]byte {
	if len(data) > maxMessageSize {
		return nil
	}
	n := (len(data) + maxFramePayload - 1) / maxFramePayload
	if n == 0 {
		n = 1
	}

	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * maxFramePayload
		end := min(start+maxFramePayload, len(data))

		frame := make([]byte, 1+end-start)
		frame[0] = frameMore
		if i == n-1 {
			frame[0] = frameFinal
		}
		copy(frame[1:], data[start:end])
		frames = append(frames, frame)
	}
	return frames
}

// reassembler joins frames back into messages. The data channel is ordered
// and reliable, so frames of one message arrive contiguously.
type reassembler struct {
	buf []byte
}

// add consumes one frame and returns the message once its final frame is in.
func (r *reassembler) add(frame []byte) ([]byte, bool, error) {
	if len(frame) == 0 {
		return nil, false, ErrEmptyFrame
	}
	flag, payload := frame[0], frame[1:]
	if flag != frameFinal && flag != frameMore {
		r.buf = nil
		return nil, false, fmt.Errorf("%w: %d", ErrBadFrameFlag, flag)
	}
	if len(r.buf)+len(payload) > maxMessageSize {
		r.buf = nil
		return nil, false, ErrMessageTooLarge
	}

	r.buf = append(r.buf, payload...)
	if flag == frameMore {
		return nil, false, nil
	}
	msg := r.buf
	if msg == nil {
		msg = []byte{}
	}
	r.buf = nil
	return msg, true, nil
}

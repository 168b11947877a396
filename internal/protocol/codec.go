package protocol

import (
	"bytes"
	"encoding/gob"
	"errors"
	"io"
)

var ErrNilMessage = errors.New("nil message")

func init() {
	gob.Register(&Nickname{})
	gob.Register(&RequestDevices{})
	gob.Register(&DevicesList{})
	gob.Register(&NewDevice{})
	gob.Register(&DeviceLeft{})
	gob.Register(&Heartbeat{})
	gob.Register(&FileMeta{})
	gob.Register(&FileChunk{})
	gob.Register(&FileComplete{})
	gob.Register(&FileCancelled{})
	gob.Register(&Chat{})
}

// Codec frames one Message per data-channel payload.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	return gob.NewEncoder(w).Encode(&msg)
}

func (c *Codec) Decode(r io.Reader) (Message, error) {
	var msg Message
	if err := gob.NewDecoder(r).Decode(&msg); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrNilMessage
	}
	return msg, nil
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	return c.Decode(bytes.NewReader(data))
}

package signal

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type Kind int32

const (
	KindRegister Kind = iota + 1
	KindRegistered
	KindIDTaken
	KindOffer
	KindAnswer
	KindPeerUnavailable
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindRegistered:
		return "registered"
	case KindIDTaken:
		return "id-taken"
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindPeerUnavailable:
		return "peer-unavailable"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Field numbers of the envelope on the wire.
const (
	fieldKind     protowire.Number = 1
	fieldFrom     protowire.Number = 2
	fieldTo       protowire.Number = 3
	fieldLinkID   protowire.Number = 4
	fieldNickname protowire.Number = 5
	fieldPayload  protowire.Number = 6
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one signaling frame, encoded in protobuf wire format.
type Envelope struct {
	Kind     Kind
	From     string
	To       string
	LinkID   string
	Nickname string
	Payload  []byte
}

func (e *Envelope) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	b = appendString(b, fieldFrom, e.From)
	b = appendString(b, fieldTo, e.To)
	b = appendString(b, fieldLinkID, e.LinkID)
	b = appendString(b, fieldNickname, e.Nickname)
	if len(e.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// UnmarshalEnvelope decodes b. Unknown fields are skipped.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	e := &Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			e.Kind = Kind(v)
			b = b[n:]
		case typ == protowire.BytesType && num >= fieldFrom && num <= fieldPayload:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			e.setBytes(num, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if e.Kind == 0 {
		return nil, fmt.Errorf("%w: missing kind", ErrMalformedEnvelope)
	}
	return e, nil
}

func (e *Envelope) setBytes(num protowire.Number, v []byte) {
	switch num {
	case fieldFrom:
		e.From = string(v)
	case fieldTo:
		e.To = string(v)
	case fieldLinkID:
		e.LinkID = string(v)
	case fieldNickname:
		e.Nickname = string(v)
	case fieldPayload:
		e.Payload = append([]byte(nil), v...)
	}
}

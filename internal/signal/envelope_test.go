package signal

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := &Envelope{
		Kind:     KindOffer,
		From:     "a",
		To:       "room",
		LinkID:   "link-1",
		Nickname: "Alice",
		Payload:  []byte("v=0\r\n"),
	}

	out, err := UnmarshalEnvelope(in.Marshal())
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.Kind != in.Kind || out.From != in.From || out.To != in.To ||
		out.LinkID != in.LinkID || out.Nickname != in.Nickname || !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestEnvelopeSkipsUnknownFields(t *testing.T) {
	b := (&Envelope{Kind: KindRegister, From: "room"}).Marshal()
	b = protowire.AppendTag(b, 42, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	env, err := UnmarshalEnvelope(b)
	if err != nil {
		t.Fatalf("unknown field should be skipped: %v", err)
	}
	if env.Kind != KindRegister || env.From != "room" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestEnvelopeRejectsTruncatedFrame(t *testing.T) {
	b := (&Envelope{Kind: KindAnswer, Payload: []byte("sdp")}).Marshal()

	if _, err := UnmarshalEnvelope(b[:len(b)-1]); !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	if KindPeerUnavailable.String() != "peer-unavailable" {
		t.Errorf("unexpected name %q", KindPeerUnavailable.String())
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("unexpected name %q", Kind(99).String())
	}
}

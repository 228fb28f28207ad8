package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestCanonicalResolvesAliases(t *testing.T) {
	tests := []struct {
		in   EventType
		want EventType
	}{
		{"screen-request", EventRequestScreen},
		{EventRequestScreen, EventRequestScreen},
		{EventJoinRoom, EventJoinRoom},
		{"made-up", "made-up"},
	}
	for _, tc := range tests {
		if got := Canonical(tc.in); got != tc.want {
			t.Errorf("Canonical(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEventEnvelopeWireShape(t *testing.T) {
	event := MustEvent(EventJoinRoom, JoinRoomPayload{RoomID: "r1", Name: "alice", Role: RoleAgent})
	data, err := json.Marshal(&event)
	if err != nil {
		t.Fatal(err)
	}

	// Clients depend on the flat {type, payload} envelope shape.
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatal(err)
	}
	if string(wire["type"]) != `"join-room"` {
		t.Fatalf("type = %s", wire["type"])
	}
	if _, ok := wire["from"]; ok {
		t.Fatalf("empty from field must be omitted")
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	var payload JoinRoomPayload
	if err := decoded.DecodePayload(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.RoomID != "r1" || payload.JoinRole() != RoleAgent {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestDecodePayloadOnEmptyPayload(t *testing.T) {
	var payload JoinRoomPayload
	if err := (Event{Type: EventLeaveRoom}).DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload on empty payload: %v", err)
	}
}

func TestJoinRoleLegacyFlag(t *testing.T) {
	tests := []struct {
		name    string
		payload JoinRoomPayload
		want    Role
	}{
		{"explicit role wins", JoinRoomPayload{Role: RoleAgent}, RoleAgent},
		{"legacy agent flag", JoinRoomPayload{IsAgent: true}, RoleAgent},
		{"role beats legacy flag", JoinRoomPayload{Role: RoleViewer, IsAgent: true}, RoleViewer},
		{"default viewer", JoinRoomPayload{}, RoleViewer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.payload.JoinRole(); got != tc.want {
				t.Fatalf("JoinRole() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFrameRoundtrip(t *testing.T) {
	in := &Frame{
		AgentID:  "agent-1",
		Seq:      42,
		Width:    1920,
		Height:   1080,
		Encoding: EncodingPNG,
		Payload:  []byte{0x89, 'P', 'N', 'G'},
	}
	data, err := EncodeFrame(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.AgentID != in.AgentID || out.Seq != in.Seq || out.Width != in.Width ||
		out.Encoding != in.Encoding || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("roundtrip = %+v, want %+v", out, in)
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := DecodeFrame([]byte("not cbor at all")); err == nil {
		t.Fatalf("garbage should not decode")
	}
	// Structurally valid CBOR but no encoding field.
	data, err := EncodeFrame(&Frame{Seq: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeFrame(data); err == nil {
		t.Fatalf("frame without encoding should be rejected")
	}
}

func TestCompressPayloadRoundtrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x10, 0x20, 0x30, 0xff}, 4096)
	compressed := CompressPayload(raw)
	if len(compressed) >= len(raw) {
		t.Fatalf("repetitive payload did not compress: %d >= %d", len(compressed), len(raw))
	}
	restored, err := DecompressPayload(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(restored, raw) {
		t.Fatalf("roundtrip mismatch")
	}
}

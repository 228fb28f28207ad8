package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Frame payload encodings. Agents publish either a ready-to-decode image
// (png, jpeg) or zstd-compressed raw RGBA when they skip image encoding.
const (
	EncodingPNG  = "png"
	EncodingJPEG = "jpeg"
	EncodingZstd = "zstd"
)

// Frame is one captured-screen update. Frames are transient: the relay
// never retains a frame beyond a single fan-out pass, and a newer frame
// supersedes an undelivered older one.
type Frame struct {
	AgentID  string `cbor:"1,keyasint"`
	Seq      uint64 `cbor:"2,keyasint"`
	Width    int    `cbor:"3,keyasint"`
	Height   int    `cbor:"4,keyasint"`
	Encoding string `cbor:"5,keyasint"`
	Payload  []byte `cbor:"6,keyasint"`
}

// EncodeFrame serializes a frame for a binary websocket message.
func EncodeFrame(frame *Frame) ([]byte, error) {
	return cbor.Marshal(frame)
}

// DecodeFrame deserializes a binary websocket message into a frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := cbor.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Encoding == "" {
		return nil, fmt.Errorf("frame without encoding")
	}
	return &frame, nil
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// CompressPayload zstd-compresses a raw frame payload.
func CompressPayload(raw []byte) []byte {
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/4))
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(compressed []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(compressed, nil)
}

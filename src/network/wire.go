// Package network implements the network channel: a one-way, ordered,
// framed, credit-flow-controlled channel between an upstream and a
// downstream worker, carrying DataFrame and EventFrame messages in a
// fixed little-endian wire layout.
package network

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// MessageType distinguishes DataFrame from EventFrame on the wire.
type MessageType uint8

const (
	MessageData  MessageType = 0
	MessageEvent MessageType = 1
)

// ChannelType is the DataFrame's channelType field.
type ChannelType uint16

const (
	ChannelTypeData      ChannelType = 0
	ChannelTypeEventOnly ChannelType = 1
)

// EventKind is the EventFrame's kind field.
type EventKind uint16

const (
	EventEoS      EventKind = 0
	EventReconfig EventKind = 1
	EventError    EventKind = 2
)

// MetadataType is a ReconfigurationEvent's metadataType field.
type MetadataType uint8

const (
	MetadataDrain          MetadataType = 0
	MetadataUpdate         MetadataType = 1
	MetadataUpdateAndDrain MetadataType = 2
)

const wireVersion = 1

// splitChannelID returns the low/high 64-bit halves of a 128-bit
// channel id as they appear on the wire.
func splitChannelID(id uuid.UUID) (lo, hi uint64) {
	b := id[:]
	lo = binary.BigEndian.Uint64(b[0:8])
	hi = binary.BigEndian.Uint64(b[8:16])
	return
}

func joinChannelID(lo, hi uint64) uuid.UUID {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], lo)
	binary.BigEndian.PutUint64(b[8:16], hi)
	id, _ := uuid.FromBytes(b[:])
	return id
}

// DataFrame carries one tuple buffer's worth of row- or columnar-
// packed records between workers
type DataFrame struct {
	ChannelType       ChannelType
	ChannelID         uuid.UUID
	Seq               uint64
	NumberOfTuples    uint32
	OriginID          uint64
	WatermarkTs       uint64
	SequenceNumberLog uint64
	ChunkNumber       uint32
	LastChunk         bool
	Payload           []byte
}

// EncodeDataFrame serializes f to the little-endian wire layout,
// compressing Payload with codec first.
func EncodeDataFrame(f DataFrame, codec Codec) ([]byte, error) {
	payload, err := codec.Encode(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("network: encode payload: %w", err)
	}
	lo, hi := splitChannelID(f.ChannelID)

	buf := new(bytes.Buffer)
	buf.Grow(65 + len(payload))
	_ = binary.Write(buf, binary.LittleEndian, uint8(wireVersion))
	_ = binary.Write(buf, binary.LittleEndian, uint8(MessageData))
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.ChannelType))
	_ = binary.Write(buf, binary.LittleEndian, lo)
	_ = binary.Write(buf, binary.LittleEndian, hi)
	_ = binary.Write(buf, binary.LittleEndian, f.Seq)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	_ = binary.Write(buf, binary.LittleEndian, f.NumberOfTuples)
	_ = binary.Write(buf, binary.LittleEndian, f.OriginID)
	_ = binary.Write(buf, binary.LittleEndian, f.WatermarkTs)
	_ = binary.Write(buf, binary.LittleEndian, f.SequenceNumberLog)
	_ = binary.Write(buf, binary.LittleEndian, f.ChunkNumber)
	_ = binary.Write(buf, binary.LittleEndian, boolToByte(f.LastChunk))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// DecodeDataFrame parses a wire-encoded DataFrame, decompressing its
// payload with codec.
func DecodeDataFrame(raw []byte, codec Codec) (DataFrame, error) {
	if len(raw) < 65 {
		return DataFrame{}, fmt.Errorf("network: %w: frame too short (%d bytes)", ErrCannotDeserialize, len(raw))
	}
	r := bytes.NewReader(raw)
	var version, typ uint8
	var channelType uint16
	var lo, hi uint64
	var seq uint64
	var payloadSize, numberOfTuples uint32
	var originID, watermarkTs, seqLog uint64
	var chunkNumber uint32
	var lastChunk uint8

	for _, field := range []interface{}{
		&version, &typ, &channelType, &lo, &hi, &seq, &payloadSize,
		&numberOfTuples, &originID, &watermarkTs, &seqLog, &chunkNumber, &lastChunk,
	} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return DataFrame{}, fmt.Errorf("network: %w: %v", ErrCannotDeserialize, err)
		}
	}
	if version != wireVersion {
		return DataFrame{}, fmt.Errorf("network: %w: unsupported version %d", ErrCannotDeserialize, version)
	}
	if MessageType(typ) != MessageData {
		return DataFrame{}, fmt.Errorf("network: %w: expected Data frame, got type %d", ErrCannotDeserialize, typ)
	}

	payload := make([]byte, payloadSize)
	if _, err := r.Read(payload); err != nil && payloadSize > 0 {
		return DataFrame{}, fmt.Errorf("network: %w: short payload: %v", ErrCannotDeserialize, err)
	}
	decoded, err := codec.Decode(payload)
	if err != nil {
		return DataFrame{}, fmt.Errorf("network: %w: %v", ErrCannotDeserialize, err)
	}

	return DataFrame{
		ChannelType:       ChannelType(channelType),
		ChannelID:         joinChannelID(lo, hi),
		Seq:               seq,
		NumberOfTuples:    numberOfTuples,
		OriginID:          originID,
		WatermarkTs:       watermarkTs,
		SequenceNumberLog: seqLog,
		ChunkNumber:       chunkNumber,
		LastChunk:         lastChunk != 0,
		Payload:           decoded,
	}, nil
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

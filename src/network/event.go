package network

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/nebulastream/runtime/src/termination"
)

// ReconfigurationEvent piggybacks on a final EndOfStream EventFrame
// carrying the downstream plan-version switch metadata.
type ReconfigurationEvent struct {
	QueryState                 uint8
	MetadataType               MetadataType
	NumberOfSources            uint16
	WorkerID                   uint64
	SharedQueryID              uint64
	DecomposedQueryID          uint64
	DecomposedQueryPlanVersion uint32
}

// EventFrame carries EndOfStream, Reconfiguration, or Error signaling
// between an upstream and downstream worker
type EventFrame struct {
	Kind                  EventKind
	ChannelID             uuid.UUID
	Seq                   uint64
	TerminationType       termination.Type
	NumSendingThreads     uint16
	PendingEventCount     uint16
	ReconfigurationEvents []ReconfigurationEvent
}

// EncodeEventFrame serializes f to the little-endian wire layout.
func EncodeEventFrame(f EventFrame) ([]byte, error) {
	lo, hi := splitChannelID(f.ChannelID)
	buf := new(bytes.Buffer)

	_ = binary.Write(buf, binary.LittleEndian, uint8(wireVersion))
	_ = binary.Write(buf, binary.LittleEndian, uint8(MessageEvent))
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.Kind))
	_ = binary.Write(buf, binary.LittleEndian, lo)
	_ = binary.Write(buf, binary.LittleEndian, hi)
	_ = binary.Write(buf, binary.LittleEndian, f.Seq)
	_ = binary.Write(buf, binary.LittleEndian, uint8(f.TerminationType))
	_ = binary.Write(buf, binary.LittleEndian, f.NumSendingThreads)
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(f.ReconfigurationEvents)))

	for _, e := range f.ReconfigurationEvents {
		_ = binary.Write(buf, binary.LittleEndian, e.QueryState)
		_ = binary.Write(buf, binary.LittleEndian, uint8(e.MetadataType))
		_ = binary.Write(buf, binary.LittleEndian, e.NumberOfSources)
		_ = binary.Write(buf, binary.LittleEndian, e.WorkerID)
		_ = binary.Write(buf, binary.LittleEndian, e.SharedQueryID)
		_ = binary.Write(buf, binary.LittleEndian, e.DecomposedQueryID)
		_ = binary.Write(buf, binary.LittleEndian, e.DecomposedQueryPlanVersion)
	}
	return buf.Bytes(), nil
}

// DecodeEventFrame parses a wire-encoded EventFrame.
func DecodeEventFrame(raw []byte) (EventFrame, error) {
	const headerSize = 1 + 1 + 2 + 8 + 8 + 8 + 1 + 2 + 2
	if len(raw) < headerSize {
		return EventFrame{}, fmt.Errorf("network: %w: event frame too short (%d bytes)", ErrCannotDeserialize, len(raw))
	}
	r := bytes.NewReader(raw)
	var version, typ uint8
	var kind uint16
	var lo, hi, seq uint64
	var termType uint8
	var numSending, pendingCount uint16

	for _, field := range []interface{}{&version, &typ, &kind, &lo, &hi, &seq, &termType, &numSending, &pendingCount} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return EventFrame{}, fmt.Errorf("network: %w: %v", ErrCannotDeserialize, err)
		}
	}
	if version != wireVersion {
		return EventFrame{}, fmt.Errorf("network: %w: unsupported version %d", ErrCannotDeserialize, version)
	}
	if MessageType(typ) != MessageEvent {
		return EventFrame{}, fmt.Errorf("network: %w: expected Event frame, got type %d", ErrCannotDeserialize, typ)
	}

	events := make([]ReconfigurationEvent, 0, pendingCount)
	for i := uint16(0); i < pendingCount; i++ {
		var e ReconfigurationEvent
		var metadataType uint8
		for _, field := range []interface{}{
			&e.QueryState, &metadataType, &e.NumberOfSources, &e.WorkerID,
			&e.SharedQueryID, &e.DecomposedQueryID, &e.DecomposedQueryPlanVersion,
		} {
			if err := binary.Read(r, binary.LittleEndian, field); err != nil {
				return EventFrame{}, fmt.Errorf("network: %w: reconfig event %d: %v", ErrCannotDeserialize, i, err)
			}
		}
		e.MetadataType = MetadataType(metadataType)
		events = append(events, e)
	}

	return EventFrame{
		Kind:                  EventKind(kind),
		ChannelID:             joinChannelID(lo, hi),
		Seq:                   seq,
		TerminationType:       termination.Type(termType),
		NumSendingThreads:     numSending,
		PendingEventCount:     pendingCount,
		ReconfigurationEvents: events,
	}, nil
}

package sink

import (
	"context"
	"fmt"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/handler"
	"github.com/nebulastream/runtime/src/network"
	"github.com/nebulastream/runtime/src/termination"
)

// Network wire-frames each output buffer onto a channel: the payload
// is the buffer's used memory image and the frame carries the logical
// sequence metadata alongside the transport seq.
//
// The channel is not held directly: it, the message-sequence counter,
// and the pending-event queue are owned by a NetworkSinkHandler in the
// plan's registry and resolved through the handler index, the same way
// pipeline operators resolve their handler state.
type Network struct {
	HandlerIndex int
	Handlers     *handler.Registry
}

// NewNetwork creates a network sink resolving its send channel from
// the NetworkSinkHandler registered at handlerIndex.
func NewNetwork(handlers *handler.Registry, handlerIndex int) *Network {
	return &Network{HandlerIndex: handlerIndex, Handlers: handlers}
}

func (n *Network) sinkHandler() (*handler.NetworkSinkHandler, error) {
	h, err := n.Handlers.Get(n.HandlerIndex)
	if err != nil {
		return nil, err
	}
	sh, ok := h.(*handler.NetworkSinkHandler)
	if !ok {
		return nil, fmt.Errorf("network sink: handler index %d is %T, not a network sink handler", n.HandlerIndex, h)
	}
	return sh, nil
}

func (n *Network) Write(ctx context.Context, buf *buffer.TupleBuffer) error {
	sh, err := n.sinkHandler()
	if err != nil {
		return err
	}
	payload := buf.MemArea()
	if used := buf.UsedMemorySize(); used > 0 && int(used) < len(payload) {
		payload = payload[:used]
	}
	return sh.Channel().SendData(ctx, network.DataFrame{
		ChannelType:       network.ChannelTypeData,
		NumberOfTuples:    buf.NumberOfTuples(),
		OriginID:          buf.OriginID,
		WatermarkTs:       buf.WatermarkTs,
		SequenceNumberLog: buf.SequenceNumber,
		ChunkNumber:       buf.ChunkNumber,
		LastChunk:         buf.LastChunk,
		Payload:           payload,
	})
}

// SendEndOfStream announces this sender's termination, piggybacking
// every reconfiguration event staged on the handler onto the final EoS
// frame.
func (n *Network) SendEndOfStream(ctx context.Context, t termination.Type, numSendingThreads uint16) error {
	sh, err := n.sinkHandler()
	if err != nil {
		return err
	}
	events := sh.DrainPendingEvents()
	return sh.Channel().SendEvent(ctx, network.EventFrame{
		Kind:                  network.EventEoS,
		TerminationType:       t,
		NumSendingThreads:     numSendingThreads,
		PendingEventCount:     uint16(len(events)),
		ReconfigurationEvents: events,
	})
}

package source

import (
	"context"
	"fmt"
	"time"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/handler"
	"github.com/nebulastream/runtime/src/network"
)

// Network adapts the receive side of a network channel to the source
// contract: each received DataFrame becomes one filled buffer carrying
// the upstream's logical sequence metadata. End-of-stream is reached
// once EoS frames from every announced sending thread have arrived.
//
// The channel is not held directly: it is owned by a
// NetworkSourceHandler in the plan's registry and resolved through the
// handler index at Open, the same way pipeline operators resolve their
// handler state.
type Network struct {
	HandlerIndex int
	Handlers     *handler.Registry

	// RecvTimeout bounds each blocking read; zero means wait on the
	// stop token only.
	RecvTimeout int64 // microseconds

	channel        *network.Channel
	sendingThreads uint16
	eosSeen        bool
}

// Open resolves the receive channel from the registered
// NetworkSourceHandler.
func (n *Network) Open() error {
	h, err := n.Handlers.Get(n.HandlerIndex)
	if err != nil {
		return err
	}
	sh, ok := h.(*handler.NetworkSourceHandler)
	if !ok {
		return fmt.Errorf("network source: handler index %d is %T, not a network source handler", n.HandlerIndex, h)
	}
	n.channel = sh.Channel()
	return nil
}

func (n *Network) Close() error {
	n.channel = nil
	return nil
}

// FillBuffer blocks for the next DataFrame and copies its payload into
// ioBuf, carrying over the frame's logical metadata. Returns 0 once
// all sending threads have signaled end-of-stream.
func (n *Network) FillBuffer(ioBuf *buffer.TupleBuffer, ctx context.Context) (int, error) {
	if n.channel == nil {
		return 0, fmt.Errorf("network source: FillBuffer before Open")
	}
	for {
		if n.eosSeen && n.channel.AllEoSReceived(n.sendingThreads) {
			return 0, nil
		}

		frame, err := n.recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil // stop requested
			}
			return 0, fmt.Errorf("network source: %w", err)
		}

		switch frame.Type {
		case network.MessageEvent:
			ev := frame.Event
			switch ev.Kind {
			case network.EventEoS:
				n.eosSeen = true
				n.sendingThreads = ev.NumSendingThreads
			case network.EventError:
				return 0, network.ErrChannelLost
			}
			continue
		case network.MessageData:
			df := frame.Data
			if int(len(df.Payload)) > int(ioBuf.BufferSize()) {
				return 0, fmt.Errorf("network source: frame payload %d exceeds buffer size %d", len(df.Payload), ioBuf.BufferSize())
			}
			copy(ioBuf.MemArea(), df.Payload)
			ioBuf.SetNumberOfTuples(df.NumberOfTuples)
			ioBuf.WatermarkTs = df.WatermarkTs
			ioBuf.SequenceNumber = df.SequenceNumberLog
			ioBuf.ChunkNumber = df.ChunkNumber
			ioBuf.LastChunk = df.LastChunk
			ioBuf.OriginID = df.OriginID
			return len(df.Payload), nil
		}
	}
}

func (n *Network) recv(ctx context.Context) (network.Frame, error) {
	if n.RecvTimeout <= 0 {
		return n.channel.Recv(ctx)
	}
	recvCtx, cancel := context.WithTimeout(ctx, time.Duration(n.RecvTimeout)*time.Microsecond)
	defer cancel()
	return n.channel.Recv(recvCtx)
}

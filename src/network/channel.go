package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Config configures a Channel.
type Config struct {
	PartitionID      uint32
	UpstreamNodeID   uint64
	DownstreamNodeID uint64
	SchemaSize       uint32
	Credit           int // local buffer slots; bounds in-flight frames
	Codec            Codec
}

// Channel is a one-way, ordered, framed channel between an upstream
// worker (sender) and downstream worker (receiver)
// It is exclusively owned by its sending thread for sending and by one
// consumer for receiving; cross-thread sends are disallowed by
// convention (callers must not share a *Channel's Send across
// goroutines).
type Channel struct {
	id  uuid.UUID
	cfg Config

	nextMessageSeq atomic.Uint64
	out            chan []byte // credit-bounded local buffer

	mu                 sync.Mutex
	nextExpectedSeq    uint64
	eosReceivedThreads map[uint64]bool
	closed             bool
}

// NewChannel creates a Channel with its own random channelId.
func NewChannel(cfg Config) *Channel {
	if cfg.Codec == nil {
		cfg.Codec = NoneCodec{}
	}
	credit := cfg.Credit
	if credit <= 0 {
		credit = 16
	}
	return &Channel{
		id:                 uuid.New(),
		cfg:                cfg,
		out:                make(chan []byte, credit),
		eosReceivedThreads: make(map[uint64]bool),
	}
}

// ID returns the channel's 128-bit identifier.
func (c *Channel) ID() uuid.UUID { return c.id }

// SendData encodes and enqueues a DataFrame, blocking on the local
// credit buffer (not a socket) when the downstream pool is exhausted,
//. Returns ErrChannelLost if
// the channel has been closed.
func (c *Channel) SendData(ctx context.Context, f DataFrame) error {
	f.ChannelID = c.id
	f.Seq = c.nextMessageSeq.Add(1) - 1
	raw, err := EncodeDataFrame(f, c.cfg.Codec)
	if err != nil {
		return fmt.Errorf("network: %w", ErrCannotSerialize)
	}
	return c.push(ctx, raw)
}

// SendEvent encodes and enqueues an EventFrame.
func (c *Channel) SendEvent(ctx context.Context, f EventFrame) error {
	f.ChannelID = c.id
	f.Seq = c.nextMessageSeq.Add(1) - 1
	raw, err := EncodeEventFrame(f)
	if err != nil {
		return fmt.Errorf("network: %w", ErrCannotSerialize)
	}
	return c.push(ctx, raw)
}

func (c *Channel) push(ctx context.Context, raw []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelLost
	}
	c.mu.Unlock()

	select {
	case c.out <- raw:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("network: send canceled: %w", ctx.Err())
	}
}

// Frame is a decoded message handed to the receiver, tagged by type.
type Frame struct {
	Type  MessageType
	Data  *DataFrame
	Event *EventFrame
}

// Recv blocks until the next frame is available, decodes it, and
// enforces strict seq ordering: a frame arriving out of order is a
// transport invariant violation and is reported as an error rather
// than silently reordered.
func (c *Channel) Recv(ctx context.Context) (Frame, error) {
	var raw []byte
	select {
	case raw = <-c.out:
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}

	if len(raw) < 2 {
		return Frame{}, fmt.Errorf("network: %w: empty frame", ErrCannotDeserialize)
	}
	msgType := MessageType(raw[1])

	var seq uint64
	var frame Frame
	switch msgType {
	case MessageData:
		df, err := DecodeDataFrame(raw, c.cfg.Codec)
		if err != nil {
			return Frame{}, err
		}
		seq = df.Seq
		frame = Frame{Type: MessageData, Data: &df}
	case MessageEvent:
		ef, err := DecodeEventFrame(raw)
		if err != nil {
			return Frame{}, err
		}
		seq = ef.Seq
		frame = Frame{Type: MessageEvent, Event: &ef}
		if ef.Kind == EventEoS {
			c.recordEoS(ef)
		}
	default:
		return Frame{}, fmt.Errorf("network: %w: unknown message type %d", ErrCannotDeserialize, msgType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.nextExpectedSeq {
		return Frame{}, fmt.Errorf("network: out-of-order frame: expected seq %d, got %d", c.nextExpectedSeq, seq)
	}
	c.nextExpectedSeq++
	return frame, nil
}

func (c *Channel) recordEoS(ef EventFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Each sending thread is identified by its position among the
	// NumSendingThreads announced on the frame; since a DataFrame does
	// not carry a per-thread id, EoS frames are keyed by their arrival
	// index modulo the announced count so repeated sends from the same
	// logical thread do not double count.
	idx := uint64(len(c.eosReceivedThreads)) % uint64(maxUint16(ef.NumSendingThreads, 1))
	c.eosReceivedThreads[idx] = true
}

func maxUint16(v uint16, floor uint64) uint64 {
	if uint64(v) > floor {
		return uint64(v)
	}
	return floor
}

// AllEoSReceived reports whether EoS has been observed from at least
// numSendingThreads distinct sending threads.
func (c *Channel) AllEoSReceived(numSendingThreads uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.eosReceivedThreads)) >= uint64(numSendingThreads)
}

// Close marks the channel lost; further sends return ErrChannelLost.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

package handler

import (
	"sync"

	"github.com/nebulastream/runtime/src/network"
	"github.com/nebulastream/runtime/src/termination"
)

// NetworkSourceHandler owns the receive-side queue bound to a
// (channelId, localPort) pair.
type NetworkSourceHandler struct {
	localPort int
	channel   *network.Channel
}

// NewNetworkSourceHandler binds handler to an already-constructed
// receive channel.
func NewNetworkSourceHandler(localPort int, ch *network.Channel) *NetworkSourceHandler {
	return &NetworkSourceHandler{localPort: localPort, channel: ch}
}

// Channel returns the underlying receive channel.
func (h *NetworkSourceHandler) Channel() *network.Channel { return h.channel }

// LocalPort returns the bound local port.
func (h *NetworkSourceHandler) LocalPort() int { return h.localPort }

func (h *NetworkSourceHandler) Start() error { return nil }

func (h *NetworkSourceHandler) Stop(t termination.Type) error {
	h.channel.Close()
	return nil
}

// NetworkSinkHandler owns the outbound channel, the next-message-
// sequence counter, and a pending-event queue.
type NetworkSinkHandler struct {
	channel *network.Channel

	mu            sync.Mutex
	pendingEvents []network.ReconfigurationEvent
}

// NewNetworkSinkHandler binds handler to an already-constructed send
// channel.
func NewNetworkSinkHandler(ch *network.Channel) *NetworkSinkHandler {
	return &NetworkSinkHandler{channel: ch}
}

// Channel returns the underlying send channel.
func (h *NetworkSinkHandler) Channel() *network.Channel { return h.channel }

// QueueReconfigurationEvent stages a reconfiguration event to
// piggyback on the next EoS frame.
func (h *NetworkSinkHandler) QueueReconfigurationEvent(e network.ReconfigurationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingEvents = append(h.pendingEvents, e)
}

// DrainPendingEvents returns and clears all staged reconfiguration
// events, for attaching to an outgoing EoS frame.
func (h *NetworkSinkHandler) DrainPendingEvents() []network.ReconfigurationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := h.pendingEvents
	h.pendingEvents = nil
	return events
}

func (h *NetworkSinkHandler) Start() error { return nil }

func (h *NetworkSinkHandler) Stop(t termination.Type) error {
	h.channel.Close()
	return nil
}

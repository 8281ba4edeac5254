package network

import "errors"

// Error kinds surfaced by this package.
var (
	ErrCannotSerialize   = errors.New("CannotSerialize")
	ErrCannotDeserialize = errors.New("CannotDeserialize")
	ErrChannelLost       = errors.New("ChannelLost")
)

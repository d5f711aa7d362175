package interfaces

import "schoolchat/pkg/types"

// ChannelState describes the realtime channel's connection lifecycle.
type ChannelState string

const (
	StateDisconnected ChannelState = "disconnected"
	StateConnecting   ChannelState = "connecting"
	StateConnected    ChannelState = "connected"
)

// ChannelCallbacks carries the consumer-side event handlers for the
// realtime channel. All callbacks are invoked from the channel's read
// goroutine; handlers must not block.
type ChannelCallbacks struct {
	OnNewMessage  func(types.Message)
	OnUserTyping  func(types.TypingSignal)
	OnStateChange func(ChannelState)
}

// RealtimeChannel is the duplex push channel shared by every chat-capable
// view of one authenticated session. Views acquire and release the channel
// instead of dialing their own socket; the underlying connection is opened
// on the first acquire and closed exactly once when the last reference is
// released.
type RealtimeChannel interface {
	// Acquire takes a reference, dialing and joining the per-user room if
	// this is the first reference.
	Acquire() error

	// Release drops a reference, tearing the socket down when it reaches
	// zero. Safe to call once per successful Acquire.
	Release()

	// EmitTyping sends an ephemeral typing signal to the given receiver.
	// Fire-and-forget: a delivery failure is not an error the composer
	// needs to handle.
	EmitTyping(receiverID string, isTyping bool) error

	// State returns the current connection state.
	State() ChannelState
}

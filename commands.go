package pixelnet

import (
	"fmt"
	"time"
)

// Wire opcodes. Every message starts with one opcode byte.
const (
	// OpBoardUpdate is a pixel broadcast from the server: x:u16 y:u16 r g b.
	OpBoardUpdate byte = 0xFA
	// OpHeartbeatReply is the single-byte answer to OpHeartbeat.
	OpHeartbeatReply byte = 0xFB
	// OpHeartbeat is a server heartbeat probe with no payload.
	OpHeartbeat byte = 0xFC
	// OpPaint starts an outbound paint packet.
	OpPaint byte = 0xFE
	// OpPaintResult is a paint result: paintId:u32 status:u8.
	OpPaintResult byte = 0xFF
)

// Board and protocol limits.
const (
	BoardWidth  = 1000
	BoardHeight = 600

	// PacketSize is the size of one encoded paint packet.
	PacketSize = 31
	// TokenSize is the size of a decoded token.
	TokenSize = 16

	// MaxFrameSize is the largest binary frame the server accepts.
	MaxFrameSize = 32 * 1024
	// MaxFramesPerSecond is the number of frames the server accepts per second.
	MaxFramesPerSecond = 256
	// MaxPacketsPerFrame is the number of paint packets that fit one frame.
	MaxPacketsPerFrame = MaxFrameSize / PacketSize
)

// Defaults used when a configuration leaves a field unset.
const (
	DefaultBatchSize     = 10
	DefaultCooldown      = 1145 * time.Millisecond
	DefaultFrameInterval = 20 * time.Millisecond
	DefaultResultTTL     = 30 * time.Second
	DefaultDispatchPoll  = 10 * time.Millisecond
	DefaultSweepInterval = time.Second

	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 3 * time.Second
)

// Connection close codes sent by the board server.
const (
	CloseHeartbeatTimeout = 1001
	CloseProtocolError    = 1002
	CloseAbnormal         = 1006
	CloseConnectionLimit  = 1008
	CloseMessageTooBig    = 1009
	CloseServerError      = 1011
)

// Standard error messages
const (
	ErrMsgBounds          = "pixel outside board"
	ErrMsgCapacity        = "batch exceeds capacity"
	ErrMsgInvalidToken    = "invalid token encoding"
	ErrMsgFrameTooLarge   = "frame exceeds maximum size"
	ErrMsgRateLimited     = "frame rate limit exceeded"
	ErrMsgCooldown        = "cooldown active"
	ErrMsgProtocol        = "protocol error"
	ErrMsgTransport       = "transport error"
	ErrMsgNoTokens        = "no tokens available"
	ErrMsgClosed          = "engine closed"
	ErrMsgReadOnly        = "read-only connection cannot paint"
	ErrMsgNotConnected    = "not connected"
	ErrMsgConnectionLost  = "connection lost"
	ErrMsgResultTimeout   = "paint result timed out"
	ErrMsgEmptyBatch      = "empty batch"
	ErrMsgAlreadyStarted  = "engine already started"
	ErrMsgDrawInProgress  = "image draw already in progress"
	ErrMsgNoTokenSource   = "no token source configured"
	ErrMsgIncompleteFrame = "incomplete frame"
	ErrMsgQueueFull       = "submission queue full"
)

// CloseReason returns a human-readable explanation for a close code.
func CloseReason(code int) string {
	switch code {
	case CloseHeartbeatTimeout:
		return "heartbeat timeout, check the network connection"
	case CloseProtocolError:
		return "protocol error"
	case CloseAbnormal:
		return "abnormal closure, network problem"
	case CloseConnectionLimit:
		return "connection limit exceeded or address banned"
	case CloseMessageTooBig:
		return "message larger than 32KiB"
	case CloseServerError:
		return "server failed to process a message"
	default:
		return fmt.Sprintf("unknown close code %d", code)
	}
}

package pixelnet

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to one of these, so callers can
// always match with errors.Is.
var (
	ErrBounds          = errors.New(ErrMsgBounds)
	ErrCapacity        = errors.New(ErrMsgCapacity)
	ErrInvalidToken    = errors.New(ErrMsgInvalidToken)
	ErrFrameTooLarge   = errors.New(ErrMsgFrameTooLarge)
	ErrRateLimited     = errors.New(ErrMsgRateLimited)
	ErrCooldown        = errors.New(ErrMsgCooldown)
	ErrProtocol        = errors.New(ErrMsgProtocol)
	ErrTransport       = errors.New(ErrMsgTransport)
	ErrNoTokens        = errors.New(ErrMsgNoTokens)
	ErrClosed          = errors.New(ErrMsgClosed)
	ErrReadOnly        = errors.New(ErrMsgReadOnly)
	ErrNotConnected    = errors.New(ErrMsgNotConnected)
	ErrConnectionLost  = errors.New(ErrMsgConnectionLost)
	ErrResultTimeout   = errors.New(ErrMsgResultTimeout)
	ErrEmptyBatch      = errors.New(ErrMsgEmptyBatch)
	ErrAlreadyStarted  = errors.New(ErrMsgAlreadyStarted)
	ErrDrawInProgress  = errors.New(ErrMsgDrawInProgress)
	ErrNoTokenSource   = errors.New(ErrMsgNoTokenSource)
	ErrIncompleteFrame = errors.New(ErrMsgIncompleteFrame)
	ErrQueueFull       = errors.New(ErrMsgQueueFull)
)

// BoundsError reports a pixel outside the board.
type BoundsError struct {
	X, Y int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("%s: (%d, %d) not in [0,%d)x[0,%d)", ErrMsgBounds, e.X, e.Y, BoardWidth, BoardHeight)
}

func (e *BoundsError) Unwrap() error {
	return ErrBounds
}

// CapacityError reports a batch larger than the effective batch size, or one
// whose packets would not fit in a single frame.
type CapacityError struct {
	Size  int
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %d > %d", ErrMsgCapacity, e.Size, e.Limit)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacity
}

// FrameTooLargeError reports a pending flush above the frame ceiling. Frame
// holds the rejected bytes so the paint ids inside can be failed.
type FrameTooLargeError struct {
	Size  int
	Limit int
	Frame []byte
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("%s: %d > %d bytes", ErrMsgFrameTooLarge, e.Size, e.Limit)
}

func (e *FrameTooLargeError) Unwrap() error {
	return ErrFrameTooLarge
}

// ProtocolError reports an inbound message that could not be decoded.
type ProtocolError struct {
	Opcode byte
	Offset int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: unknown opcode 0x%02x at offset %d", ErrMsgProtocol, e.Opcode, e.Offset)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// CloseError reports a connection closed by the peer.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("connection closed (%d: %s): %s", e.Code, e.Text, CloseReason(e.Code))
	}
	return fmt.Sprintf("connection closed (%d): %s", e.Code, CloseReason(e.Code))
}

func (e *CloseError) Unwrap() error {
	return ErrTransport
}

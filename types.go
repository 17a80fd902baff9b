package pixelnet

import (
	"errors"
	"fmt"
	"time"
)

// MessageType is a transport message type. Values match RFC 6455 opcodes.
type MessageType int

const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
)

// Mode selects what the server lets a connection do.
type Mode string

const (
	ModeReadWrite Mode = "readwrite"
	ModeReadOnly  Mode = "readonly"
	ModeWriteOnly Mode = "writeonly"
)

// Valid reports whether m is a known mode. The empty mode means read-write.
func (m Mode) Valid() bool {
	switch m {
	case "", ModeReadWrite, ModeReadOnly, ModeWriteOnly:
		return true
	}
	return false
}

// PixelEdit is one pixel to paint.
type PixelEdit struct {
	X, Y    int
	R, G, B uint8
}

// InBounds reports whether the pixel lies on the board.
func (p PixelEdit) InBounds() bool {
	return p.X >= 0 && p.X < BoardWidth && p.Y >= 0 && p.Y < BoardHeight
}

// Validate returns a *BoundsError if the pixel lies outside the board.
func (p PixelEdit) Validate() error {
	if !p.InBounds() {
		return &BoundsError{X: p.X, Y: p.Y}
	}
	return nil
}

// Credential is an account identifier and the access key exchanged for a token.
type Credential struct {
	AccountID uint32
	Secret    string
}

// Token authenticates paint packets for one account. Bytes must hold exactly
// TokenSize bytes to be encodable.
type Token struct {
	AccountID uint32
	Bytes     []byte
}

// BoardUpdate is a pixel change broadcast by the server.
type BoardUpdate struct {
	X, Y    uint16
	R, G, B uint8
}

// Status is a paint result code sent by the server.
type Status uint8

const (
	StatusSuccess      Status = 0xEF
	StatusCoolingDown  Status = 0xEE
	StatusInvalidToken Status = 0xED
	StatusBadRequest   Status = 0xEC
	StatusNoPermission Status = 0xEB
	StatusServerError  Status = 0xEA
	StatusNotDelivered Status = 0x00
)

// Known reports whether s is one of the documented status codes.
func (s Status) Known() bool {
	return s >= StatusServerError && s <= StatusSuccess
}

// OK reports whether s means the pixel was painted.
func (s Status) OK() bool {
	return s == StatusSuccess
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusCoolingDown:
		return "cooling down"
	case StatusInvalidToken:
		return "invalid token"
	case StatusBadRequest:
		return "malformed request"
	case StatusNoPermission:
		return "not authorized"
	case StatusServerError:
		return "server error"
	case StatusNotDelivered:
		return "not delivered"
	default:
		return fmt.Sprintf("unknown status 0x%02x", uint8(s))
	}
}

// PaintResult is the outcome of one pixel.
//
// Err is set when no server status was received: the pixel was rejected
// locally, the connection was lost, or the result timed out.
type PaintResult struct {
	PaintID uint32
	Pixel   PixelEdit
	Status  Status
	Err     error
}

// OK reports whether the server confirmed the pixel.
func (r PaintResult) OK() bool {
	return r.Err == nil && r.Status.OK()
}

// BatchState is the lifecycle state of a submitted batch.
type BatchState uint8

const (
	BatchIdle BatchState = iota
	BatchQueued
	BatchDispatched
	BatchResolved
	BatchFailed
	BatchOrphaned
)

func (s BatchState) String() string {
	switch s {
	case BatchIdle:
		return "idle"
	case BatchQueued:
		return "queued"
	case BatchDispatched:
		return "dispatched"
	case BatchResolved:
		return "resolved"
	case BatchFailed:
		return "failed"
	case BatchOrphaned:
		return "orphaned"
	default:
		return fmt.Sprintf("BatchState(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s BatchState) Terminal() bool {
	return s == BatchResolved || s == BatchFailed || s == BatchOrphaned
}

// BatchResult is the final view of a batch. Results are index-aligned with the
// submitted pixels.
type BatchResult struct {
	ID           string
	State        BatchState
	Results      []PaintResult
	DispatchedAt time.Time
	Err          error
}

// Succeeded returns the number of pixels the server confirmed.
func (r BatchResult) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of pixels that were not confirmed.
func (r BatchResult) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Orphaned reports whether err means the result was lost with the connection.
func Orphaned(err error) bool {
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrClosed)
}

// Raster is a packed RGB image, three bytes per pixel, row-major.
type Raster struct {
	Width, Height int
	Pix           []byte
}

// Placement positions a raster on the board. Scale resamples it with nearest
// neighbor; 0 means 1.
type Placement struct {
	X, Y  int
	Scale float64
}

// ProgressFunc receives the number of pixels dispatched so far and the total.
type ProgressFunc func(done, total int)

// DrawSummary describes a finished or cancelled draw.
type DrawSummary struct {
	Batches   int
	Pixels    int
	Total     int
	Cancelled bool
}

// ConnState is the state of the engine's connection.
type ConnState uint8

const (
	StateIdle ConnState = iota
	StateConnected
	StateReconnecting
	StateDisconnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", uint8(s))
	}
}

// Stats is a point-in-time view of an engine.
type Stats struct {
	State          ConnState
	QueueLength    int
	PendingResults int
	TokenCount     int
	BatchSize      int
	FramesInWindow int
	BufferedBytes  int
	Drawing        bool
	DrawDone       int
	DrawTotal      int
}

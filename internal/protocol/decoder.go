package protocol

import (
	"encoding/binary"

	"github.com/luciancaetano/pixelnet"
)

// EventKind identifies a decoded inbound message.
type EventKind uint8

const (
	EventBoardUpdate EventKind = iota + 1
	EventHeartbeat
	EventPaintResult
)

func (k EventKind) String() string {
	switch k {
	case EventBoardUpdate:
		return "board_update"
	case EventHeartbeat:
		return "heartbeat"
	case EventPaintResult:
		return "paint_result"
	default:
		return "unknown"
	}
}

// Event is one decoded inbound message. Only the fields of its kind are set.
type Event struct {
	Kind    EventKind
	Update  pixelnet.BoardUpdate
	PaintID uint32
	Status  pixelnet.Status
}

// Decode walks the tagged messages of one inbound frame and calls visit for
// each, in order.
//
// Decoding stops at the first unknown opcode with a *pixelnet.ProtocolError;
// messages before it have already been visited. If the frame ends in the
// middle of a message, Decode returns the number of trailing bytes left
// undecoded and a nil error.
func Decode(frame []byte, visit func(Event)) (tail int, err error) {
	off := 0
	for off < len(frame) {
		op := frame[off]
		body := frame[off+1:]

		switch op {
		case pixelnet.OpBoardUpdate:
			if len(body) < boardUpdatePayload {
				return len(frame) - off, nil
			}
			visit(Event{
				Kind: EventBoardUpdate,
				Update: pixelnet.BoardUpdate{
					X: binary.LittleEndian.Uint16(body[0:2]),
					Y: binary.LittleEndian.Uint16(body[2:4]),
					R: body[4],
					G: body[5],
					B: body[6],
				},
			})
			off += 1 + boardUpdatePayload

		case pixelnet.OpHeartbeat:
			visit(Event{Kind: EventHeartbeat})
			off++

		case pixelnet.OpPaintResult:
			if len(body) < paintResultPayload {
				return len(frame) - off, nil
			}
			visit(Event{
				Kind:    EventPaintResult,
				PaintID: binary.LittleEndian.Uint32(body[0:4]),
				Status:  pixelnet.Status(body[4]),
			})
			off += 1 + paintResultPayload

		default:
			return 0, &pixelnet.ProtocolError{Opcode: op, Offset: off}
		}
	}
	return 0, nil
}

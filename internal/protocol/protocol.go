package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/luciancaetano/pixelnet"
)

// Payload sizes that follow each inbound opcode.
const (
	boardUpdatePayload = 7
	paintResultPayload = 5

	accountBytes  = 3
	paintIDOffset = pixelnet.PacketSize - 4
)

// HeartbeatReply is the message sent in answer to a heartbeat probe.
var HeartbeatReply = []byte{pixelnet.OpHeartbeatReply}

// PaintPacket is a decoded outbound paint packet.
type PaintPacket struct {
	Pixel     pixelnet.PixelEdit
	AccountID uint32
	Token     [pixelnet.TokenSize]byte
	PaintID   uint32
}

// AppendPaint appends the 31-byte paint packet for px to dst.
//
// On error dst is returned unchanged. Errors unwrap to pixelnet.ErrBounds or
// pixelnet.ErrInvalidToken.
func AppendPaint(dst []byte, px pixelnet.PixelEdit, tok pixelnet.Token, paintID uint32) ([]byte, error) {
	if err := px.Validate(); err != nil {
		return dst, err
	}
	if len(tok.Bytes) != pixelnet.TokenSize {
		return dst, fmt.Errorf("%w: account %d has %d token bytes, want %d",
			pixelnet.ErrInvalidToken, tok.AccountID, len(tok.Bytes), pixelnet.TokenSize)
	}

	var pkt [pixelnet.PacketSize]byte
	pkt[0] = pixelnet.OpPaint
	binary.LittleEndian.PutUint16(pkt[1:3], uint16(px.X))
	binary.LittleEndian.PutUint16(pkt[3:5], uint16(px.Y))
	pkt[5] = px.R
	pkt[6] = px.G
	pkt[7] = px.B
	pkt[8] = byte(tok.AccountID)
	pkt[9] = byte(tok.AccountID >> 8)
	pkt[10] = byte(tok.AccountID >> 16)
	copy(pkt[11:27], tok.Bytes)
	binary.LittleEndian.PutUint32(pkt[paintIDOffset:], paintID)
	return append(dst, pkt[:]...), nil
}

// EncodePaint returns the paint packet for px in a fresh slice.
func EncodePaint(px pixelnet.PixelEdit, tok pixelnet.Token, paintID uint32) ([]byte, error) {
	return AppendPaint(make([]byte, 0, pixelnet.PacketSize), px, tok, paintID)
}

// DecodePaint decodes one paint packet. Only the low 24 bits of the account id
// travel on the wire.
func DecodePaint(data []byte) (PaintPacket, error) {
	var pkt PaintPacket
	if len(data) < pixelnet.PacketSize {
		return pkt, fmt.Errorf("%w: paint packet has %d bytes, want %d", pixelnet.ErrIncompleteFrame, len(data), pixelnet.PacketSize)
	}
	if data[0] != pixelnet.OpPaint {
		return pkt, &pixelnet.ProtocolError{Opcode: data[0], Offset: 0}
	}
	pkt.Pixel = pixelnet.PixelEdit{
		X: int(binary.LittleEndian.Uint16(data[1:3])),
		Y: int(binary.LittleEndian.Uint16(data[3:5])),
		R: data[5],
		G: data[6],
		B: data[7],
	}
	pkt.AccountID = uint32(data[8]) | uint32(data[9])<<8 | uint32(data[10])<<16
	copy(pkt.Token[:], data[11:27])
	pkt.PaintID = binary.LittleEndian.Uint32(data[paintIDOffset:])
	return pkt, nil
}

// PaintIDs returns the paint ids of every whole packet in a paint frame.
func PaintIDs(frame []byte) []uint32 {
	ids := make([]uint32, 0, len(frame)/pixelnet.PacketSize)
	for off := 0; off+pixelnet.PacketSize <= len(frame); off += pixelnet.PacketSize {
		ids = append(ids, binary.LittleEndian.Uint32(frame[off+paintIDOffset:]))
	}
	return ids
}

// AppendBoardUpdate appends a board update message to dst.
func AppendBoardUpdate(dst []byte, u pixelnet.BoardUpdate) []byte {
	var msg [1 + boardUpdatePayload]byte
	msg[0] = pixelnet.OpBoardUpdate
	binary.LittleEndian.PutUint16(msg[1:3], u.X)
	binary.LittleEndian.PutUint16(msg[3:5], u.Y)
	msg[5] = u.R
	msg[6] = u.G
	msg[7] = u.B
	return append(dst, msg[:]...)
}

// AppendPaintResult appends a paint result message to dst.
func AppendPaintResult(dst []byte, paintID uint32, status pixelnet.Status) []byte {
	var msg [1 + paintResultPayload]byte
	msg[0] = pixelnet.OpPaintResult
	binary.LittleEndian.PutUint32(msg[1:5], paintID)
	msg[5] = byte(status)
	return append(dst, msg[:]...)
}

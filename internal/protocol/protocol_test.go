package protocol

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/pixelnet"
)

func testToken(account uint32) pixelnet.Token {
	b := make([]byte, pixelnet.TokenSize)
	for i := range b {
		b[i] = byte(0xA0 + i)
	}
	return pixelnet.Token{AccountID: account, Bytes: b}
}

// TestAppendPaintLayout checks every field of the 31-byte packet
func TestAppendPaintLayout(t *testing.T) {
	t.Parallel()

	tok := testToken(0x12345678)
	px := pixelnet.PixelEdit{X: 999, Y: 599, R: 1, G: 2, B: 3}

	pkt, err := EncodePaint(px, tok, 0xDEADBEEF)
	require.NoError(t, err)
	require.Len(t, pkt, pixelnet.PacketSize)

	assert.Equal(t, pixelnet.OpPaint, pkt[0])
	assert.Equal(t, uint16(999), binary.LittleEndian.Uint16(pkt[1:3]))
	assert.Equal(t, uint16(599), binary.LittleEndian.Uint16(pkt[3:5]))
	assert.Equal(t, []byte{1, 2, 3}, pkt[5:8])
	// low 24 bits of the account, little-endian
	assert.Equal(t, []byte{0x78, 0x56, 0x34}, pkt[8:11])
	assert.Equal(t, tok.Bytes, pkt[11:27])
	assert.Equal(t, uint32(0xDEADBEEF), binary.LittleEndian.Uint32(pkt[27:31]))
}

// TestAppendPaintErrors tests rejection paths leave dst untouched
func TestAppendPaintErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pixel   pixelnet.PixelEdit
		token   pixelnet.Token
		wantErr error
	}{
		{
			name:    "x past right edge",
			pixel:   pixelnet.PixelEdit{X: 1000, Y: 0},
			token:   testToken(1),
			wantErr: pixelnet.ErrBounds,
		},
		{
			name:    "y past bottom edge",
			pixel:   pixelnet.PixelEdit{X: 0, Y: 600},
			token:   testToken(1),
			wantErr: pixelnet.ErrBounds,
		},
		{
			name:    "negative x",
			pixel:   pixelnet.PixelEdit{X: -1, Y: 10},
			token:   testToken(1),
			wantErr: pixelnet.ErrBounds,
		},
		{
			name:    "short token",
			pixel:   pixelnet.PixelEdit{X: 1, Y: 1},
			token:   pixelnet.Token{AccountID: 1, Bytes: make([]byte, 15)},
			wantErr: pixelnet.ErrInvalidToken,
		},
		{
			name:    "nil token",
			pixel:   pixelnet.PixelEdit{X: 1, Y: 1},
			token:   pixelnet.Token{AccountID: 1},
			wantErr: pixelnet.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dst := []byte{0x01, 0x02}
			out, err := AppendPaint(dst, tt.pixel, tt.token, 7)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, []byte{0x01, 0x02}, out)
		})
	}
}

// TestPaintRoundTrip tests that in-bounds pixels survive encode and decode
func TestPaintRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	tok := testToken(1048914)

	pixels := []pixelnet.PixelEdit{
		{X: 0, Y: 0},
		{X: 999, Y: 0, R: 255},
		{X: 0, Y: 599, G: 255},
		{X: 999, Y: 599, R: 255, G: 255, B: 255},
	}
	for i := 0; i < 200; i++ {
		pixels = append(pixels, pixelnet.PixelEdit{
			X: rng.Intn(pixelnet.BoardWidth),
			Y: rng.Intn(pixelnet.BoardHeight),
			R: uint8(rng.Intn(256)),
			G: uint8(rng.Intn(256)),
			B: uint8(rng.Intn(256)),
		})
	}

	for i, px := range pixels {
		pkt, err := EncodePaint(px, tok, uint32(i))
		require.NoError(t, err)

		got, err := DecodePaint(pkt)
		require.NoError(t, err)
		assert.Equal(t, px, got.Pixel)
		assert.Equal(t, uint32(i), got.PaintID)
		assert.Equal(t, tok.AccountID&0xFFFFFF, got.AccountID)
		assert.Len(t, got.Token[:], pixelnet.TokenSize)
		assert.Equal(t, tok.Bytes, got.Token[:])
	}
}

func TestDecodePaintErrors(t *testing.T) {
	t.Parallel()

	_, err := DecodePaint(make([]byte, 30))
	assert.ErrorIs(t, err, pixelnet.ErrIncompleteFrame)

	bad := make([]byte, pixelnet.PacketSize)
	bad[0] = 0x01
	_, err = DecodePaint(bad)
	assert.ErrorIs(t, err, pixelnet.ErrProtocol)
}

func TestPaintIDs(t *testing.T) {
	t.Parallel()

	var frame []byte
	var err error
	for _, id := range []uint32{5, 1, 0xFFFFFFFF} {
		frame, err = AppendPaint(frame, pixelnet.PixelEdit{X: 3, Y: 4}, testToken(9), id)
		require.NoError(t, err)
	}

	assert.Equal(t, []uint32{5, 1, 0xFFFFFFFF}, PaintIDs(frame))
	assert.Empty(t, PaintIDs(nil))
}

// TestDecodeMixedFrame tests a frame carrying every known message kind
func TestDecodeMixedFrame(t *testing.T) {
	t.Parallel()

	var frame []byte
	frame = AppendBoardUpdate(frame, pixelnet.BoardUpdate{X: 12, Y: 34, R: 5, G: 6, B: 7})
	frame = append(frame, pixelnet.OpHeartbeat)
	frame = AppendPaintResult(frame, 99, pixelnet.StatusSuccess)
	frame = AppendPaintResult(frame, 100, pixelnet.Status(0x42))

	var events []Event
	tail, err := Decode(frame, func(ev Event) { events = append(events, ev) })
	require.NoError(t, err)
	assert.Zero(t, tail)
	require.Len(t, events, 4)

	assert.Equal(t, EventBoardUpdate, events[0].Kind)
	assert.Equal(t, pixelnet.BoardUpdate{X: 12, Y: 34, R: 5, G: 6, B: 7}, events[0].Update)
	assert.Equal(t, EventHeartbeat, events[1].Kind)
	assert.Equal(t, EventPaintResult, events[2].Kind)
	assert.Equal(t, uint32(99), events[2].PaintID)
	assert.Equal(t, pixelnet.StatusSuccess, events[2].Status)
	assert.Equal(t, pixelnet.Status(0x42), events[3].Status)
	assert.False(t, events[3].Status.Known())
}

// TestDecodeUnknownOpcode tests that decoding stops instead of guessing a length
func TestDecodeUnknownOpcode(t *testing.T) {
	t.Parallel()

	var frame []byte
	frame = AppendPaintResult(frame, 1, pixelnet.StatusSuccess)
	frame = append(frame, 0x10, 0xFF, 0x00, 0x00, 0x00, 0x00, 0xEF)

	var events []Event
	_, err := Decode(frame, func(ev Event) { events = append(events, ev) })

	var perr *pixelnet.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, byte(0x10), perr.Opcode)
	assert.Equal(t, 6, perr.Offset)
	assert.Len(t, events, 1)
}

// TestDecodeIncompleteTail tests that a truncated message is reported as a tail
func TestDecodeIncompleteTail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		frame      []byte
		wantEvents int
		wantTail   int
	}{
		{
			name:       "truncated result",
			frame:      []byte{pixelnet.OpPaintResult, 1, 0, 0},
			wantEvents: 0,
			wantTail:   4,
		},
		{
			name:       "update then truncated update",
			frame:      append(AppendBoardUpdate(nil, pixelnet.BoardUpdate{X: 1}), pixelnet.OpBoardUpdate, 0, 0),
			wantEvents: 1,
			wantTail:   3,
		},
		{
			name:       "empty frame",
			frame:      nil,
			wantEvents: 0,
			wantTail:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := 0
			tail, err := Decode(tt.frame, func(Event) { n++ })
			require.NoError(t, err)
			assert.Equal(t, tt.wantEvents, n)
			assert.Equal(t, tt.wantTail, tail)
		})
	}
}

func TestHeartbeatReply(t *testing.T) {
	t.Parallel()

	assert.True(t, bytes.Equal([]byte{0xFB}, HeartbeatReply))
}

// BenchmarkAppendPaint benchmarks packet encoding into a reused buffer
func BenchmarkAppendPaint(b *testing.B) {
	tok := testToken(1)
	px := pixelnet.PixelEdit{X: 500, Y: 300, R: 10, G: 20, B: 30}
	buf := make([]byte, 0, pixelnet.MaxFrameSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if len(buf)+pixelnet.PacketSize > cap(buf) {
			buf = buf[:0]
		}
		buf, _ = AppendPaint(buf, px, tok, uint32(i))
	}
}

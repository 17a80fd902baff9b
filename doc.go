// Package pixelnet provides a client-side engine for a shared, real-time pixel board.
//
// The engine turns pixel edits into binary paint packets, authenticates each packet
// with one of a rotating pool of per-account tokens, respects the server's frame-rate
// and cooldown limits, coalesces packets into size-bounded frames, and correlates
// per-pixel results back to callers.
//
// # Architecture
//
// One persistent connection is shared by four loops:
//
//   - the decoder reads inbound frames, answers heartbeats and resolves results
//   - the dispatcher releases one queued batch per cooldown window
//   - the sender flushes the outbound buffer on a fixed tick, within the rate limit
//   - the sweeper expires results that never arrived
//
// The sender is the only goroutine that writes to the transport.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/pixelnet"
//	    "github.com/luciancaetano/pixelnet/ws"
//	)
//
//	fetcher := ws.NewTokenFetcher("https://paintboard.example")
//	tokens, err := fetcher.FetchAll(ctx, creds)
//
//	cfg := ws.DefaultConfig()
//	cfg.TokenSource = fetcher
//	cfg.Credentials = creds
//
//	engine, err := ws.New(ws.NewDialer(wsURL, pixelnet.ModeReadWrite), tokens, cfg)
//	engine.Start(ctx)
//	defer engine.Close(context.Background())
//
//	summary, err := engine.Draw(ctx, raster, pixelnet.Placement{X: 520, Y: 320, Scale: 0.3}, nil)
//
// # Protocol Format
//
// Outbound paint packet, 31 bytes, little-endian:
//
//	[0xFE][x:u16][y:u16][r][g][b][account:u24][token:16B][paintId:u32]
//
// Inbound frames carry a sequence of tagged messages:
//
//	0xFA board update   x:u16 y:u16 r g b
//	0xFC heartbeat      (reply with the single byte 0xFB)
//	0xFF paint result   paintId:u32 status:u8
//
// An unknown opcode stops decoding of the current frame, since message lengths
// are implied by the opcode alone.
//
// # Limits
//
//   - Board: 1000x600
//   - Frame size: 32KiB, never split
//   - Frame rate: 256 frames per rolling second, excess is deferred
//   - Batch size: min(configured, token count); each token signs at most one
//     pixel per batch
//   - Cooldown: one batch per window (default 1145ms)
//
// # Important
//
//   - Partial completion of an image is expected; results arrive per pixel
//   - Results may arrive out of order; each paint id resolves its own pixel
//   - Results that never arrive expire after the result TTL
package pixelnet

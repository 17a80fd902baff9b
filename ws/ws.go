// Package ws wires the pixelnet engine to the gorilla/websocket transport and
// exposes the in-process board server used for local runs and tests.
package ws

import (
	"context"
	"net/http"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/engine"
	"github.com/luciancaetano/pixelnet/internal/token"
	"github.com/luciancaetano/pixelnet/internal/websocket"
)

type Config = engine.Options
type ReconnectConfig = engine.ReconnectOptions
type Dialer = websocket.Dialer
type TokenFetcher = token.Fetcher
type FetcherOption = token.FetcherOption

type Board = websocket.Server
type Peer = websocket.Peer
type BoardConfig = *websocket.ServerConfig
type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn

// Endpoint paths served by the board.
const (
	BoardPath = websocket.BoardPath
	TokenPath = websocket.TokenPath
)

// New creates a dispatch engine that connects through dialer and paints with
// tokens. The engine is idle until Start.
//
// Example:
//
//	engine, err := ws.New(ws.NewDialer(url, pixelnet.ModeReadWrite), tokens, ws.DefaultConfig())
func New(dialer pixelnet.Dialer, tokens []pixelnet.Token, cfg Config) (pixelnet.Engine, error) {
	e, err := engine.New(dialer, tokens, cfg)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DefaultConfig returns the board defaults: batches of 10, a 1145ms cooldown,
// a 20ms frame tick, 256 frames per second and 32KiB frames.
func DefaultConfig() Config {
	return engine.DefaultOptions()
}

// NewDialer returns a dialer for the board endpoint at url in mode.
func NewDialer(url string, mode pixelnet.Mode) *Dialer {
	return websocket.NewDialer(url, mode)
}

// Dial connects once, outside of any engine.
func Dial(ctx context.Context, url string, mode pixelnet.Mode) (pixelnet.Transport, error) {
	return websocket.NewDialer(url, mode).Dial(ctx)
}

// NewTokenFetcher returns a client for the token exchange endpoint under
// baseURL.
func NewTokenFetcher(baseURL string, opts ...FetcherOption) *TokenFetcher {
	return token.NewFetcher(baseURL, opts...)
}

// ParseToken decodes a token string as returned by the exchange endpoint.
func ParseToken(accountID uint32, s string) (pixelnet.Token, error) {
	return token.Parse(accountID, s)
}

// NewBoard creates an in-process board server.
//
// Example:
//
//	board := ws.NewBoard(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//	board.IssueToken(1, "access-key")
//	board.Start(ctx)
func NewBoard(cfg BoardConfig) *Board {
	return websocket.NewServer(cfg)
}

// NewConfig builds a board server configuration.
func NewConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) BoardConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		RateLimitConfig:    rateLimitConfig,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnClientDisconnect: onDisconnect,
	}
}

// AllOrigins returns a checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the board's frame limit
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

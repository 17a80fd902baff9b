package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/protocol"
)

// Endpoints served by the board server.
const (
	BoardPath = "/api/paintboard/ws"
	TokenPath = "/api/auth/gettoken"
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called after the handshake completes and before the read
// loop starts.
type OnConnectFn = func(peer *Peer)

// OnClientDisconnectFn is invoked when a peer disconnects. voluntary is true
// when the peer closed the connection itself.
type OnClientDisconnectFn = func(peer *Peer, voluntary bool)

// StatusFn decides the result of a well-formed paint packet. Returning 0
// falls back to the server's own checks.
type StatusFn = func(pkt protocol.PaintPacket) pixelnet.Status

// ServerConfig configures a board server.
type ServerConfig struct {
	Addr               string
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn

	// Status overrides paint results.
	Status StatusFn
	// Cooldown is the per-account interval between accepted paints. Zero
	// disables the check.
	Cooldown time.Duration
	// HeartbeatInterval is how often peers are probed. Zero disables probes.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout closes peers that did not answer a probe in time.
	HeartbeatTimeout time.Duration
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// RateLimitConfig defines rate limiting configuration for clients
type RateLimitConfig struct {
	// MessagesPerSecond defines how many frames a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the board's frame limit: 256 frames per
// second with a burst of 256.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: pixelnet.MaxFramesPerSecond,
		Burst:             pixelnet.MaxFramesPerSecond,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Server is an in-process paint board. It speaks the board protocol to any
// number of peers, exchanges access keys for tokens and keeps the board
// pixels, so clients can be exercised end to end without the real service.
type Server struct {
	addr   string
	server *http.Server
	peers  sync.Map // map[string]*Peer

	rateLimitConfig *RateLimitConfig
	status          StatusFn
	cooldown        time.Duration
	hbInterval      time.Duration
	hbTimeout       time.Duration
	logger          *zap.Logger

	mu           sync.RWMutex
	running      bool
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onDisconnect OnClientDisconnectFn

	boardMu    sync.RWMutex
	board      []byte
	credMu     sync.RWMutex
	creds      map[uint32]string
	tokens     map[uint32][pixelnet.TokenSize]byte
	lastPaint  map[uint32]time.Time
	frames     atomic.Int64
	paints     atomic.Int64
	heartbeats atomic.Int64
}

// NewServer creates a board server. A nil RateLimitConfig means the board's
// default frame limit.
func NewServer(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hbTimeout := cfg.HeartbeatTimeout
	if hbTimeout <= 0 {
		hbTimeout = 30 * time.Second
	}
	return &Server{
		addr:            cfg.Addr,
		rateLimitConfig: cfg.RateLimitConfig,
		status:          cfg.Status,
		cooldown:        cfg.Cooldown,
		hbInterval:      cfg.HeartbeatInterval,
		hbTimeout:       hbTimeout,
		logger:          logger,
		onConnect:       cfg.OnConnect,
		onDisconnect:    cfg.OnClientDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		board:     make([]byte, pixelnet.BoardWidth*pixelnet.BoardHeight*3),
		creds:     make(map[uint32]string),
		tokens:    make(map[uint32][pixelnet.TokenSize]byte),
		lastPaint: make(map[uint32]time.Time),
	}
}

// Handler returns the HTTP handler serving the board and token endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(BoardPath, s.handleWebSocket)
	mux.HandleFunc(TokenPath, s.handleTokenExchange)
	return mux
}

// Start starts the board server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Check for immediate startup errors with a small timeout
	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("board server listening", zap.String("addr", s.addr))
		return nil
	}
}

// Stop stops the board server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.CloseAll(websocket.CloseGoingAway, "server shutting down")

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// IssueToken registers an access key for accountID and returns the token the
// exchange endpoint hands out for it.
func (s *Server) IssueToken(accountID uint32, secret string) string {
	id := uuid.New()

	s.credMu.Lock()
	s.creds[accountID] = secret
	s.tokens[accountID&0xFFFFFF] = id
	s.credMu.Unlock()

	return id.String()
}

type tokenRequest struct {
	UID       uint32 `json:"uid"`
	AccessKey string `json:"access_key"`
}

func (s *Server) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.credMu.RLock()
	secret, known := s.creds[req.UID]
	tok := s.tokens[req.UID&0xFFFFFF]
	s.credMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case !known:
		json.NewEncoder(w).Encode(map[string]string{"errorType": "UID_NOT_FOUND"})
	case secret != req.AccessKey:
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"errorType": "BAD_ACCESS_KEY"}})
	default:
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"token": uuid.UUID(tok).String()}})
	}
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(pixelnet.MaxFrameSize)

	mode := pixelnet.ModeReadWrite
	q := r.URL.Query()
	switch {
	case q.Get("readonly") == "1":
		mode = pixelnet.ModeReadOnly
	case q.Get("writeonly") == "1":
		mode = pixelnet.ModeWriteOnly
	}

	peer := newPeer(conn, r.RemoteAddr, mode, s.rateLimitConfig, s.hbInterval, s.hbTimeout)
	s.peers.Store(peer.ID(), peer)

	go s.handlePeer(peer)
}

// handlePeer reads frames from a connected peer
func (s *Server) handlePeer(peer *Peer) {
	defer func() {
		voluntary := peer.Context().Err() == nil

		if s.onDisconnect != nil {
			s.onDisconnect(peer, voluntary)
		}
		s.peers.Delete(peer.ID())
		peer.Close()
	}()

	if s.onConnect != nil {
		s.onConnect(peer)
	}

	for {
		mt, data, err := peer.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				peer.CloseWithCode(pixelnet.CloseMessageTooBig, "message too big")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("unexpected close", zap.String("peer_id", peer.ID()), zap.Error(err))
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		if !peer.CheckRateLimit() {
			s.logger.Warn("rate limit exceeded",
				zap.String("peer_id", peer.ID()),
				zap.String("remote_addr", peer.RemoteAddr()),
			)
			peer.CloseWithCode(pixelnet.CloseConnectionLimit, "rate limit exceeded")
			return
		}
		s.frames.Add(1)

		if err := s.handleFrame(peer, data); err != nil {
			s.logger.Warn("invalid frame", zap.String("peer_id", peer.ID()), zap.Error(err))
			peer.CloseWithCode(pixelnet.CloseProtocolError, err.Error())
			return
		}
	}
}

// handleFrame walks one inbound frame of heartbeat replies and paint packets
// and answers with a single frame of results.
func (s *Server) handleFrame(peer *Peer, data []byte) error {
	var results []byte
	for off := 0; off < len(data); {
		switch data[off] {
		case pixelnet.OpHeartbeatReply:
			peer.ackHeartbeat()
			s.heartbeats.Add(1)
			off++

		case pixelnet.OpPaint:
			pkt, err := protocol.DecodePaint(data[off:])
			if err != nil {
				return err
			}
			s.paints.Add(1)
			results = protocol.AppendPaintResult(results, pkt.PaintID, s.judge(peer, pkt))
			off += pixelnet.PacketSize

		default:
			return &pixelnet.ProtocolError{Opcode: data[off], Offset: off}
		}
	}

	if len(results) > 0 {
		return peer.Send(context.Background(), results)
	}
	return nil
}

func (s *Server) judge(peer *Peer, pkt protocol.PaintPacket) pixelnet.Status {
	if s.status != nil {
		if st := s.status(pkt); st != 0 {
			if st.OK() {
				s.apply(pkt)
			}
			return st
		}
	}

	if peer.Mode() == pixelnet.ModeReadOnly {
		return pixelnet.StatusNoPermission
	}
	if !pkt.Pixel.InBounds() {
		return pixelnet.StatusBadRequest
	}

	s.credMu.Lock()
	tok, known := s.tokens[pkt.AccountID]
	if !known || tok != pkt.Token {
		s.credMu.Unlock()
		return pixelnet.StatusInvalidToken
	}
	now := time.Now()
	if last, ok := s.lastPaint[pkt.AccountID]; ok && s.cooldown > 0 && now.Sub(last) < s.cooldown {
		s.credMu.Unlock()
		return pixelnet.StatusCoolingDown
	}
	s.lastPaint[pkt.AccountID] = now
	s.credMu.Unlock()

	s.apply(pkt)
	return pixelnet.StatusSuccess
}

func (s *Server) apply(pkt protocol.PaintPacket) {
	px := pkt.Pixel
	off := (px.Y*pixelnet.BoardWidth + px.X) * 3

	s.boardMu.Lock()
	s.board[off] = px.R
	s.board[off+1] = px.G
	s.board[off+2] = px.B
	s.boardMu.Unlock()

	s.Broadcast(pixelnet.BoardUpdate{X: uint16(px.X), Y: uint16(px.Y), R: px.R, G: px.G, B: px.B})
}

// Pixel returns the color of a board pixel.
func (s *Server) Pixel(x, y int) (r, g, b uint8) {
	off := (y*pixelnet.BoardWidth + x) * 3

	s.boardMu.RLock()
	defer s.boardMu.RUnlock()
	return s.board[off], s.board[off+1], s.board[off+2]
}

// Broadcast sends a board update to every peer that reads the board.
func (s *Server) Broadcast(u pixelnet.BoardUpdate) {
	msg := protocol.AppendBoardUpdate(nil, u)
	s.peers.Range(func(_, value any) bool {
		if peer, ok := value.(*Peer); ok && peer.Mode() != pixelnet.ModeWriteOnly {
			peer.Send(context.Background(), msg)
		}
		return true
	})
}

// SendHeartbeat probes every peer once.
func (s *Server) SendHeartbeat() {
	s.peers.Range(func(_, value any) bool {
		if peer, ok := value.(*Peer); ok {
			peer.probe()
		}
		return true
	})
}

// SendRaw sends data as one binary frame to every peer.
func (s *Server) SendRaw(data []byte) {
	s.peers.Range(func(_, value any) bool {
		if peer, ok := value.(*Peer); ok {
			peer.Send(context.Background(), data)
		}
		return true
	})
}

// CloseAll closes every peer with code.
func (s *Server) CloseAll(code int, reason string) {
	s.peers.Range(func(_, value any) bool {
		if peer, ok := value.(*Peer); ok {
			peer.CloseWithCode(code, reason)
		}
		return true
	})
}

// GetPeer returns a peer by ID
func (s *Server) GetPeer(id string) (*Peer, bool) {
	if peer, ok := s.peers.Load(id); ok {
		return peer.(*Peer), true
	}
	return nil, false
}

// Peers returns the number of connected peers.
func (s *Server) Peers() int {
	n := 0
	s.peers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Counters returns the number of binary frames, paint packets and heartbeat
// replies received so far.
func (s *Server) Counters() (frames, paints, heartbeats int64) {
	return s.frames.Load(), s.paints.Load(), s.heartbeats.Load()
}

// Peer is one connection accepted by the board server.
type Peer struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	mode        pixelnet.Mode
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	mu          sync.RWMutex
	closed      bool
	rateLimiter *rate.Limiter // Rate limiter for incoming frames

	hbInterval time.Duration
	hbTimeout  time.Duration
	hbMu       sync.Mutex
	hbSentAt   time.Time
	hbWaiting  bool
}

func newPeer(conn *websocket.Conn, remoteAddr string, mode pixelnet.Mode, rl *RateLimitConfig, hbInterval, hbTimeout time.Duration) *Peer {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if rl != nil && rl.Enabled {
		limiter = rate.NewLimiter(rl.MessagesPerSecond, rl.Burst)
	}

	p := &Peer{
		id:          uuid.New().String(),
		conn:        conn,
		remoteAddr:  remoteAddr,
		mode:        mode,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, 256),
		rateLimiter: limiter,
		hbInterval:  hbInterval,
		hbTimeout:   hbTimeout,
	}

	go p.writePump()

	return p
}

// ID returns a unique identifier for the peer
func (p *Peer) ID() string {
	return p.id
}

// RemoteAddr returns the peer's remote network address
func (p *Peer) RemoteAddr() string {
	return p.remoteAddr
}

// Mode returns the mode the peer connected with.
func (p *Peer) Mode() pixelnet.Mode {
	return p.mode
}

// Context is cancelled when the server closes the peer.
func (p *Peer) Context() context.Context {
	return p.ctx
}

// Send queues one binary frame for the peer
func (p *Peer) Send(ctx context.Context, data []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("%w: peer closed", pixelnet.ErrClosed)
	}

	// Keep the lock while sending to prevent race with Close()
	select {
	case p.sendCh <- data:
		p.mu.RUnlock()
		return nil
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	case <-p.ctx.Done():
		p.mu.RUnlock()
		return fmt.Errorf("%w: peer closed", pixelnet.ErrClosed)
	}
}

// Close closes the peer connection
func (p *Peer) Close() error {
	return p.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason
func (p *Peer) CloseWithCode(code int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.cancel()

	message := websocket.FormatCloseMessage(code, reason)
	p.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))

	close(p.sendCh)
	return p.conn.Close()
}

// IsAlive returns true if the connection is still active
func (p *Peer) IsAlive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// CheckRateLimit reports whether one more frame is allowed.
func (p *Peer) CheckRateLimit() bool {
	if p.rateLimiter == nil {
		return true
	}
	return p.rateLimiter.Allow()
}

func (p *Peer) probe() {
	p.hbMu.Lock()
	if !p.hbWaiting {
		p.hbWaiting = true
		p.hbSentAt = time.Now()
	}
	p.hbMu.Unlock()

	p.Send(context.Background(), []byte{pixelnet.OpHeartbeat})
}

func (p *Peer) ackHeartbeat() {
	p.hbMu.Lock()
	p.hbWaiting = false
	p.hbMu.Unlock()
}

func (p *Peer) heartbeatExpired(now time.Time) bool {
	p.hbMu.Lock()
	defer p.hbMu.Unlock()
	return p.hbWaiting && now.Sub(p.hbSentAt) > p.hbTimeout
}

// writePump pumps frames from the send channel to the websocket connection
// and probes the peer on every heartbeat tick.
func (p *Peer) writePump() {
	defer p.cancel()

	var tick <-chan time.Time
	if p.hbInterval > 0 {
		ticker := time.NewTicker(p.hbInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case message, ok := <-p.sendCh:
			if !ok {
				return
			}
			p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

		case now := <-tick:
			if p.heartbeatExpired(now) {
				go p.CloseWithCode(pixelnet.CloseHeartbeatTimeout, "heartbeat timeout")
				return
			}
			p.hbMu.Lock()
			if !p.hbWaiting {
				p.hbWaiting = true
				p.hbSentAt = now
			}
			p.hbMu.Unlock()
			p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, []byte{pixelnet.OpHeartbeat}); err != nil {
				return
			}

		case <-p.ctx.Done():
			return
		}
	}
}

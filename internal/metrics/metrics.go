// Package metrics exposes Prometheus collectors for the dispatch engine.
//
// Every method is safe to call on a nil *Collector, so the engine records
// unconditionally and metrics stay optional.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/luciancaetano/pixelnet"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "pixelnet").
	Namespace string

	// Subsystem is the metrics subsystem (default: "engine").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// FrameBuckets are the histogram buckets for frame sizes in bytes.
	FrameBuckets []float64

	// LatencyBuckets are the histogram buckets for result latency in seconds.
	LatencyBuckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace:      "pixelnet",
		Subsystem:      "engine",
		FrameBuckets:   []float64{31, 310, 1024, 4096, 8192, 16384, pixelnet.MaxFrameSize},
		LatencyBuckets: prometheus.DefBuckets,
		Registry:       prometheus.DefaultRegisterer,
	}
}

// Collector holds the engine metrics.
type Collector struct {
	packetsEncoded   prometheus.Counter
	framesSent       prometheus.Counter
	bytesSent        prometheus.Counter
	frameSize        prometheus.Histogram
	rateDeferrals    prometheus.Counter
	framesTooLarge   prometheus.Counter
	results          *prometheus.CounterVec
	resultLatency    prometheus.Histogram
	localFailures    *prometheus.CounterVec
	heartbeats       prometheus.Counter
	protocolErrors   prometheus.Counter
	boardUpdates     prometheus.Counter
	droppedUpdates   prometheus.Counter
	reconnects       prometheus.Counter
	batches          *prometheus.CounterVec
	queueLength      prometheus.Gauge
	pendingResults   prometheus.Gauge
	tokenPoolSize    prometheus.Gauge
	connectionStatus prometheus.Gauge
}

// New creates and registers the collectors.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Collector{
		packetsEncoded: counter("packets_encoded_total", "Total number of paint packets encoded"),
		framesSent:     counter("frames_sent_total", "Total number of binary frames written to the transport"),
		bytesSent:      counter("bytes_sent_total", "Total number of bytes written to the transport"),
		frameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_size_bytes",
			Help:        "Size of flushed frames in bytes",
			ConstLabels: config.ConstLabels,
			Buckets:     config.FrameBuckets,
		}),
		rateDeferrals:  counter("rate_deferrals_total", "Flushes deferred because the frame rate window was exhausted"),
		framesTooLarge: counter("frames_too_large_total", "Flushes rejected for exceeding the frame size ceiling"),
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "results_total",
			Help:        "Paint results received from the server by status",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),
		resultLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "result_latency_seconds",
			Help:        "Time from batch dispatch to paint result",
			ConstLabels: config.ConstLabels,
			Buckets:     config.LatencyBuckets,
		}),
		localFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "local_failures_total",
			Help:        "Pixels failed without a server status, by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),
		heartbeats:     counter("heartbeats_total", "Heartbeat probes answered"),
		protocolErrors: counter("protocol_errors_total", "Inbound frames that stopped on an undecodable message"),
		boardUpdates:   counter("board_updates_total", "Board updates received"),
		droppedUpdates: counter("board_updates_dropped_total", "Board updates dropped because the observer fell behind"),
		reconnects:     counter("reconnects_total", "Successful reconnections"),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "batches_total",
			Help:        "Batches that reached a terminal state, by state",
			ConstLabels: config.ConstLabels,
		}, []string{"state"}),
		queueLength:      gauge("queue_length", "Batches waiting in the submission queue"),
		pendingResults:   gauge("pending_results", "Paint results still outstanding"),
		tokenPoolSize:    gauge("token_pool_size", "Tokens in the pool"),
		connectionStatus: gauge("connection_state", "Connection state (0 idle, 1 connected, 2 reconnecting, 3 disconnected, 4 closed)"),
	}
}

// PacketsEncoded records n encoded packets.
func (c *Collector) PacketsEncoded(n int) {
	if c == nil {
		return
	}
	c.packetsEncoded.Add(float64(n))
}

// FrameSent records one frame written to the transport.
func (c *Collector) FrameSent(size int) {
	if c == nil {
		return
	}
	c.framesSent.Inc()
	c.bytesSent.Add(float64(size))
	c.frameSize.Observe(float64(size))
}

// RateDeferred records a flush deferred by the rate window.
func (c *Collector) RateDeferred() {
	if c == nil {
		return
	}
	c.rateDeferrals.Inc()
}

// FrameTooLarge records a rejected oversized flush.
func (c *Collector) FrameTooLarge() {
	if c == nil {
		return
	}
	c.framesTooLarge.Inc()
}

// Result records a server result and its latency in seconds.
func (c *Collector) Result(status pixelnet.Status, latencySeconds float64) {
	if c == nil {
		return
	}
	c.results.WithLabelValues(statusLabel(status)).Inc()
	if latencySeconds >= 0 {
		c.resultLatency.Observe(latencySeconds)
	}
}

// LocalFailures records n pixels failed locally for reason.
func (c *Collector) LocalFailures(reason string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.localFailures.WithLabelValues(reason).Add(float64(n))
}

// Heartbeat records an answered heartbeat probe.
func (c *Collector) Heartbeat() {
	if c == nil {
		return
	}
	c.heartbeats.Inc()
}

// ProtocolError records a frame that stopped decoding early.
func (c *Collector) ProtocolError() {
	if c == nil {
		return
	}
	c.protocolErrors.Inc()
}

// BoardUpdate records a received board update, dropped or delivered.
func (c *Collector) BoardUpdate(dropped bool) {
	if c == nil {
		return
	}
	c.boardUpdates.Inc()
	if dropped {
		c.droppedUpdates.Inc()
	}
}

// Reconnect records a successful reconnection.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

// BatchFinished records a batch reaching state.
func (c *Collector) BatchFinished(state pixelnet.BatchState) {
	if c == nil {
		return
	}
	c.batches.WithLabelValues(state.String()).Inc()
}

// SetQueueLength sets the submission queue gauge.
func (c *Collector) SetQueueLength(n int) {
	if c == nil {
		return
	}
	c.queueLength.Set(float64(n))
}

// SetPendingResults sets the outstanding results gauge.
func (c *Collector) SetPendingResults(n int) {
	if c == nil {
		return
	}
	c.pendingResults.Set(float64(n))
}

// SetTokenPoolSize sets the token pool gauge.
func (c *Collector) SetTokenPoolSize(n int) {
	if c == nil {
		return
	}
	c.tokenPoolSize.Set(float64(n))
}

// SetConnectionState sets the connection state gauge.
func (c *Collector) SetConnectionState(s pixelnet.ConnState) {
	if c == nil {
		return
	}
	c.connectionStatus.Set(float64(s))
}

// statusLabel keeps the label set bounded: every unknown code maps to one
// label value.
func statusLabel(s pixelnet.Status) string {
	if s.Known() {
		return s.String()
	}
	return "unknown"
}

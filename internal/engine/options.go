package engine

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/clock"
	"github.com/luciancaetano/pixelnet/internal/metrics"
)

// ReconnectOptions controls redialing after the connection is lost.
type ReconnectOptions struct {
	Enabled     bool
	MaxAttempts int
	Delay       time.Duration
}

// Options configures an Engine. Build it once, validate it, and hand it to New.
type Options struct {
	// BatchSize caps the pixels per batch. The effective size is
	// min(BatchSize, token count).
	BatchSize int
	// Cooldown is the minimum interval between two dispatched batches.
	Cooldown time.Duration
	// FrameInterval is the sender tick.
	FrameInterval time.Duration
	// MaxFramesPerSecond bounds frames in any rolling second.
	MaxFramesPerSecond int
	// MaxFrameSize bounds a single flushed frame.
	MaxFrameSize int
	// ResultTTL expires results that never arrive. Zero disables expiry.
	ResultTTL time.Duration
	// SweepInterval is how often expired results are collected.
	SweepInterval time.Duration
	// DispatchPoll bounds how long the dispatcher waits before rechecking
	// the cooldown, the connection and the outbound buffer.
	DispatchPoll time.Duration
	// QueueCapacity bounds queued batches. Zero means unbounded.
	QueueCapacity int
	// Mode is the connection mode. Read-only engines reject submissions.
	Mode pixelnet.Mode
	// RefreshCooldownOnSuccess restarts the cooldown window whenever a
	// success result arrives.
	RefreshCooldownOnSuccess bool

	Reconnect ReconnectOptions

	// Observer receives board updates. ObserverBuffer bounds the updates
	// waiting for it; further updates are dropped.
	Observer       pixelnet.Observer
	ObserverBuffer int

	// TokenSource and Credentials back RefreshTokens, and fill an empty pool
	// on Start.
	TokenSource pixelnet.TokenSource
	Credentials []pixelnet.Credential

	Logger  *zap.Logger
	Metrics *metrics.Collector
	Clock   clock.Clock
}

// DefaultOptions returns the board defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:                pixelnet.DefaultBatchSize,
		Cooldown:                 pixelnet.DefaultCooldown,
		FrameInterval:            pixelnet.DefaultFrameInterval,
		MaxFramesPerSecond:       pixelnet.MaxFramesPerSecond,
		MaxFrameSize:             pixelnet.MaxFrameSize,
		ResultTTL:                pixelnet.DefaultResultTTL,
		SweepInterval:            pixelnet.DefaultSweepInterval,
		DispatchPoll:             pixelnet.DefaultDispatchPoll,
		Mode:                     pixelnet.ModeReadWrite,
		RefreshCooldownOnSuccess: true,
		Reconnect: ReconnectOptions{
			MaxAttempts: pixelnet.DefaultReconnectAttempts,
			Delay:       pixelnet.DefaultReconnectDelay,
		},
		ObserverBuffer: 1024,
	}
}

// Validate reports every invalid field at once.
func (o *Options) Validate() error {
	var errs []error

	if o.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", o.BatchSize))
	}
	if o.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must not be negative, got %v", o.Cooldown))
	}
	if o.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("frame interval must be positive, got %v", o.FrameInterval))
	}
	if o.MaxFramesPerSecond <= 0 || o.MaxFramesPerSecond > pixelnet.MaxFramesPerSecond {
		errs = append(errs, fmt.Errorf("frame rate ceiling must be in [1,%d], got %d", pixelnet.MaxFramesPerSecond, o.MaxFramesPerSecond))
	}
	if o.MaxFrameSize < pixelnet.PacketSize || o.MaxFrameSize > pixelnet.MaxFrameSize {
		errs = append(errs, fmt.Errorf("frame size ceiling must be in [%d,%d], got %d", pixelnet.PacketSize, pixelnet.MaxFrameSize, o.MaxFrameSize))
	}
	if o.ResultTTL < 0 {
		errs = append(errs, fmt.Errorf("result ttl must not be negative, got %v", o.ResultTTL))
	}
	if o.ResultTTL > 0 && o.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be positive when results expire, got %v", o.SweepInterval))
	}
	if o.DispatchPoll <= 0 {
		errs = append(errs, fmt.Errorf("dispatch poll must be positive, got %v", o.DispatchPoll))
	}
	if o.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue capacity must not be negative, got %d", o.QueueCapacity))
	}
	if !o.Mode.Valid() {
		errs = append(errs, fmt.Errorf("unknown mode %q", o.Mode))
	}
	if o.Reconnect.Enabled {
		if o.Reconnect.MaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("reconnect attempts must be positive, got %d", o.Reconnect.MaxAttempts))
		}
		if o.Reconnect.Delay < 0 {
			errs = append(errs, fmt.Errorf("reconnect delay must not be negative, got %v", o.Reconnect.Delay))
		}
	}
	if o.Observer != nil && o.ObserverBuffer <= 0 {
		errs = append(errs, fmt.Errorf("observer buffer must be positive, got %d", o.ObserverBuffer))
	}

	return errors.Join(errs...)
}

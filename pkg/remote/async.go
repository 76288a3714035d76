package remote

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"turboprint/pkg/handler"
	logx "turboprint/pkg/logx"
	"turboprint/pkg/turboprint"
)

// ErrQueueFull is reported (not returned) when a record is dropped on overflow.
var ErrQueueFull = errors.New("remote queue full")

// Overflow selects which record is dropped when the queue is full.
type Overflow string

const (
	// DropOldest evicts the oldest queued record to make room for the new one.
	DropOldest Overflow = "drop_oldest"
	// DropNewest discards the incoming record and keeps the queue as is.
	DropNewest Overflow = "drop_newest"
)

// Config controls queueing, retry and shutdown behaviour.
type Config struct {
	QueueSize int
	Overflow  Overflow
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts   int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// RatePerSec limits sends; 0 means unlimited. Burst defaults to max(1, RatePerSec).
	RatePerSec float64
	Burst      int
	// SendTimeout bounds one Sink.Send call.
	SendTimeout   time.Duration
	ShutdownGrace time.Duration
	// DedupWindow suppresses identical texts seen within the window; 0 disables.
	DedupWindow time.Duration
}

// DefaultConfig returns the defaults applied to zero fields.
func DefaultConfig() Config {
	return Config{
		QueueSize:     256,
		Overflow:      DropOldest,
		MaxAttempts:   3,
		RetryBase:     defaultRetryBase,
		RetryMaxDelay: defaultRetryMaxDelay,
		SendTimeout:   10 * time.Second,
		ShutdownGrace: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Overflow == "" {
		c.Overflow = d.Overflow
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	return c
}

// Validate rejects settings that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Overflow {
	case "", DropOldest, DropNewest:
	default:
		return turboprint.ConfigError("remote config", "unknown overflow policy %q", c.Overflow)
	}
	if c.RatePerSec < 0 {
		return turboprint.ConfigError("remote config", "rate must be >= 0, got %v", c.RatePerSec)
	}
	return nil
}

// Stats counts AsyncHandler activity.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Retries   uint64 `json:"retries"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Deduped   uint64 `json:"deduped"`
	Abandoned uint64 `json:"abandoned"`
	Queued    int    `json:"queued"`
}

type counters struct {
	enqueued, delivered, retries, failed, dropped, deduped, abandoned atomic.Uint64
}

type job struct {
	msg Message
}

// AsyncHandler is a non-blocking handler in front of a Sink.
type AsyncHandler struct {
	*handler.Base

	name     string
	sink     Sink
	cfg      Config
	log      logx.Logger
	limiter  *rate.Limiter
	backoff  Backoff
	dropWarn rate.Sometimes

	mu        sync.Mutex
	accepting bool
	enqWG     sync.WaitGroup
	queue     chan job
	runCancel context.CancelFunc
	done      chan struct{}
	stopped   chan struct{}

	dmu   sync.Mutex
	dedup map[uint64]time.Time

	stats counters
}

// Option configures an AsyncHandler.
type Option func(*AsyncHandler)

// WithName labels fallback reports, e.g. "telegram".
func WithName(name string) Option {
	return func(h *AsyncHandler) { h.name = name }
}

// WithLogger sets the fallback channel for drops and delivery failures.
func WithLogger(log logx.Logger) Option {
	return func(h *AsyncHandler) { h.log = log }
}

// WithHandlerOptions applies level, filters and formatter.
func WithHandlerOptions(opts ...handler.Option) Option {
	return func(h *AsyncHandler) { h.Base = handler.NewBase(opts...) }
}

// NewAsync starts the worker immediately.
func NewAsync(sink Sink, cfg Config, opts ...Option) (*AsyncHandler, error) {
	if sink == nil {
		return nil, turboprint.ConfigError("remote handler", "sink is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	h := &AsyncHandler{
		sink:     sink,
		cfg:      cfg,
		name:     "remote",
		backoff:  Backoff{Base: cfg.RetryBase, Max: cfg.RetryMaxDelay, Jitter: true},
		dropWarn: rate.Sometimes{Interval: 5 * time.Second},
		dedup:    map[uint64]time.Time{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.Base == nil {
		h.Base = handler.NewBase()
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	h.log = h.log.With(logx.String("sink", h.name))
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RatePerSec)
			if burst < 1 {
				burst = 1
			}
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	h.start()
	return h, nil
}

func (h *AsyncHandler) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.queue = make(chan job, h.cfg.QueueSize)
	h.runCancel = cancel
	h.done = make(chan struct{})
	h.accepting = true
	go h.worker(ctx, h.queue, h.done)
}

// Handle formats rec and enqueues it. It never blocks on the network.
// After Shutdown it returns turboprint.ErrClosed.
func (h *AsyncHandler) Handle(_ context.Context, rec turboprint.Record) error {
	if !h.Allow(rec) {
		return nil
	}
	h.mu.Lock()
	if !h.accepting {
		h.mu.Unlock()
		return turboprint.ErrClosed
	}
	q := h.queue
	h.enqWG.Add(1)
	h.mu.Unlock()
	defer h.enqWG.Done()

	text := h.Format(rec)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !h.dedupAllow(text, time.Now()) {
		h.stats.deduped.Add(1)
		return nil
	}
	h.enqueue(q, job{msg: Message{Text: text, Record: rec}})
	return nil
}

func (h *AsyncHandler) enqueue(q chan job, j job) {
	select {
	case q <- j:
		h.stats.enqueued.Add(1)
		return
	default:
	}
	if h.cfg.Overflow == DropNewest {
		h.noteDrop(j)
		return
	}
	// Evict one and retry; a concurrent producer may win the freed slot,
	// in which case the incoming record is dropped instead.
	select {
	case old := <-q:
		h.noteDrop(old)
	default:
	}
	select {
	case q <- j:
		h.stats.enqueued.Add(1)
	default:
		h.noteDrop(j)
	}
}

func (h *AsyncHandler) noteDrop(j job) {
	n := h.stats.dropped.Add(1)
	h.dropWarn.Do(func() {
		h.log.Warn("remote queue full, records dropped",
			logx.String("policy", string(h.cfg.Overflow)),
			logx.Uint64("dropped_total", n),
			logx.String("logger", j.msg.Record.Logger),
			logx.Err(ErrQueueFull),
		)
	})
}

func (h *AsyncHandler) dedupAllow(text string, now time.Time) bool {
	if h.cfg.DedupWindow <= 0 {
		return true
	}
	f := fnv.New64a()
	_, _ = f.Write([]byte(text))
	key := f.Sum64()

	h.dmu.Lock()
	defer h.dmu.Unlock()
	if until, ok := h.dedup[key]; ok && now.Before(until) {
		return false
	}
	h.dedup[key] = now.Add(h.cfg.DedupWindow)
	if len(h.dedup) > 4*h.cfg.QueueSize {
		for k, until := range h.dedup {
			if !now.Before(until) {
				delete(h.dedup, k)
			}
		}
	}
	return true
}

func (h *AsyncHandler) worker(ctx context.Context, q <-chan job, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			h.deliver(ctx, j)
		}
	}
}

func (h *AsyncHandler) deliver(ctx context.Context, j job) {
	var lastErr error
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			h.abandon(j, err)
			return
		}
		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				h.abandon(j, err)
				return
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, h.cfg.SendTimeout)
		err := h.send(callCtx, j.msg)
		cancel()
		if err == nil {
			h.stats.delivered.Add(1)
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			h.abandon(j, ctx.Err())
			return
		}
		if IsPermanent(err) || attempt >= h.cfg.MaxAttempts {
			break
		}
		h.stats.retries.Add(1)
		h.log.Debug("remote send failed, retrying", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", h.cfg.MaxAttempts))

		t := time.NewTimer(h.backoff.Delay(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			h.abandon(j, ctx.Err())
			return
		}
	}
	h.stats.failed.Add(1)
	h.log.Warn("remote delivery failed",
		logx.String("logger", j.msg.Record.Logger),
		logx.String("level", j.msg.Record.Level.String()),
		logx.Err(turboprint.DeliveryError("send to "+h.name, lastErr)),
	)
}

// send calls the sink and turns a sink panic into an error.
func (h *AsyncHandler) send(ctx context.Context, msg Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Permanent(fmt.Errorf("sink panic: %v", p))
		}
	}()
	return h.sink.Send(ctx, msg)
}

func (h *AsyncHandler) abandon(j job, cause error) {
	h.stats.abandoned.Add(1)
	h.log.Warn("remote record abandoned at shutdown",
		logx.String("logger", j.msg.Record.Logger),
		logx.Err(cause),
	)
}

// Shutdown stops intake and waits for the queue to drain. The wait is bounded
// by the configured grace period and by ctx, whichever ends first; records left
// after that are dropped and counted as abandoned. Shutdown is idempotent.
func (h *AsyncHandler) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	h.mu.Lock()
	if h.stopped != nil {
		stopped := h.stopped
		h.mu.Unlock()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.accepting = false
	h.stopped = make(chan struct{})
	stopped, q, done, cancel := h.stopped, h.queue, h.done, h.runCancel
	h.mu.Unlock()
	defer close(stopped)
	defer h.closeSink()

	before := h.stats.abandoned.Load()
	h.enqWG.Wait()
	close(q)

	grace := time.NewTimer(h.cfg.ShutdownGrace)
	defer grace.Stop()

	var err error
	select {
	case <-done:
		cancel()
		return nil
	case <-grace.C:
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()
	<-done

	for range q {
		h.stats.abandoned.Add(1)
	}
	n := h.stats.abandoned.Load() - before
	if n > 0 {
		h.log.Warn("remote queue not drained before shutdown", logx.Uint64("abandoned", n))
		if err == nil {
			err = turboprint.DeliveryError("shutdown "+h.name, fmt.Errorf("%d records abandoned", n))
		}
	}
	return err
}

// closeSink releases sinks holding connections, such as the redis client.
func (h *AsyncHandler) closeSink() {
	c, ok := h.sink.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		h.log.Debug("sink close failed", logx.Err(err))
	}
}

// Close is Shutdown with the configured grace period.
func (h *AsyncHandler) Close() error { return h.Shutdown(context.Background()) }

func (h *AsyncHandler) Stats() Stats {
	return Stats{
		Enqueued:  h.stats.enqueued.Load(),
		Delivered: h.stats.delivered.Load(),
		Retries:   h.stats.retries.Load(),
		Failed:    h.stats.failed.Load(),
		Dropped:   h.stats.dropped.Load(),
		Deduped:   h.stats.deduped.Load(),
		Abandoned: h.stats.abandoned.Load(),
		Queued:    len(h.queue),
	}
}

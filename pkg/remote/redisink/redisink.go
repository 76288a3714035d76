// Package redisink appends records to a Redis stream.
package redisink

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"turboprint/pkg/format"
	"turboprint/pkg/remote"
	"turboprint/pkg/turboprint"
)

type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Stream is the key written with XADD.
	Stream string
	// MaxLen trims the stream approximately; 0 keeps everything.
	MaxLen      int64
	DialTimeout time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return turboprint.ConfigError("redis sink", "addr is empty")
	}
	if strings.TrimSpace(c.Stream) == "" {
		return turboprint.ConfigError("redis sink", "stream is empty")
	}
	if c.MaxLen < 0 {
		return turboprint.ConfigError("redis sink", "max_len must be >= 0")
	}
	return nil
}

// Sink writes one stream entry per message. Entry values: text, level,
// level_value, logger, message, time, id, and the record as JSON under "record".
type Sink struct {
	client *redis.Client
	stream string
	maxLen int64
	enc    *format.JSON
}

func NewSink(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 3 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dial,
		// AsyncHandler owns retries.
		MaxRetries: -1,
	})
	return &Sink{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen, enc: format.NewJSON()}, nil
}

// Values builds the stream entry for msg.
func (s *Sink) Values(msg remote.Message) map[string]any {
	rec := msg.Record
	return map[string]any{
		"text":        msg.Text,
		"level":       rec.Level.String(),
		"level_value": strconv.Itoa(int(rec.Level)),
		"logger":      rec.Logger,
		"message":     rec.Message,
		"time":        rec.Time.UTC().Format(time.RFC3339Nano),
		"id":          rec.ID,
		"record":      string(s.enc.Append(nil, rec)),
	}
}

func (s *Sink) Send(ctx context.Context, msg remote.Message) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: s.Values(msg),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Err()
}

func (s *Sink) Close() error { return s.client.Close() }

// NewHandler wires a Sink behind a remote.AsyncHandler.
func NewHandler(cfg Config, rcfg remote.Config, opts ...remote.Option) (*remote.AsyncHandler, *Sink, error) {
	sink, err := NewSink(cfg)
	if err != nil {
		return nil, nil, err
	}
	h, err := remote.NewAsync(sink, rcfg, append([]remote.Option{remote.WithName("redis")}, opts...)...)
	if err != nil {
		_ = sink.Close()
		return nil, nil, err
	}
	return h, sink, nil
}

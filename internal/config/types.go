package config

import "turboprint/internal/viewer"

// Config is the on-disk description of a logging setup.
//
// Handlers, formatters and filters are declared once by name and referenced
// from loggers (and handlers, for formatters and filters). The logger key
// "root" configures the root logger.
//
// Example (YAML):
//
//	handlers:
//	  console: {type: stream, level: DEBUG}
//	  file:
//	    type: file
//	    file: {path: logs/app.log, max_size: 10MB, retention: 5, compression: gzip}
//	loggers:
//	  root: {level: INFO, handlers: [console]}
//	  app.db: {level: DEBUG, handlers: [file]}
type Config struct {
	Diagnostics DiagnosticsConfig           `json:"diagnostics,omitempty"`
	Formatters  map[string]FormatterConfig  `json:"formatters,omitempty"`
	Filters     map[string]FilterConfig     `json:"filters,omitempty"`
	Middlewares map[string]MiddlewareConfig `json:"middlewares,omitempty"`
	Handlers    map[string]HandlerConfig    `json:"handlers"`
	Loggers     map[string]LoggerConfig     `json:"loggers"`
	Viewer      viewer.Config               `json:"viewer,omitempty"`
	Storage     *StorageConfig              `json:"storage,omitempty"`
}

// DiagnosticsConfig controls the library's own fault channel.
type DiagnosticsConfig struct {
	Level string `json:"level,omitempty"` // default: INFO
	// Format is "console" (default) or "json".
	Format string `json:"format,omitempty"`
}

// FormatterConfig declares a named formatter.
//
// Type is "template" (default) or "json".
type FormatterConfig struct {
	Type     string `json:"type,omitempty"`
	Template string `json:"template,omitempty"`
	// TimeLayout applies to json only; templates carry their own {time:layout}.
	TimeLayout string `json:"time_layout,omitempty"`
	// Timezone is an IANA name; default local time.
	Timezone string `json:"timezone,omitempty"`
}

// FilterConfig declares a named filter.
//
// Types and their fields:
//   - level:  level (minimum)
//   - range:  min, max
//   - regex:  pattern, invert
//   - time:   start, end ("HH:MM"), timezone
//   - module: modules
//   - field:  field
//   - all, any: of (filter names)
//   - not:    of (exactly one filter name)
type FilterConfig struct {
	Type     string   `json:"type"`
	Level    string   `json:"level,omitempty"`
	Min      string   `json:"min,omitempty"`
	Max      string   `json:"max,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Invert   bool     `json:"invert,omitempty"`
	Start    string   `json:"start,omitempty"`
	End      string   `json:"end,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
	Modules  []string `json:"modules,omitempty"`
	Field    string   `json:"field,omitempty"`
	Of       []string `json:"of,omitempty"`
}

// MiddlewareConfig declares a named middleware. Loggers attach it by name.
//
// Types and their fields:
//   - context:  values, filters (inner)
//   - redact:   keys (inner)
//   - escalate: target, level (default ERROR), filters (outer)
//
// Higher Priority runs first.
type MiddlewareConfig struct {
	Type     string         `json:"type"`
	Priority int            `json:"priority,omitempty"`
	Values   map[string]any `json:"values,omitempty"`
	Keys     []string       `json:"keys,omitempty"`
	Target   string         `json:"target,omitempty"`
	Level    string         `json:"level,omitempty"`
	Filters  []string       `json:"filters,omitempty"`
}

// HandlerConfig declares a named handler. Type selects which sub-section is read:
// stream, file, journal, telegram, webhook, redis, or viewer (no sub-section).
type HandlerConfig struct {
	Type      string   `json:"type"`
	Level     string   `json:"level,omitempty"`
	Formatter string   `json:"formatter,omitempty"`
	Filters   []string `json:"filters,omitempty"`

	Stream   *StreamConfig   `json:"stream,omitempty"`
	File     *FileConfig     `json:"file,omitempty"`
	Journal  *JournalConfig  `json:"journal,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
	Redis    *RedisConfig    `json:"redis,omitempty"`

	// Remote tunes the async queue of telegram, webhook and redis handlers.
	Remote *RemoteConfig `json:"remote,omitempty"`
}

type StreamConfig struct {
	Target string `json:"target,omitempty"` // stdout (default) | stderr
	Color  string `json:"color,omitempty"`  // auto (default) | always | never
}

type FileConfig struct {
	Path string `json:"path"`
	// MaxSize accepts human sizes ("10MB", "512KiB").
	MaxSize     string `json:"max_size,omitempty"`
	MaxAge      string `json:"max_age,omitempty"`  // Go duration string
	Schedule    string `json:"schedule,omitempty"` // cron expression
	Retention   int    `json:"retention,omitempty"`
	Naming      string `json:"naming,omitempty"`      // counter (default) | timestamp
	Compression string `json:"compression,omitempty"` // "" | gzip | zstd
	UTC         bool   `json:"utc,omitempty"`
}

type JournalConfig struct {
	Identifier string `json:"identifier,omitempty"`
}

type TelegramConfig struct {
	Token          string `json:"token"`
	ChatID         int64  `json:"chat_id"`
	ThreadID       int    `json:"thread_id,omitempty"`
	ParseMode      string `json:"parse_mode,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	APIURL         string `json:"api_url,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
}

type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type RedisConfig struct {
	Addr        string `json:"addr"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	DB          int    `json:"db,omitempty"`
	Stream      string `json:"stream"`
	MaxLen      int64  `json:"max_len,omitempty"`
	DialTimeout string `json:"dial_timeout,omitempty"`
}

// RemoteConfig mirrors remote.Config; durations are Go duration strings and
// zero values take the library defaults.
type RemoteConfig struct {
	QueueSize     int     `json:"queue_size,omitempty"`
	Overflow      string  `json:"overflow,omitempty"` // drop_oldest | drop_newest
	MaxAttempts   int     `json:"max_attempts,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	SendTimeout   string  `json:"send_timeout,omitempty"`
	ShutdownGrace string  `json:"shutdown_grace,omitempty"`
	DedupWindow   string  `json:"dedup_window,omitempty"`
}

// LoggerConfig configures one named logger. Omitted Level inherits.
type LoggerConfig struct {
	Level     string   `json:"level,omitempty"`
	Handlers  []string `json:"handlers,omitempty"`
	Filters   []string `json:"filters,omitempty"`
	Propagate *bool    `json:"propagate,omitempty"`
	Enabled   *bool    `json:"enabled,omitempty"`
	Prefix    string   `json:"prefix,omitempty"`

	// Middlewares names entries of Config.Middlewares.
	Middlewares []string `json:"middlewares,omitempty"`
}

// StorageConfig controls viewer history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/history.db", "capacity": 5000 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	Capacity    int    `json:"capacity,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

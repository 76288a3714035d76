package config

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"turboprint/pkg/filter"
	"turboprint/pkg/format"
	"turboprint/pkg/handler"
	"turboprint/pkg/middleware"
	"turboprint/pkg/remote"
	"turboprint/pkg/remote/redisink"
	"turboprint/pkg/remote/telegram"
	"turboprint/pkg/turboprint"

	logx "turboprint/pkg/logx"
)

// Handler types accepted in HandlerConfig.Type.
const (
	TypeStream   = "stream"
	TypeFile     = "file"
	TypeJournal  = "journal"
	TypeTelegram = "telegram"
	TypeWebhook  = "webhook"
	TypeRedis    = "redis"
	TypeViewer   = "viewer"
)

// Middleware types accepted in MiddlewareConfig.Type.
const (
	MiddlewareContext  = "context"
	MiddlewareRedact   = "redact"
	MiddlewareEscalate = "escalate"
)

// Env carries runtime collaborators a config cannot describe.
type Env struct {
	// Fallback receives handler faults (rotation, delivery, drops).
	Fallback logx.Logger
	// Publisher backs "viewer" handlers; nil makes them a configuration error.
	Publisher handler.Publisher
}

// Plan is a built configuration: opened handlers plus the logger settings
// that reference them. Install it on a Registry, or Close it to discard.
type Plan struct {
	Handlers map[string]turboprint.Handler
	loggers  []loggerSpec
	unused   []string
}

type loggerSpec struct {
	name      string
	level     turboprint.Level
	hasLevel  bool
	handlers  []string
	filters   []turboprint.Filter
	propagate *bool
	enabled   *bool
	prefix    string

	middlewares []middlewareSpec
}

type middlewareSpec struct {
	stage    turboprint.Stage
	priority int
	m        turboprint.Middleware
}

type handlerSpec struct {
	name string
	cfg  HandlerConfig
	opts []handler.Option

	policy handler.RotationPolicy
	tg     telegram.Config
	redis  redisink.Config
	remote remote.Config
}

// compiled is everything Validate can check without opening a resource.
type compiled struct {
	handlers map[string]*handlerSpec
	loggers  []loggerSpec
	unused   []string
}

// Validate checks levels, names, references and handler settings. It opens
// no files or connections.
func (c *Config) Validate() error {
	_, err := c.compile()
	return err
}

func (c *Config) compile() (*compiled, error) {
	if c == nil {
		return nil, turboprint.ConfigError("config", "config is nil")
	}
	if _, err := parseDiagnostics(c.Diagnostics); err != nil {
		return nil, err
	}
	formatters := map[string]format.Formatter{}
	for name, fc := range c.Formatters {
		f, err := buildFormatter("formatters."+name, fc)
		if err != nil {
			return nil, err
		}
		formatters[name] = f
	}
	filters, err := buildFilters(c.Filters)
	if err != nil {
		return nil, err
	}
	middlewares := map[string]middlewareSpec{}
	for name, mc := range c.Middlewares {
		m, err := buildMiddleware("middlewares."+name, mc, filters)
		if err != nil {
			return nil, err
		}
		middlewares[name] = m
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return nil, err
		}
	}

	out := &compiled{handlers: map[string]*handlerSpec{}}
	used := map[string]bool{}

	names := make([]string, 0, len(c.Loggers))
	for name := range c.Loggers {
		names = append(names, name)
	}
	// Parents first so ancestors exist before their children are configured.
	sort.Strings(names)
	seen := map[string]string{}
	for _, raw := range names {
		lc := c.Loggers[raw]
		name := turboprint.NormalizeName(raw)
		path := "loggers." + raw
		if prev, dup := seen[name]; dup {
			return nil, turboprint.ConfigError(path, "duplicates logger %q", prev)
		}
		seen[name] = raw

		spec := loggerSpec{name: name, propagate: lc.Propagate, enabled: lc.Enabled, prefix: lc.Prefix}
		if strings.TrimSpace(lc.Level) != "" {
			l, err := parseLevelField(path+".level", lc.Level)
			if err != nil {
				return nil, err
			}
			spec.level, spec.hasLevel = l, true
		}
		for _, h := range lc.Handlers {
			if _, ok := c.Handlers[h]; !ok {
				return nil, turboprint.ConfigError(path+".handlers", "unknown handler %q", h)
			}
			spec.handlers = append(spec.handlers, h)
			used[h] = true
		}
		for _, f := range lc.Filters {
			flt, ok := filters[f]
			if !ok {
				return nil, turboprint.ConfigError(path+".filters", "unknown filter %q", f)
			}
			spec.filters = append(spec.filters, flt)
		}
		for _, m := range lc.Middlewares {
			ms, ok := middlewares[m]
			if !ok {
				return nil, turboprint.ConfigError(path+".middlewares", "unknown middleware %q", m)
			}
			spec.middlewares = append(spec.middlewares, ms)
		}
		out.loggers = append(out.loggers, spec)
	}

	// Every declaration is checked; only referenced handlers are opened later.
	for name, hc := range c.Handlers {
		spec, err := compileHandler(name, hc, formatters, filters)
		if err != nil {
			return nil, err
		}
		if !used[name] {
			out.unused = append(out.unused, name)
			continue
		}
		out.handlers[name] = spec
	}
	sort.Strings(out.unused)
	return out, nil
}

func compileHandler(name string, hc HandlerConfig, formatters map[string]format.Formatter, filters map[string]turboprint.Filter) (*handlerSpec, error) {
	path := "handlers." + name
	spec := &handlerSpec{name: name, cfg: hc}
	hc.Type = strings.ToLower(strings.TrimSpace(hc.Type))
	spec.cfg.Type = hc.Type

	if strings.TrimSpace(hc.Level) != "" {
		l, err := parseLevelField(path+".level", hc.Level)
		if err != nil {
			return nil, err
		}
		spec.opts = append(spec.opts, handler.WithLevel(l))
	}
	if hc.Formatter != "" {
		f, ok := formatters[hc.Formatter]
		if !ok {
			return nil, turboprint.ConfigError(path+".formatter", "unknown formatter %q", hc.Formatter)
		}
		spec.opts = append(spec.opts, handler.WithFormatter(f))
	}
	for _, fn := range hc.Filters {
		f, ok := filters[fn]
		if !ok {
			return nil, turboprint.ConfigError(path+".filters", "unknown filter %q", fn)
		}
		spec.opts = append(spec.opts, handler.WithFilters(f))
	}

	switch hc.Type {
	case TypeStream:
		sc := StreamConfig{}
		if hc.Stream != nil {
			sc = *hc.Stream
		}
		switch strings.ToLower(sc.Target) {
		case "", "stdout", "stderr":
		default:
			return nil, turboprint.ConfigError(path+".stream.target", "want stdout or stderr, got %q", sc.Target)
		}
		mode, err := parseColor(path+".stream.color", sc.Color)
		if err != nil {
			return nil, err
		}
		spec.opts = append(spec.opts, handler.WithColor(mode))

	case TypeFile:
		if hc.File == nil || strings.TrimSpace(hc.File.Path) == "" {
			return nil, turboprint.ConfigError(path+".file.path", "path is required")
		}
		p, err := rotationPolicy(path+".file", *hc.File)
		if err != nil {
			return nil, err
		}
		spec.policy = p

	case TypeJournal:

	case TypeTelegram:
		if hc.Telegram == nil {
			return nil, turboprint.ConfigError(path+".telegram", "section is required")
		}
		t := hc.Telegram
		timeout, err := ParseDurationField(path+".telegram.timeout", t.Timeout)
		if err != nil {
			return nil, err
		}
		spec.tg = telegram.Config{
			Token:          t.Token,
			ChatID:         t.ChatID,
			ThreadID:       t.ThreadID,
			ParseMode:      t.ParseMode,
			DisablePreview: t.DisablePreview,
			APIURL:         t.APIURL,
			Timeout:        timeout,
		}
		if err := spec.tg.Validate(); err != nil {
			return nil, err
		}

	case TypeWebhook:
		if hc.Webhook == nil {
			return nil, turboprint.ConfigError(path+".webhook", "section is required")
		}
		if _, err := remote.NewWebhook(hc.Webhook.URL, hc.Webhook.Headers); err != nil {
			return nil, err
		}

	case TypeRedis:
		if hc.Redis == nil {
			return nil, turboprint.ConfigError(path+".redis", "section is required")
		}
		r := hc.Redis
		dial, err := ParseDurationField(path+".redis.dial_timeout", r.DialTimeout)
		if err != nil {
			return nil, err
		}
		spec.redis = redisink.Config{
			Addr:        r.Addr,
			Username:    r.Username,
			Password:    r.Password,
			DB:          r.DB,
			Stream:      r.Stream,
			MaxLen:      r.MaxLen,
			DialTimeout: dial,
		}
		if err := spec.redis.Validate(); err != nil {
			return nil, err
		}

	case TypeViewer:

	case "":
		return nil, turboprint.ConfigError(path+".type", "type is required")
	default:
		return nil, turboprint.ConfigError(path+".type", "unknown handler type %q", hc.Type)
	}

	switch hc.Type {
	case TypeTelegram, TypeWebhook, TypeRedis:
		rc, err := remoteConfig(path+".remote", hc.Remote)
		if err != nil {
			return nil, err
		}
		spec.remote = rc
	default:
		if hc.Remote != nil {
			return nil, turboprint.ConfigError(path+".remote", "only remote handlers take a queue section")
		}
	}
	return spec, nil
}

func parseColor(path, raw string) (handler.ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return handler.ColorAuto, nil
	case "always", "force", "true":
		return handler.ColorAlways, nil
	case "never", "false", "off":
		return handler.ColorNever, nil
	default:
		return 0, turboprint.ConfigError(path, "want auto, always or never, got %q", raw)
	}
}

func rotationPolicy(path string, fc FileConfig) (handler.RotationPolicy, error) {
	var p handler.RotationPolicy
	var err error
	if p.MaxBytes, err = ParseSizeField(path+".max_size", fc.MaxSize); err != nil {
		return p, err
	}
	if p.MaxAge, err = ParseDurationField(path+".max_age", fc.MaxAge); err != nil {
		return p, err
	}
	if p.Compression, err = handler.ParseCompression(fc.Compression); err != nil {
		return p, err
	}
	p.Schedule = fc.Schedule
	p.Retention = fc.Retention
	p.Naming = handler.Naming(strings.ToLower(strings.TrimSpace(fc.Naming)))
	p.UTC = fc.UTC
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func remoteConfig(path string, rc *RemoteConfig) (remote.Config, error) {
	var out remote.Config
	if rc == nil {
		return out, nil
	}
	out = remote.Config{
		QueueSize:   rc.QueueSize,
		Overflow:    remote.Overflow(strings.ToLower(strings.TrimSpace(rc.Overflow))),
		MaxAttempts: rc.MaxAttempts,
		RatePerSec:  rc.RatePerSec,
		Burst:       rc.Burst,
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"retry_base", rc.RetryBase, &out.RetryBase},
		{"retry_max_delay", rc.RetryMaxDelay, &out.RetryMaxDelay},
		{"send_timeout", rc.SendTimeout, &out.SendTimeout},
		{"shutdown_grace", rc.ShutdownGrace, &out.ShutdownGrace},
		{"dedup_window", rc.DedupWindow, &out.DedupWindow},
	}
	for _, d := range durations {
		v, err := ParseDurationField(path+"."+d.key, d.raw)
		if err != nil {
			return out, err
		}
		*d.dst = v
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

func buildFormatter(path string, fc FormatterConfig) (format.Formatter, error) {
	var opts []format.TemplateOption
	var loc *time.Location
	if tz := strings.TrimSpace(fc.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, turboprint.ConfigError(path+".timezone", "%v", err)
		}
		loc = l
		opts = append(opts, format.InLocation(l))
	}
	switch strings.ToLower(strings.TrimSpace(fc.Type)) {
	case "", "template":
		src := fc.Template
		if src == "" {
			src = format.DefaultTemplate
		}
		return format.ParseTemplate(src, opts...)
	case "json":
		j := format.NewJSON()
		j.TimeLayout = fc.TimeLayout
		if loc == nil {
			return j, nil
		}
		return format.Func(func(rec turboprint.Record) string {
			rec.Time = rec.Time.In(loc)
			return j.Format(rec)
		}), nil
	default:
		return nil, turboprint.ConfigError(path+".type", "unknown formatter type %q", fc.Type)
	}
}

func buildMiddleware(path string, mc MiddlewareConfig, filters map[string]turboprint.Filter) (middlewareSpec, error) {
	spec := middlewareSpec{stage: turboprint.StageInner, priority: mc.Priority}
	var flts []turboprint.Filter
	for _, fn := range mc.Filters {
		f, ok := filters[fn]
		if !ok {
			return spec, turboprint.ConfigError(path+".filters", "unknown filter %q", fn)
		}
		flts = append(flts, f)
	}
	switch strings.ToLower(strings.TrimSpace(mc.Type)) {
	case MiddlewareContext:
		if len(mc.Values) == 0 {
			return spec, turboprint.ConfigError(path+".values", "at least one value is required")
		}
		spec.m = middleware.Context(mc.Values, flts...)
	case MiddlewareRedact:
		if len(mc.Keys) == 0 {
			return spec, turboprint.ConfigError(path+".keys", "at least one key is required")
		}
		if len(flts) > 0 {
			return spec, turboprint.ConfigError(path+".filters", "redact takes no filters")
		}
		spec.m = middleware.Redact(mc.Keys...)
	case MiddlewareEscalate:
		if strings.TrimSpace(mc.Target) == "" {
			return spec, turboprint.ConfigError(path+".target", "target logger is required")
		}
		threshold := turboprint.LevelError
		if strings.TrimSpace(mc.Level) != "" {
			l, err := parseLevelField(path+".level", mc.Level)
			if err != nil {
				return spec, err
			}
			threshold = l
		}
		spec.stage = turboprint.StageOuter
		spec.m = middleware.Escalate(mc.Target, threshold, flts...)
	case "":
		return spec, turboprint.ConfigError(path+".type", "type is required")
	default:
		return spec, turboprint.ConfigError(path+".type", "unknown middleware type %q", mc.Type)
	}
	return spec, nil
}

// buildFilters resolves named filters, including composites that refer to
// other names. Reference cycles are rejected.
func buildFilters(defs map[string]FilterConfig) (map[string]turboprint.Filter, error) {
	out := map[string]turboprint.Filter{}
	visiting := map[string]bool{}

	var resolve func(name string) (turboprint.Filter, error)
	resolve = func(name string) (turboprint.Filter, error) {
		if f, ok := out[name]; ok {
			return f, nil
		}
		fc, ok := defs[name]
		if !ok {
			return nil, turboprint.ConfigError("filters", "unknown filter %q", name)
		}
		if visiting[name] {
			return nil, turboprint.ConfigError("filters."+name, "reference cycle")
		}
		visiting[name] = true
		defer delete(visiting, name)

		f, err := buildFilter("filters."+name, fc, resolve)
		if err != nil {
			return nil, err
		}
		out[name] = f
		return f, nil
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := resolve(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func buildFilter(path string, fc FilterConfig, resolve func(string) (turboprint.Filter, error)) (turboprint.Filter, error) {
	switch strings.ToLower(strings.TrimSpace(fc.Type)) {
	case "level":
		l, err := parseLevelField(path+".level", fc.Level)
		if err != nil {
			return nil, err
		}
		return filter.Level(l), nil
	case "range":
		lo, err := parseLevelField(path+".min", fc.Min)
		if err != nil {
			return nil, err
		}
		hi := turboprint.LevelCritical
		if strings.TrimSpace(fc.Max) != "" {
			if hi, err = parseLevelField(path+".max", fc.Max); err != nil {
				return nil, err
			}
		}
		if hi < lo {
			return nil, turboprint.ConfigError(path, "max %s below min %s", hi, lo)
		}
		return filter.LevelRange(lo, hi), nil
	case "regex":
		return filter.NewRegex(fc.Pattern, fc.Invert)
	case "time":
		var loc *time.Location
		if tz := strings.TrimSpace(fc.Timezone); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, turboprint.ConfigError(path+".timezone", "%v", err)
			}
			loc = l
		}
		return filter.NewTimeWindow(fc.Start, fc.End, loc)
	case "module":
		if len(fc.Modules) == 0 {
			return nil, turboprint.ConfigError(path+".modules", "at least one module is required")
		}
		return filter.Module(fc.Modules...), nil
	case "field":
		if strings.TrimSpace(fc.Field) == "" {
			return nil, turboprint.ConfigError(path+".field", "field is required")
		}
		return filter.HasField(fc.Field), nil
	case "all", "any", "not":
		typ := strings.ToLower(strings.TrimSpace(fc.Type))
		if len(fc.Of) == 0 || (typ == "not" && len(fc.Of) != 1) {
			return nil, turboprint.ConfigError(path+".of", "%s needs filter names (not takes exactly one)", typ)
		}
		parts := make([]turboprint.Filter, 0, len(fc.Of))
		for _, ref := range fc.Of {
			f, err := resolve(ref)
			if err != nil {
				return nil, err
			}
			parts = append(parts, f)
		}
		switch typ {
		case "all":
			return filter.All(parts...), nil
		case "any":
			return filter.Any(parts...), nil
		default:
			return filter.Not(parts[0]), nil
		}
	default:
		return nil, turboprint.ConfigError(path+".type", "unknown filter type %q", fc.Type)
	}
}

// parseDiagnostics checks the fault channel settings.
func parseDiagnostics(dc DiagnosticsConfig) (DiagnosticsConfig, error) {
	dc.Format = strings.ToLower(strings.TrimSpace(dc.Format))
	switch dc.Format {
	case "", "console", "json":
	default:
		return dc, turboprint.ConfigError("diagnostics.format", "want console or json, got %q", dc.Format)
	}
	return dc, nil
}

// Fallback builds the diagnostics logger described by dc, writing to stderr.
func (dc DiagnosticsConfig) Fallback() logx.Logger {
	level := dc.Level
	if strings.TrimSpace(level) == "" {
		level = "INFO"
	}
	if strings.EqualFold(strings.TrimSpace(dc.Format), "json") {
		return logx.NewJSON(os.Stderr, level)
	}
	return logx.NewStderr(level)
}

// Build validates cfg and opens every handler a logger references. On error
// the handlers opened so far are closed.
func Build(cfg *Config, env Env) (*Plan, error) {
	c, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	if env.Fallback.IsZero() {
		env.Fallback = logx.Nop()
	}
	p := &Plan{Handlers: map[string]turboprint.Handler{}, loggers: c.loggers, unused: c.unused}
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h, err := openHandler(c.handlers[name], env)
		if err != nil {
			_ = p.Close(context.Background())
			return nil, err
		}
		p.Handlers[name] = h
	}
	for _, name := range p.unused {
		env.Fallback.Debug("handler declared but not attached", logx.String("handler", name))
	}
	return p, nil
}

func openHandler(spec *handlerSpec, env Env) (turboprint.Handler, error) {
	opts := append([]handler.Option{handler.WithFallback(env.Fallback)}, spec.opts...)
	remoteOpts := func(name string, defaults ...handler.Option) []remote.Option {
		return []remote.Option{
			remote.WithName(name),
			remote.WithLogger(env.Fallback),
			remote.WithHandlerOptions(append(defaults, opts...)...),
		}
	}

	switch spec.cfg.Type {
	case TypeStream:
		if spec.cfg.Stream != nil && strings.EqualFold(spec.cfg.Stream.Target, "stderr") {
			return handler.Stderr(opts...), nil
		}
		return handler.Stdout(opts...), nil
	case TypeFile:
		return handler.NewFile(spec.cfg.File.Path, spec.policy, opts)
	case TypeJournal:
		id := ""
		if spec.cfg.Journal != nil {
			id = spec.cfg.Journal.Identifier
		}
		j, err := handler.NewJournal(id, opts...)
		if err != nil {
			return nil, turboprint.ResourceError("handlers."+spec.name, err)
		}
		return j, nil
	case TypeTelegram:
		sink, err := telegram.NewSink(spec.tg)
		if err != nil {
			return nil, err
		}
		return remote.NewAsync(sink, spec.remote, remoteOpts(spec.name,
			handler.WithLevel(turboprint.LevelWarning),
			handler.WithFormatter(telegram.Formatter(spec.tg.ParseMode)),
		)...)
	case TypeWebhook:
		wh, err := remote.NewWebhook(spec.cfg.Webhook.URL, spec.cfg.Webhook.Headers)
		if err != nil {
			return nil, err
		}
		return remote.NewAsync(wh, spec.remote, remoteOpts(spec.name)...)
	case TypeRedis:
		h, _, err := redisink.NewHandler(spec.redis, spec.remote, remoteOpts(spec.name)...)
		if err != nil {
			return nil, err
		}
		return h, nil
	case TypeViewer:
		if env.Publisher == nil {
			return nil, turboprint.ConfigError("handlers."+spec.name, "viewer handler needs a running viewer")
		}
		return handler.NewPublish(env.Publisher, opts...), nil
	}
	return nil, turboprint.ConfigError("handlers."+spec.name, "unknown handler type %q", spec.cfg.Type)
}

// Close shuts down every handler in the plan. Use it for plans that were
// never installed.
func (p *Plan) Close(ctx context.Context) error {
	hs := make([]turboprint.Handler, 0, len(p.Handlers))
	for _, h := range p.Handlers {
		hs = append(hs, h)
	}
	return turboprint.ShutdownHandlers(ctx, hs...)
}

// Install resets reg and applies the plan. It returns the handlers that were
// attached before, which the caller owns and should shut down.
func (p *Plan) Install(reg *turboprint.Registry) []turboprint.Handler {
	detached := reg.Reset()
	for _, spec := range p.loggers {
		l := reg.Get(spec.name)
		if spec.hasLevel {
			l.SetLevel(spec.level)
		}
		for _, name := range spec.handlers {
			l.AddHandler(p.Handlers[name])
		}
		for _, f := range spec.filters {
			l.AddFilter(f)
		}
		if spec.propagate != nil {
			l.SetPropagate(*spec.propagate)
		}
		if spec.enabled != nil {
			l.SetEnabled(*spec.enabled)
		}
		if spec.prefix != "" {
			l.SetPrefix(spec.prefix)
		}
		for _, m := range spec.middlewares {
			l.Use(m.stage, m.priority, m.m)
		}
	}
	return detached
}

// Apply builds cfg and swaps it onto reg. If building fails the registry is
// left untouched. Previously attached handlers are shut down after the swap.
func Apply(ctx context.Context, reg *turboprint.Registry, cfg *Config, env Env) error {
	if env.Fallback.IsZero() {
		env.Fallback = reg.Fallback()
	}
	p, err := Build(cfg, env)
	if err != nil {
		return err
	}
	old := p.Install(reg)
	return turboprint.ShutdownHandlers(ctx, old...)
}

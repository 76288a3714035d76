// Package telegram delivers records to a Telegram chat through a bot.
package telegram

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"turboprint/pkg/format"
	"turboprint/pkg/handler"
	"turboprint/pkg/remote"
	"turboprint/pkg/turboprint"
)

// Config identifies the bot and the destination chat.
type Config struct {
	Token  string
	ChatID int64
	// ThreadID targets a forum topic; 0 posts to the main chat.
	ThreadID       int
	ParseMode      string
	DisablePreview bool
	// APIURL overrides https://api.telegram.org (self-hosted Bot API, tests).
	APIURL  string
	Timeout time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return turboprint.ConfigError("telegram", "token is empty")
	}
	if c.ChatID == 0 {
		return turboprint.ConfigError("telegram", "chat_id is required")
	}
	switch c.ParseMode {
	case "", tele.ModeHTML, tele.ModeMarkdown, tele.ModeMarkdownV2:
	default:
		return turboprint.ConfigError("telegram", "unknown parse mode %q", c.ParseMode)
	}
	return nil
}

// Sink sends each message to the configured chat, split into Telegram-sized chunks.
type Sink struct {
	bot  *tele.Bot
	chat *tele.Chat
	opts *tele.SendOptions
	mode string
}

func NewSink(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, turboprint.NewError(turboprint.KindConfiguration, "telegram bot", err)
	}
	return &Sink{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		opts: &tele.SendOptions{
			ParseMode:             cfg.ParseMode,
			DisableWebPagePreview: cfg.DisablePreview,
			ThreadID:              cfg.ThreadID,
		},
		mode: cfg.ParseMode,
	}, nil
}

func (s *Sink) Send(ctx context.Context, msg remote.Message) error {
	for _, chunk := range Split(msg.Text, TextLimit, s.mode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(s.chat, chunk, s.opts); err != nil {
			return classify(err)
		}
	}
	return nil
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	var terr *tele.Error
	if errors.As(err, &terr) && terr.Code >= 400 && terr.Code < 500 && terr.Code != http.StatusTooManyRequests {
		return remote.Permanent(err)
	}
	return err
}

// Formatter renders the operator-facing layout:
//
//	[ERROR] app.db: query failed
//	- table=users
//	- error=timeout
//
// The text is escaped for parseMode so that Telegram sends it verbatim.
func Formatter(parseMode string) format.Formatter {
	esc := Escaper(parseMode)
	return format.Func(func(rec turboprint.Record) string {
		var b strings.Builder
		b.WriteString("[")
		b.WriteString(rec.Level.String())
		b.WriteString("] ")
		if rec.Logger != "" && rec.Logger != turboprint.RootName {
			b.WriteString(rec.Logger)
			b.WriteString(": ")
		}
		if rec.Prefix != "" {
			b.WriteString(rec.Prefix)
			b.WriteString(" ")
		}
		b.WriteString(rec.Message)
		for _, f := range rec.Fields {
			b.WriteString("\n- ")
			b.WriteString(f.Key)
			b.WriteString("=")
			b.WriteString(turboprint.ValueString(f.Value))
		}
		return esc(b.String())
	})
}

var (
	markdownEscaper   = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)
	markdownV2Escaper = func() *strings.Replacer {
		var pairs []string
		for _, c := range "\\_*[]()~`>#+-=|{}.!" {
			pairs = append(pairs, string(c), `\`+string(c))
		}
		return strings.NewReplacer(pairs...)
	}()
)

// Escaper returns the function that makes plain text safe for parseMode.
func Escaper(parseMode string) func(string) string {
	switch parseMode {
	case tele.ModeHTML:
		return html.EscapeString
	case tele.ModeMarkdown:
		return markdownEscaper.Replace
	case tele.ModeMarkdownV2:
		return markdownV2Escaper.Replace
	default:
		return func(s string) string { return s }
	}
}

// NewHandler wires a Sink behind a remote.AsyncHandler. Without an explicit
// formatter the operator layout is used; the default level is WARNING.
func NewHandler(cfg Config, rcfg remote.Config, opts ...remote.Option) (*remote.AsyncHandler, error) {
	sink, err := NewSink(cfg)
	if err != nil {
		return nil, err
	}
	base := []remote.Option{
		remote.WithName("telegram"),
		remote.WithHandlerOptions(handler.WithLevel(turboprint.LevelWarning), handler.WithFormatter(Formatter(cfg.ParseMode))),
	}
	return remote.NewAsync(sink, rcfg, append(base, opts...)...)
}

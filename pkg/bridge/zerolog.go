package bridge

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"

	"turboprint/pkg/turboprint"
)

// ZerologWriter decodes zerolog JSON events and logs them through a turboprint
// Logger. Use it as the output of zerolog.New. An event carrying a "logger"
// key is routed to that logger in the same registry.
type ZerologWriter struct {
	l       *turboprint.Logger
	parsers fastjson.ParserPool
}

var _ zerolog.LevelWriter = (*ZerologWriter)(nil)

// NewZerologWriter returns a writer feeding l.
func NewZerologWriter(l *turboprint.Logger) *ZerologWriter {
	return &ZerologWriter{l: l}
}

// Write takes the level from the event's level key.
func (w *ZerologWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel logs one event. Lines that are not JSON objects are logged
// verbatim at INFO.
func (w *ZerologWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	parser := w.parsers.Get()
	defer w.parsers.Put(parser)

	v, err := parser.ParseBytes(p)
	if err != nil || v.Type() != fastjson.TypeObject {
		if msg := strings.TrimSpace(string(p)); msg != "" {
			w.l.Info(msg)
		}
		return len(p), nil
	}
	if level == zerolog.NoLevel {
		if s := v.GetStringBytes(zerolog.LevelFieldName); len(s) > 0 {
			if parsed, perr := zerolog.ParseLevel(string(s)); perr == nil {
				level = parsed
			}
		}
	}
	target := w.l
	if name := v.GetStringBytes("logger"); len(name) > 0 {
		target = w.l.Registry().Get(string(name))
	}
	lvl := FromZerolog(level)
	if !target.Enabled(lvl) {
		return len(p), nil
	}

	var msg string
	var fields []turboprint.Field
	obj, _ := v.Object()
	obj.Visit(func(key []byte, fv *fastjson.Value) {
		switch k := string(key); k {
		case zerolog.LevelFieldName, zerolog.TimestampFieldName, zerolog.CallerFieldName, "logger":
		case zerolog.MessageFieldName:
			msg = string(fv.GetStringBytes())
		case zerolog.ErrorFieldName:
			fields = append(fields, turboprint.Err(errors.New(string(fv.GetStringBytes()))))
		default:
			fields = append(fields, turboprint.Any(k, jsonValue(fv)))
		}
	})
	target.Log(lvl, msg, fields...)
	return len(p), nil
}

func jsonValue(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeNull:
		return nil
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return n
		}
		return v.GetFloat64()
	default:
		return v.String()
	}
}

// FromZerolog maps zerolog levels onto turboprint levels. Fatal and panic
// events become CRITICAL; events without a level are INFO.
func FromZerolog(l zerolog.Level) turboprint.Level {
	switch l {
	case zerolog.TraceLevel:
		return turboprint.LevelTrace
	case zerolog.DebugLevel:
		return turboprint.LevelDebug
	case zerolog.WarnLevel:
		return turboprint.LevelWarning
	case zerolog.ErrorLevel:
		return turboprint.LevelError
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return turboprint.LevelCritical
	default:
		return turboprint.LevelInfo
	}
}

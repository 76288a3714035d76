package turboprint

import (
	"fmt"
	"time"
)

// Field is one piece of structured metadata attached to a record.
type Field struct {
	Key   string
	Value any
}

func String(k, v string) Field                 { return Field{Key: k, Value: v} }
func Int(k string, v int) Field                { return Field{Key: k, Value: v} }
func Int64(k string, v int64) Field            { return Field{Key: k, Value: v} }
func Uint64(k string, v uint64) Field          { return Field{Key: k, Value: v} }
func Float64(k string, v float64) Field        { return Field{Key: k, Value: v} }
func Bool(k string, v bool) Field              { return Field{Key: k, Value: v} }
func Duration(k string, v time.Duration) Field { return Field{Key: k, Value: v} }
func Time(k string, v time.Time) Field         { return Field{Key: k, Value: v} }
func Any(k string, v any) Field                { return Field{Key: k, Value: v} }

// Err attaches err under the "error" key. A nil err is dropped when the record is built.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Record is a single log event. It is built once per log call and must be
// treated as read-only by handlers; Fields is shared between all of them.
type Record struct {
	ID      string
	Time    time.Time
	Level   Level
	Logger  string
	Prefix  string
	Message string
	Caller  string
	Fields  []Field

	// Err and Stack are set by Exception and Recover.
	Err   error
	Stack string
}

// Field returns the last value stored under key.
func (r Record) Field(key string) (any, bool) {
	for i := len(r.Fields) - 1; i >= 0; i-- {
		if r.Fields[i].Key == key {
			return r.Fields[i].Value, true
		}
	}
	return nil, false
}

// FieldMap flattens Fields into a map; later keys win.
func (r Record) FieldMap() map[string]any {
	m := make(map[string]any, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Key] = f.Value
	}
	return m
}

// ValueString renders a field value the way text formatters print it.
func ValueString(v any) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return x
	case error:
		return x.Error()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

package format

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/valyala/fastjson"

	"turboprint/pkg/turboprint"
)

// JSON renders one record per line as a JSON object:
//
//	{"time":"...","level":"INFO","level_value":30,"logger":"app","message":"...","fields":{...}}
//
// Empty optional keys (prefix, caller, id, error, stack, fields) are omitted.
type JSON struct {
	arenas fastjson.ArenaPool
	// TimeLayout defaults to time.RFC3339Nano.
	TimeLayout string
}

func NewJSON() *JSON { return &JSON{} }

func (j *JSON) Format(rec turboprint.Record) string {
	return string(j.Append(nil, rec))
}

// Append appends the encoded record to dst.
func (j *JSON) Append(dst []byte, rec turboprint.Record) []byte {
	a := j.arenas.Get()
	defer func() {
		a.Reset()
		j.arenas.Put(a)
	}()

	layout := j.TimeLayout
	if layout == "" {
		layout = time.RFC3339Nano
	}
	o := a.NewObject()
	o.Set("time", a.NewString(rec.Time.Format(layout)))
	o.Set("level", a.NewString(rec.Level.String()))
	o.Set("level_value", a.NewNumberInt(int(rec.Level)))
	o.Set("logger", a.NewString(rec.Logger))
	if rec.Prefix != "" {
		o.Set("prefix", a.NewString(rec.Prefix))
	}
	o.Set("message", a.NewString(rec.Message))
	if rec.ID != "" {
		o.Set("id", a.NewString(rec.ID))
	}
	if rec.Caller != "" {
		o.Set("caller", a.NewString(rec.Caller))
	}
	if rec.Err != nil {
		o.Set("error", a.NewString(rec.Err.Error()))
	}
	if rec.Stack != "" {
		o.Set("stack", a.NewString(rec.Stack))
	}
	if len(rec.Fields) > 0 {
		fo := a.NewObject()
		for _, f := range rec.Fields {
			fo.Set(f.Key, jsonValue(a, f.Value))
		}
		o.Set("fields", fo)
	}
	return o.MarshalTo(dst)
}

func jsonValue(a *fastjson.Arena, v any) *fastjson.Value {
	switch x := v.(type) {
	case nil:
		return a.NewNull()
	case string:
		return a.NewString(x)
	case bool:
		if x {
			return a.NewTrue()
		}
		return a.NewFalse()
	case int:
		return a.NewNumberInt(x)
	case int32:
		return a.NewNumberInt(int(x))
	case int64:
		return a.NewNumberString(fmt.Sprint(x))
	case uint:
		return a.NewNumberString(fmt.Sprint(x))
	case uint32:
		return a.NewNumberString(fmt.Sprint(x))
	case uint64:
		return a.NewNumberString(fmt.Sprint(x))
	case float32:
		return jsonFloat(a, float64(x))
	case float64:
		return jsonFloat(a, x)
	case time.Time:
		return a.NewString(x.Format(time.RFC3339Nano))
	default:
		return a.NewString(turboprint.ValueString(v))
	}
}

func jsonFloat(a *fastjson.Arena, f float64) *fastjson.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return a.NewString(fmt.Sprint(f))
	}
	return a.NewNumberFloat64(f)
}

var jsonParsers fastjson.ParserPool

// ParseJSON decodes a line written by JSON. Integral field numbers come back
// as int64, other numbers as float64.
func ParseJSON(line []byte) (turboprint.Record, error) {
	var rec turboprint.Record
	p := jsonParsers.Get()
	defer jsonParsers.Put(p)

	v, err := p.ParseBytes(line)
	if err != nil {
		return rec, fmt.Errorf("parse json record: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return rec, errors.New("parse json record: not an object")
	}
	if ts := v.GetStringBytes("time"); len(ts) > 0 {
		t, err := time.Parse(time.RFC3339Nano, string(ts))
		if err != nil {
			return rec, fmt.Errorf("parse json record time: %w", err)
		}
		rec.Time = t
	}
	if lv := v.Get("level_value"); lv != nil {
		rec.Level = turboprint.Level(v.GetInt("level_value"))
	} else if name := v.GetStringBytes("level"); len(name) > 0 {
		lvl, err := turboprint.ParseLevel(string(name))
		if err != nil {
			return rec, err
		}
		rec.Level = lvl
	}
	rec.Logger = string(v.GetStringBytes("logger"))
	rec.Prefix = string(v.GetStringBytes("prefix"))
	rec.Message = string(v.GetStringBytes("message"))
	rec.ID = string(v.GetStringBytes("id"))
	rec.Caller = string(v.GetStringBytes("caller"))
	rec.Stack = string(v.GetStringBytes("stack"))
	if e := v.GetStringBytes("error"); len(e) > 0 {
		rec.Err = errors.New(string(e))
	}
	if fo := v.GetObject("fields"); fo != nil {
		fo.Visit(func(key []byte, fv *fastjson.Value) {
			rec.Fields = append(rec.Fields, turboprint.Field{Key: string(key), Value: fromJSON(fv)})
		})
	}
	return rec, nil
}

func fromJSON(v *fastjson.Value) any {
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

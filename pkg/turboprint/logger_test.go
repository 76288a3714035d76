package turboprint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	logx "turboprint/pkg/logx"
)

type recorder struct {
	mu   sync.Mutex
	recs []Record
}

func (r *recorder) Handle(_ context.Context, rec Record) error {
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
	return nil
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.recs))
	for _, rec := range r.recs {
		out = append(out, rec.Message)
	}
	return out
}

func (r *recorder) last() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.recs) == 0 {
		return Record{}
	}
	return r.recs[len(r.recs)-1]
}

type failing struct{ calls int }

func (f *failing) Handle(context.Context, Record) error {
	f.calls++
	return errors.New("sink down")
}

type panicking struct{}

func (panicking) Handle(context.Context, Record) error { panic("boom") }

func newTestRegistry(opts ...Option) *Registry {
	base := []Option{WithFallback(logx.Nop())}
	return NewRegistry(append(base, opts...)...)
}

func TestLevelThresholds(t *testing.T) {
	t.Parallel()
	for _, set := range Levels {
		for _, at := range Levels {
			reg := newTestRegistry()
			rec := &recorder{}
			log := reg.Get("grid")
			log.AddHandler(rec)
			log.SetPropagate(false)
			log.SetLevel(set)

			log.Log(at, "msg")
			got := len(rec.messages())
			want := 0
			if at >= set {
				want = 1
			}
			if got != want {
				t.Fatalf("level %s logging at %s: delivered %d, want %d", set, at, got, want)
			}
		}
	}
}

func TestChildInheritsAncestorLevelChanges(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	child := reg.Get("svc.api.handlers")
	if got := child.EffectiveLevel(); got != LevelInfo {
		t.Fatalf("EffectiveLevel = %s, want INFO", got)
	}

	reg.Get("svc").SetLevel(LevelError)
	if got := child.EffectiveLevel(); got != LevelError {
		t.Fatalf("after parent change EffectiveLevel = %s, want ERROR", got)
	}

	reg.Get("svc.api").SetLevel(LevelDebug)
	if got := child.EffectiveLevel(); got != LevelDebug {
		t.Fatalf("nearest ancestor should win, got %s", got)
	}

	child.SetLevel(LevelCritical)
	reg.Get("svc.api").SetLevel(LevelTrace)
	if got := child.EffectiveLevel(); got != LevelCritical {
		t.Fatalf("explicit override lost, got %s", got)
	}

	child.ClearLevel()
	if got := child.EffectiveLevel(); got != LevelTrace {
		t.Fatalf("after ClearLevel EffectiveLevel = %s, want TRACE", got)
	}
}

func TestScenarioWarningOnAncestor(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	rootRec, appRec, dbRec := &recorder{}, &recorder{}, &recorder{}
	reg.Root().AddHandler(rootRec)
	reg.Get("app").AddHandler(appRec)
	reg.Get("app").SetLevel(LevelWarning)
	db := reg.Get("app.db")
	db.AddHandler(dbRec)

	db.Info("connected")
	db.Warn("slow query")

	for name, rec := range map[string]*recorder{"root": rootRec, "app": appRec, "app.db": dbRec} {
		got := rec.messages()
		if len(got) != 1 || got[0] != "slow query" {
			t.Fatalf("%s handler got %v, want [slow query]", name, got)
		}
		if rec.last().Logger != "app.db" {
			t.Fatalf("%s handler record logger = %q", name, rec.last().Logger)
		}
	}
	if s := reg.Stats(); s.Suppressed != 1 || s.Processed != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPropagationStopsAtDisabledLogger(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	rootRec, appRec, childRec := &recorder{}, &recorder{}, &recorder{}
	reg.Root().AddHandler(rootRec)
	reg.Get("app").AddHandler(appRec)
	reg.Get("app").SetPropagate(false)
	reg.Get("app.worker").AddHandler(childRec)

	reg.Get("app.worker").Info("tick")

	if len(childRec.messages()) != 1 || len(appRec.messages()) != 1 {
		t.Fatalf("child=%v app=%v", childRec.messages(), appRec.messages())
	}
	if got := rootRec.messages(); len(got) != 0 {
		t.Fatalf("root should not receive, got %v", got)
	}
}

func TestHandlerOrderFollowsAttachOrder(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	var order []string
	var mu sync.Mutex
	mk := func(name string) Handler {
		return HandlerFunc(func(context.Context, Record) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}
	reg.Root().AddHandler(mk("root"))
	log := reg.Get("a.b")
	log.AddHandler(mk("first"))
	log.AddHandler(mk("second"))
	reg.Get("a").AddHandler(mk("parent"))

	log.Info("x")
	if got := strings.Join(order, ","); got != "first,second,parent,root" {
		t.Fatalf("order = %s", got)
	}
}

func TestFailingHandlersDoNotBlockOthers(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	bad := &failing{}
	rec := &recorder{}
	log := reg.Get("app")
	log.AddHandler(bad)
	log.AddHandler(panicking{})
	log.AddHandler(rec)

	func() {
		defer func() {
			if p := recover(); p != nil {
				t.Fatalf("panic reached caller: %v", p)
			}
		}()
		log.Error("still delivered")
	}()

	if got := rec.messages(); len(got) != 1 {
		t.Fatalf("recorder got %v", got)
	}
	if bad.calls != 1 {
		t.Fatalf("failing handler calls = %d", bad.calls)
	}
	s := reg.Stats()
	if s.HandlerErrors != 1 || s.HandlerPanics != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestGetIsIdempotentUnderConcurrency(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	const n = 32
	got := make([]*Logger, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = reg.Get("pool.worker.io")
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatal("Get returned distinct instances for the same name")
		}
	}
	if reg.Get(" pool..worker.io ") != got[0] {
		t.Fatal("normalized name should resolve to the same logger")
	}
	for _, name := range []string{"pool", "pool.worker"} {
		if _, ok := reg.Lookup(name); !ok {
			t.Fatalf("ancestor %q not created", name)
		}
	}
	if p := got[0].Parent(); p == nil || p.Name() != "pool.worker" {
		t.Fatalf("Parent = %v", p)
	}
	if reg.Root().Parent() != nil {
		t.Fatal("root has a parent")
	}
}

func TestRemoveHandler(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	a, b := &recorder{}, &recorder{}
	log := reg.Get("x")
	log.AddHandler(a)
	log.AddHandler(b)
	if !log.RemoveHandler(a) {
		t.Fatal("RemoveHandler returned false for attached handler")
	}
	if log.RemoveHandler(a) {
		t.Fatal("RemoveHandler returned true twice")
	}
	log.Info("after")
	if len(a.messages()) != 0 || len(b.messages()) != 1 {
		t.Fatalf("a=%v b=%v", a.messages(), b.messages())
	}
	if hs := log.Handlers(); len(hs) != 1 {
		t.Fatalf("Handlers len = %d", len(hs))
	}
}

// wrapped is a comparable struct type whose interface field may hold a func.
type wrapped struct{ inner Handler }

func (w wrapped) Handle(ctx context.Context, rec Record) error { return w.inner.Handle(ctx, rec) }

func TestRemoveHandlerWithUncomparableValue(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	rec := &recorder{}
	fn := wrapped{inner: HandlerFunc(func(ctx context.Context, r Record) error { return rec.Handle(ctx, r) })}
	log := reg.Get("x")
	log.AddHandler(fn)
	log.AddHandler(rec)

	if log.RemoveHandler(wrapped{inner: HandlerFunc(func(context.Context, Record) error { return nil })}) {
		t.Fatal("distinct func-backed handler reported as attached")
	}
	if !log.RemoveHandler(rec) {
		t.Fatal("pointer handler not removed")
	}
	if err := reg.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	log.Info("still delivered")
	if got := rec.messages(); len(got) != 1 || got[0] != "still delivered" {
		t.Fatalf("messages = %v", got)
	}
}

func TestLoggerFiltersAndSwitch(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	rec := &recorder{}
	log := reg.Get("f")
	log.AddHandler(rec)
	log.AddFilter(FilterFunc(func(r Record) bool { return !strings.Contains(r.Message, "secret") }))

	log.Info("public")
	log.Info("secret token")
	log.SetEnabled(false)
	log.Critical("muted")
	log.SetEnabled(true)
	log.Info("back")

	if got := strings.Join(rec.messages(), ","); got != "public,back" {
		t.Fatalf("messages = %s", got)
	}
	if s := reg.Stats(); s.Filtered != 1 {
		t.Fatalf("filtered = %d", s.Filtered)
	}
}

func TestRecordCarriesContext(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)
	reg := newTestRegistry(
		WithClock(func() time.Time { return at }),
		WithIDs(func() string { return "id-1" }),
		WithCaller(true),
	)
	rec := &recorder{}
	log := reg.Get("ctx")
	log.AddHandler(rec)
	log.SetPrefix("API")
	log.SetFields(String("service", "billing"))

	log.With(Int("attempt", 2)).Warn("retrying", String("op", "charge"), Err(nil))

	got := rec.last()
	if got.ID != "id-1" || !got.Time.Equal(at) || got.Prefix != "API" || got.Level != LevelWarning {
		t.Fatalf("record = %+v", got)
	}
	if !strings.HasPrefix(got.Caller, "logger_test.go:") {
		t.Fatalf("Caller = %q", got.Caller)
	}
	keys := make([]string, 0, len(got.Fields))
	for _, f := range got.Fields {
		keys = append(keys, f.Key)
	}
	if strings.Join(keys, ",") != "service,attempt,op" {
		t.Fatalf("field keys = %v", keys)
	}
}

func TestExceptionAndRecover(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	rec := &recorder{}
	log := reg.Get("exc")
	log.AddHandler(rec)

	log.Exception("load failed", fmt.Errorf("wrap: %w", ErrResource))
	got := rec.last()
	if got.Level != LevelError || got.Err == nil || got.Stack == "" {
		t.Fatalf("record = %+v", got)
	}
	if v, ok := got.Field("error_type"); !ok || v != "*fmt.wrapError" {
		t.Fatalf("error_type = %v", v)
	}

	func() {
		defer func() { _ = recover() }()
		defer log.Recover("worker")
		panic("kaboom")
	}()
	got = rec.last()
	if got.Level != LevelCritical || got.Message != "worker" {
		t.Fatalf("recovered record = %+v", got)
	}
	if got.Err == nil || !strings.Contains(got.Err.Error(), "kaboom") {
		t.Fatalf("recovered err = %v", got.Err)
	}
}

func TestSpanLogsElapsed(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	reg := newTestRegistry(WithClock(func() time.Time { return now }))
	rec := &recorder{}
	log := reg.Get("span")
	log.AddHandler(rec)

	done := log.Span("rebuild")
	now = now.Add(1500 * time.Millisecond)
	done()

	if got := strings.Join(rec.messages(), ","); got != "start: rebuild,done: rebuild" {
		t.Fatalf("messages = %s", got)
	}
	if v, _ := rec.last().Field("took"); v != 1500*time.Millisecond {
		t.Fatalf("took = %v", v)
	}
}

func TestResetDetachesHandlers(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	shared := &recorder{}
	reg.Root().AddHandler(shared)
	reg.Get("a").AddHandler(shared)
	reg.Get("a").SetLevel(LevelError)
	reg.Root().SetLevel(LevelCritical)
	reg.Get("a").SetPropagate(false)

	detached := reg.Reset()
	if len(detached) != 1 {
		t.Fatalf("detached = %d, want 1 unique handler", len(detached))
	}
	if reg.Root().Level() != LevelInfo || reg.Get("a").Level() != LevelNotSet || !reg.Get("a").Propagate() {
		t.Fatal("Reset did not restore defaults")
	}
}

type closer struct{ closed int }

func (c *closer) Handle(context.Context, Record) error { return nil }

func (c *closer) Close() error {
	c.closed++
	return nil
}

func TestShutdownClosesEachHandlerOnce(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry()
	c := &closer{}
	reg.Root().AddHandler(c)
	reg.Get("a.b").AddHandler(c)
	if err := reg.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if c.closed != 1 {
		t.Fatalf("closed = %d, want 1", c.closed)
	}
}

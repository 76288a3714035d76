package viewer

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"turboprint/internal/eventbus"
	"turboprint/internal/storage"
	"turboprint/pkg/handler"
	"turboprint/pkg/turboprint"

	logx "turboprint/pkg/logx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func event(logger string, level turboprint.Level, msg string) handler.Event {
	return handler.Event{
		Record: turboprint.Record{Time: time.Now(), Logger: logger, Level: level, Message: msg},
		Text:   level.String() + " " + msg,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLogsAndStats(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(10)
	ctx := context.Background()
	for _, ev := range []handler.Event{
		event("app", turboprint.LevelInfo, "boot"),
		event("app.db", turboprint.LevelError, "conn refused"),
		event("web", turboprint.LevelWarning, "slow"),
	} {
		if err := store.Append(ctx, storage.FromEvent(ev)); err != nil {
			t.Fatal(err)
		}
	}
	reg := turboprint.NewRegistry(turboprint.WithFallback(logx.Nop()))
	reg.Get("app").Info("hello")

	s := New(eventbus.New(), store, reg.Stats, logx.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?logger=app&level=warning")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Entries []storage.Entry `json:"entries"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(body.Entries) != 1 || body.Entries[0].Message != "conn refused" {
		t.Fatalf("entries = %+v", body.Entries)
	}

	resp, err = http.Get(ts.URL + "/api/logs?level=LOUD")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad level status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	var stats struct {
		Registry turboprint.StatsSnapshot `json:"registry"`
	}
	err = json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Registry.Processed != 1 || stats.Registry.ByLevel["INFO"] != 1 {
		t.Fatalf("stats = %+v", stats.Registry)
	}

	resp, err = http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(page), "EventSource") {
		t.Fatal("index page not served")
	}
}

func TestStreamFiltersEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s := New(bus, nil, nil, logx.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream?logger=app", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	waitFor(t, func() bool { return bus.Subscribers() == 1 })
	bus.Publish(event("web", turboprint.LevelInfo, "skip me"))
	bus.Publish(event("app.db", turboprint.LevelInfo, "keep me"))

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var e storage.Entry
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &e); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if e.Message != "keep me" || e.Logger != "app.db" {
			t.Fatalf("streamed %+v", e)
		}
		return
	}
	t.Fatalf("stream ended: %v", sc.Err())
}

func TestServerLifecycleRecordsHistory(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	store := storage.NewMemory(10)
	s := New(bus, store, nil, logx.Nop())
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("expected listen address")
	}

	bus.Publish(event("app", turboprint.LevelInfo, "persisted"))
	waitFor(t, func() bool {
		got, _ := store.Recent(context.Background(), storage.Query{})
		return len(got) == 1
	})

	// An open stream must not hold up Stop.
	resp, err := http.Get("http://" + addr + "/api/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	start := time.Now()
	s.Stop(context.Background())
	if time.Since(start) > time.Second {
		t.Fatalf("stop took %v", time.Since(start))
	}
	if s.Addr() != "" {
		t.Fatal("address should clear after stop")
	}
	if bus.Subscribers() != 0 {
		t.Fatalf("subscribers after stop = %d", bus.Subscribers())
	}
}

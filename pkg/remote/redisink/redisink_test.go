package redisink

import (
	"context"
	"errors"
	"testing"
	"time"

	"turboprint/pkg/format"
	"turboprint/pkg/remote"
	"turboprint/pkg/turboprint"
)

func TestValuesCarryRecord(t *testing.T) {
	t.Parallel()
	s, err := NewSink(Config{Addr: "127.0.0.1:6379", Stream: "logs"})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer s.Close()
	rec := turboprint.Record{
		ID:      "abc",
		Time:    time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC),
		Level:   turboprint.LevelFail,
		Logger:  "jobs",
		Message: "import failed",
	}
	v := s.Values(remote.Message{Text: "[FAIL] import failed", Record: rec})
	if v["level"] != "FAIL" || v["level_value"] != "60" || v["logger"] != "jobs" || v["text"] != "[FAIL] import failed" {
		t.Fatalf("values = %v", v)
	}
	back, err := format.ParseJSON([]byte(v["record"].(string)))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if back.Message != rec.Message || !back.Time.Equal(rec.Time) {
		t.Fatalf("record = %+v", back)
	}
}

func TestSendFailsWithoutServer(t *testing.T) {
	t.Parallel()
	s, err := NewSink(Config{Addr: "127.0.0.1:1", Stream: "logs", DialTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Send(ctx, remote.Message{Text: "x"}); err == nil {
		t.Fatal("expected error with no redis listening")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	for _, c := range []Config{{}, {Addr: "x:1"}, {Addr: "x:1", Stream: "s", MaxLen: -1}} {
		if err := c.Validate(); !errors.Is(err, turboprint.ErrConfiguration) {
			t.Fatalf("Validate(%+v) = %v", c, err)
		}
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"turboprint/pkg/format"
	"turboprint/pkg/turboprint"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func writeConfig(t *testing.T, logPath string) string {
	t.Helper()
	doc := `
diagnostics: {level: ERROR}
formatters:
  plain: {template: "{level}|{logger}|{message}|{fields}"}
handlers:
  file: {type: file, formatter: plain, file: {path: ` + logPath + `}}
loggers:
  root: {level: DEBUG, handlers: [file]}
storage: {driver: memory, capacity: 20}
`
	path := filepath.Join(t.TempDir(), "turboprint.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPipeFormats(t *testing.T) {
	t.Parallel()
	logPath := filepath.Join(t.TempDir(), "out.log")
	a, err := New(Options{ConfigPath: writeConfig(t, logPath)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	n, err := a.Pipe(ctx, strings.NewReader("hello\n\nworld\r\n"), PipeOptions{Logger: "stdin", Level: turboprint.LevelWarning})
	if err != nil || n != 2 {
		t.Fatalf("plain pipe = %d, %v", n, err)
	}
	in := `{"level":"ERROR","logger":"svc.api","message":"boom","fields":{"code":500}}` + "\n" + "not json\n"
	if n, err = a.Pipe(ctx, strings.NewReader(in), PipeOptions{Logger: "stdin", Format: InputJSON}); err != nil || n != 2 {
		t.Fatalf("json pipe = %d, %v", n, err)
	}
	if _, err := a.Pipe(ctx, strings.NewReader("x"), PipeOptions{Format: "xml"}); !errors.Is(err, turboprint.ErrConfiguration) {
		t.Fatalf("unknown format err = %v", err)
	}

	if err := a.Stop(ctx, StopInputEOF); err != nil {
		t.Fatalf("stop: %v", err)
	}
	b, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"WARNING|stdin|hello|",
		"WARNING|stdin|world|",
		"ERROR|svc.api|boom|code=500",
		"INFO|stdin|not json|unparsed=true",
	}, "\n") + "\n"
	if string(b) != want {
		t.Fatalf("log file:\n%s\nwant:\n%s", b, want)
	}
}

func TestPipeTemplateInput(t *testing.T) {
	t.Parallel()
	logPath := filepath.Join(t.TempDir(), "out.log")
	a, err := New(Options{ConfigPath: writeConfig(t, logPath)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	line := format.Default().Format(turboprint.Record{
		Time:    time.Date(2026, 10, 17, 9, 30, 0, 0, time.Local),
		Level:   turboprint.LevelWarning,
		Prefix:  "DB",
		Message: "slow query on users",
		Fields:  []turboprint.Field{turboprint.String("table", "users"), turboprint.Int("ms", 812)},
	})
	if n, err := a.Pipe(ctx, strings.NewReader(line+"\n"), PipeOptions{Logger: "stdin", Format: InputTemplate}); err != nil || n != 1 {
		t.Fatalf("template pipe = %d, %v", n, err)
	}
	if err := a.Stop(ctx, StopInputEOF); err != nil {
		t.Fatalf("stop: %v", err)
	}
	b, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if want := "WARNING|stdin|slow query on users|table=users ms=812\n"; string(b) != want {
		t.Fatalf("log file = %q, want %q", b, want)
	}
}

func TestViewerOverride(t *testing.T) {
	t.Parallel()
	a, err := New(Options{
		ConfigPath: writeConfig(t, filepath.Join(t.TempDir(), "out.log")),
		ViewerAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop(ctx, StopUnknown)

	addr := a.Viewer().Addr()
	if addr == "" {
		t.Fatal("viewer not listening")
	}
	if len(a.Registry().Root().Handlers()) != 2 {
		t.Fatal("viewer handler not attached to root")
	}
	a.Registry().Get("app").Info("shown in viewer")

	var body struct {
		Entries []struct {
			Message string `json:"message"`
		} `json:"entries"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/api/logs")
		if err != nil {
			t.Fatal(err)
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if len(body.Entries) == 1 && body.Entries[0].Message == "shown in viewer" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("entries = %+v", body.Entries)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCaptureStdlib(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "out.log")
	a, err := New(Options{ConfigPath: writeConfig(t, logPath), CaptureStdlib: "go"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	before := slog.Default()
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	slog.Warn("pool exhausted", "size", 8)
	log.Print("legacy line")
	if err := a.Stop(ctx, StopInputEOF); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if slog.Default() != before {
		t.Fatal("slog default not restored by Stop")
	}

	b, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "WARNING|go|pool exhausted|size=8\nINFO|go|legacy line|\n"
	if string(b) != want {
		t.Fatalf("file = %q, want %q", b, want)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	a, err := New(Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := len(a.Registry().Root().Handlers()); got != 1 {
		t.Fatalf("root handlers = %d", got)
	}
	if err := a.Stop(context.Background(), StopUnknown); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

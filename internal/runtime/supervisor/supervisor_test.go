package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGoRecoversPanicAndCancels(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("boom", func(context.Context) { panic("kaput") })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "panic in boom") {
		t.Fatalf("wait err = %v", err)
	}
	if c := s.Counters(); c.Started != 2 || c.Active != 0 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestStopTreatsCancelAsClean(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop = %v", err)
	}
}

func TestFirstErrorWins(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	first := errors.New("first")
	s.Go("a", func(context.Context) error { return first })
	for s.Err() == nil {
		time.Sleep(time.Millisecond)
	}
	s.Go("b", func(context.Context) error { return errors.New("second") })
	err := s.Stop(context.Background())
	if !errors.Is(err, first) {
		t.Fatalf("err = %v", err)
	}
}

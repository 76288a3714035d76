package turboprint

import (
	"errors"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{"info", LevelInfo},
		{" WARN ", LevelWarning},
		{"warning", LevelWarning},
		{"fatal", LevelCritical},
		{"success", LevelSuccess},
		{"", LevelNotSet},
		{"25", Level(25)},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"verbose", "-5"} {
		_, err := ParseLevel(in)
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("ParseLevel(%q) err = %v, want configuration error", in, err)
		}
	}
}

func TestLevelOrdering(t *testing.T) {
	t.Parallel()
	for i := 1; i < len(Levels); i++ {
		if Levels[i-1] >= Levels[i] {
			t.Fatalf("%s must be below %s", Levels[i-1], Levels[i])
		}
	}
	if Level(42).String() != "LEVEL(42)" {
		t.Fatalf("unnamed level string = %s", Level(42))
	}
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()
	err := ResourceError("open file", errors.New("permission denied"))
	if !errors.Is(err, ErrResource) || errors.Is(err, ErrDelivery) {
		t.Fatalf("kind mismatch: %v", err)
	}
	var te *Error
	if !errors.As(err, &te) || te.Op != "open file" {
		t.Fatalf("errors.As failed: %v", err)
	}
	if NewError(KindDelivery, "send", nil) != nil {
		t.Fatal("nil cause should yield nil error")
	}
}

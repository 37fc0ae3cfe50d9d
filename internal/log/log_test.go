package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Debug("hidden", "k", 1)
	Info("shown", "group", "g1")
	Error("failed", errors.New("boom"), "session_id", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at INFO: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "group=g1") {
		t.Fatalf("missing info line: %q", out)
	}
	if !strings.Contains(out, "err=boom") || !strings.Contains(out, "session_id=7") {
		t.Fatalf("missing error fields: %q", out)
	}
}

func TestOddKVIgnored(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelDebug)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Debug("odd", "a", 1, "dangling")
	if strings.Contains(buf.String(), "BADKEY") {
		t.Fatalf("dangling key should be dropped: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

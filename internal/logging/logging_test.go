package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/vault-cli/lockbox/internal/protect"
)

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", "text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Debug("dbg", "a", 1)
	log.Info("inf", "b", 2)

	out := buf.String()
	for _, want := range []string{"level=DEBUG", "msg=dbg", "a=1", "level=INFO", "b=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Info("hello", "k", "v")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, buf.String())
	}
	if line["msg"] != "hello" || line["k"] != "v" {
		t.Fatalf("unexpected record: %v", line)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at the default level:\n%s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn missing:\n%s", out)
	}
}

func TestProtectedValuesAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Info("entry", slog.Any("password", protect.FromString("hunter2")))

	if strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("secret leaked into log: %s", buf.String())
	}
}

func TestInvalidSettings(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedKeysRender(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("error.timeout", map[string]any{"Name": "bob", "Timeout": "10 minutes"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Timeout! User bob failed to move in 10 minutes." {
		t.Fatalf("got %q", got)
	}
	if _, err := c.Render("error.timeout", map[string]any{"Name": "bob"}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if !strings.HasPrefix(c.Text("cmd.help", nil), "To start a new game") {
		t.Fatalf("help text not loaded")
	}
}

func TestTextFallsBackToKey(t *testing.T) {
	c := MustDefault()
	if got := c.Text("no.such.key", nil); got != "no.such.key" {
		t.Fatalf("got %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("request:\n  busy: \"Busy, try later\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("request.busy", nil); got != "Busy, try later" {
		t.Fatalf("override not applied: %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("request:\n  busy: \"again\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

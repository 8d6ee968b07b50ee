package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docopt/docopt-go"

	"github.com/gogpu/vecsync"
)

func parse(t *testing.T, args ...string) docopt.Opts {
	t.Helper()
	opts, err := docopt.ParseArgs(usage, args, version)
	if err != nil {
		t.Fatalf("ParseArgs(%q) error = %v", args, err)
	}
	return opts
}

func TestRenderCommand(t *testing.T) {
	t.Cleanup(func() { vecsync.SetLogger(nil) })

	dir := t.TempDir()
	input := filepath.Join(dir, "doc.txt")
	output := filepath.Join(dir, "out.svg")
	logFile := filepath.Join(dir, "log.json")
	if err := os.WriteFile(input, []byte("# Hello\n\nworld\fsecond page"), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	opts := parse(t, "render", input, "--output="+output, "--page-gap=8", "--stats", "--log-file="+logFile)
	if err := run(opts, &stdout); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	svgOut, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(svgOut, []byte("<svg")) || !bytes.Contains(svgOut, []byte(`data-page="1"`)) {
		t.Errorf("output should render both pages, got %.200s", svgOut)
	}
	if !strings.Contains(stdout.String(), "pages:      2") {
		t.Errorf("stats = %q", stdout.String())
	}
	if !strings.Contains(stdout.String(), "unresolved: 0") {
		t.Errorf("stats = %q", stdout.String())
	}

	logged, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(logged, []byte(`"msg":"rendered"`)) {
		t.Errorf("JSON log should contain the render record, got %q", logged)
	}
}

func TestRenderCommandErrors(t *testing.T) {
	t.Cleanup(func() { vecsync.SetLogger(nil) })
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{"missing input", []string{"render", filepath.Join(dir, "missing.txt"), "--output=" + filepath.Join(dir, "a.svg")}},
		{"bad window", []string{"render", "x.txt", "--window=1,2,3"}},
		{"bad gap", []string{"render", "x.txt", "--page-gap=wide"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(parse(t, tt.args...), &bytes.Buffer{}); err == nil {
				t.Error("run() should fail")
			}
		})
	}
}

func TestServeCommandRejectsConfig(t *testing.T) {
	t.Cleanup(func() { vecsync.SetLogger(nil) })
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("max_sessions: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := run(parse(t, "serve", "--config="+path), &bytes.Buffer{}); err == nil {
		t.Error("invalid configuration should fail before serving")
	}
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const source = `package shapes

type Rect struct{ W, H float64 }

func Area(r Rect) float64 { return r.W * r.H }

func Leak(ch chan int) {}
`

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shapes.go")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun(t *testing.T) {
	src := writeSource(t)
	dir := filepath.Dir(src)
	stubFile := filepath.Join(dir, "client", "shapes_stub.go")
	skelFile := filepath.Join(dir, "shapes_remote.go")

	core, logs := observer.New(zapcore.InfoLevel)
	err := run([]string{"-module", "geo/shapes", "-package", "client", "-stub", stubFile, "-skeleton", skelFile, src}, &bytes.Buffer{}, zap.New(core))
	if err != nil {
		t.Fatal(err)
	}

	stub, err := os.ReadFile(stubFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"package client", `stub.ForModule("geo/shapes")`, "func Area(r Rect) float64 {"} {
		if !strings.Contains(string(stub), want) {
			t.Fatalf("stub misses %q:\n%s", want, stub)
		}
	}
	skel, err := os.ReadFile(skelFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(skel), "package shapes") || !strings.Contains(string(skel), `reg.Hook("geo/shapes")`) {
		t.Fatalf("unexpected skeleton:\n%s", skel)
	}

	// Leak 只报告一次
	if n := logs.FilterMessage("declaration skipped").Len(); n != 1 {
		t.Fatalf("expect one skip warning, got %d", n)
	}
}

func TestRunStdout(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"-stub", "-", writeSource(t)}, &out, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `stub.ForModule("shapes")`) {
		t.Fatalf("expect module to default to the package name:\n%s", out.String())
	}
}

func TestRunUsage(t *testing.T) {
	src := writeSource(t)
	for _, args := range [][]string{
		{src},
		{"-stub", "-"},
		{"-stub", "-", src, src},
		{"-stub", "-", filepath.Join(t.TempDir(), "missing.go")},
		{"-bogus"},
	} {
		if err := run(args, &bytes.Buffer{}, zap.NewNop()); err == nil {
			t.Fatalf("expect error for %v", args)
		}
	}
}

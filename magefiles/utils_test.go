//go:build mage

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExecuteCmdDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/shaders\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := executeCmd("go", withArgs("env", "GOMOD"), withDir(dir))
	if err != nil {
		t.Fatalf("executeCmd: %v", err)
	}
	if got := strings.TrimSpace(out); got != filepath.Join(dir, "go.mod") {
		t.Errorf("GOMOD = %q, want the module in %s", got, dir)
	}

	out, err = executeCmd("go", withArgs("env", "GOFLAGS"), withEnv("GOFLAGS=-mod=mod"))
	if err != nil {
		t.Fatalf("executeCmd: %v", err)
	}
	if got := strings.TrimSpace(out); got != "-mod=mod" {
		t.Errorf("GOFLAGS = %q, want -mod=mod", got)
	}
}

func TestExecuteCmdMissingTool(t *testing.T) {
	_, err := executeCmd("glslc-not-installed")
	if err == nil || !strings.Contains(err.Error(), "not on PATH") {
		t.Errorf("err = %v, want a missing tool error", err)
	}
}

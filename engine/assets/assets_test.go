package assets

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/hellotriangle/engine/core"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadShaders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "vs.bin"), []byte{1, 2, 3, 4})
	writeFile(t, filepath.Join(dir, "ps.bin"), []byte{5, 6, 7, 8})
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("ignored"))

	am := NewAssetManager()
	if err := am.Initialize(dir, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer am.Shutdown()

	vs, ps, err := am.LoadShaders("vs.bin", "ps.bin")
	if err != nil {
		t.Fatalf("LoadShaders: %v", err)
	}
	if !bytes.Equal(vs, []byte{1, 2, 3, 4}) || !bytes.Equal(ps, []byte{5, 6, 7, 8}) {
		t.Errorf("LoadShaders = %v, %v", vs, ps)
	}
	if n := len(am.Assets()); n != 2 {
		t.Errorf("indexed %d assets, want 2", n)
	}
}

func TestLoadShadersMissing(t *testing.T) {
	tests := []struct {
		name  string
		files map[string][]byte
	}{
		{"no files", nil},
		{"pixel missing", map[string][]byte{"vs.bin": {1}}},
		{"vertex empty", map[string][]byte{"vs.bin": {}, "ps.bin": {1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, data := range tt.files {
				writeFile(t, filepath.Join(dir, name), data)
			}
			am := NewAssetManager()
			if err := am.Initialize(dir, false); err != nil {
				t.Fatalf("Initialize: %v", err)
			}
			if _, _, err := am.LoadShaders("vs.bin", "ps.bin"); !errors.Is(err, core.ErrShaderMissing) {
				t.Errorf("LoadShaders err = %v, want ErrShaderMissing", err)
			}
		})
	}
}

func TestInitializeRejectsMissingDir(t *testing.T) {
	am := NewAssetManager()
	if err := am.Initialize(filepath.Join(t.TempDir(), "nope"), false); err == nil {
		t.Error("Initialize accepted a missing directory")
	}
}

func TestDetermineAssetType(t *testing.T) {
	tests := map[string]AssetType{
		"resources/vs.bin":              AssetTypeShaderBinary,
		"shaders/frag.spv":              AssetTypeShaderBinary,
		"resources/shaders/shader.vert": AssetTypeShaderSource,
		"model.obj":                     AssetTypeNone,
	}
	for path, want := range tests {
		if got := determineAssetType(path); got != want {
			t.Errorf("determineAssetType(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestWatchReportsChanges(t *testing.T) {
	dir := t.TempDir()
	am := NewAssetManager()
	if err := am.Initialize(dir, true); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer am.Shutdown()

	path := filepath.Join(dir, "vs.bin")
	writeFile(t, path, []byte{9, 9, 9, 9})

	select {
	case info := <-am.Changes():
		if info.Path != path || info.Type != AssetTypeShaderBinary {
			t.Errorf("change = %+v", info)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	a, err := am.LoadAsset("vs.bin")
	if err != nil {
		t.Fatalf("LoadAsset after change: %v", err)
	}
	if !bytes.Equal(a.Data, []byte{9, 9, 9, 9}) {
		t.Errorf("data = %v", a.Data)
	}
}

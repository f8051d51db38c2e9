package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/qobs-build/qext/internal/builder"
	"github.com/qobs-build/qext/internal/msg"
)

func TestEnumValue(t *testing.T) {
	v := NewEnumValue("auto", map[string]string{"auto": "", "gnu": "GCC"})
	if err := v.Set("gnu"); err != nil || v.Value() != "gnu" {
		t.Errorf("Set(gnu) = %v, value %q", err, v.Value())
	}
	if err := v.Set("borland"); err == nil {
		t.Error("Set(borland) succeeded")
	}
	if keys := v.AllowedKeys(); !slices.Equal(keys, []string{"auto", "gnu"}) {
		t.Errorf("AllowedKeys() = %v", keys)
	}
}

func TestInitWritesDefaultManifest(t *testing.T) {
	msg.Output = io.Discard
	dir := filepath.Join(t.TempDir(), "ext")
	initIn(dir)

	data, err := os.ReadFile(filepath.Join(dir, builder.ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, builder.DefaultManifest) {
		t.Error("manifest differs from the default")
	}
	if _, err := os.Stat(filepath.Join(dir, ".gitignore")); err != nil {
		t.Errorf(".gitignore missing: %v", err)
	}

	// a second run leaves edited files alone
	if err := os.WriteFile(filepath.Join(dir, builder.ManifestFile), []byte("edited"), 0o644); err != nil {
		t.Fatal(err)
	}
	initIn(dir)
	data, _ = os.ReadFile(filepath.Join(dir, builder.ManifestFile))
	if string(data) != "edited" {
		t.Error("init overwrote an existing manifest")
	}
}

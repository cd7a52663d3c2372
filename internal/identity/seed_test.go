package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateSeed(t *testing.T) {
	seed, err := GenerateSeed()
	if err != nil {
		t.Fatalf("GenerateSeed failed: %v", err)
	}
	if len(seed) != SeedSize {
		t.Fatalf("expected %d bytes, got %d", SeedSize, len(seed))
	}
}

func TestSaveSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.key")

	seed, _ := GenerateSeed()
	if err := SaveSeed(path, seed); err != nil {
		t.Fatalf("SaveSeed failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected 0600 permissions, got %o", info.Mode().Perm())
	}
}

func TestLoadSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.key")

	original, _ := GenerateSeed()
	_ = SaveSeed(path, original)

	loaded, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed failed: %v", err)
	}
	if string(loaded) != string(original) {
		t.Fatal("loaded seed doesn't match original")
	}
}

func TestLoadSeedRejectsBadSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.key")
	if err := os.WriteFile(path, []byte("too short"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSeed(path); err == nil {
		t.Fatal("expected error for undersized seed file")
	}
}

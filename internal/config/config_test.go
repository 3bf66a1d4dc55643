package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
steps: 20
batch_size: 8
generator_hidden: [32]
audio:
  shard_root: /data/audio
  num_mfcc: 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Steps != 20 || cfg.BatchSize != 8 {
		t.Fatalf("overridden values not applied: %+v", cfg)
	}
	if cfg.LatentDim != 100 || cfg.NumImages != 16 {
		t.Fatalf("defaults lost: latent=%d images=%d", cfg.LatentDim, cfg.NumImages)
	}
	if len(cfg.GeneratorHidden) != 1 || cfg.GeneratorHidden[0] != 32 {
		t.Fatalf("unexpected generator_hidden %v", cfg.GeneratorHidden)
	}
	if cfg.Audio.ShardRoot != "/data/audio" || cfg.Audio.NumMFCC != 20 || cfg.Audio.NumMels != 40 {
		t.Fatalf("unexpected audio section %+v", cfg.Audio)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, "stepz: 3\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Steps != Default().Steps {
		t.Fatalf("expected default steps, got %d", cfg.Steps)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{Steps: 5, Seed: 9, OutputDir: "out", ShardRoot: "shards"})
	if cfg.Steps != 5 || cfg.Seed != 9 || cfg.OutputDir != "out" || cfg.Audio.ShardRoot != "shards" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.BatchSize != 64 {
		t.Fatalf("zero override replaced batch size: %d", cfg.BatchSize)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LogEvery = 0
	cfg.NumImages = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.LogEvery != 100 || cfg.NumImages != 16 {
		t.Fatalf("defaults not filled: %d %d", cfg.LogEvery, cfg.NumImages)
	}

	cfg.Steps = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero steps")
	}
}

func TestAudioValidate(t *testing.T) {
	a := Default().Audio
	if err := a.Validate(); err == nil {
		t.Fatal("expected error without shard root")
	}
	a.ShardRoot = "x"
	a.NumMFCC = a.NumMels + 1
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for num_mfcc > num_mels")
	}

	a = Default().Audio
	a.ShardRoot = "x"
	a.NumMels, a.NumMFCC = 1, 1
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for a single mel band")
	}

	a = Default().Audio
	a.ShardRoot = "x"
	a.PatchFrames = 1
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for a one-frame patch")
	}
	a.PatchFrames = 0
	if err := a.Validate(); err != nil {
		t.Fatalf("disabled conv classifier should validate: %v", err)
	}
}

func TestValidateEngine(t *testing.T) {
	cfg := Default()
	cfg.Engine = "dense"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dense engine: %v", err)
	}
	cfg.Engine = "tape"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

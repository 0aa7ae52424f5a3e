package profiling

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigEnabled(t *testing.T) {
	tests := []struct {
		cfg  Config
		want bool
	}{
		{Config{}, false},
		{Config{CPUProfilePath: "cpu.prof"}, true},
		{Config{MemProfilePath: "mem.prof"}, true},
	}
	for _, tt := range tests {
		if got := tt.cfg.Enabled(); got != tt.want {
			t.Errorf("%+v.Enabled() = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}

func TestSessionWritesProfiles(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		CPUProfilePath: filepath.Join(dir, "cpu.prof"),
		MemProfilePath: filepath.Join(dir, "mem.prof"),
	}

	s, err := Start(cfg)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sum := 0
	for i := 0; i < 100000; i++ {
		sum += i
	}
	_ = sum

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	for _, p := range []string{cfg.CPUProfilePath, cfg.MemProfilePath} {
		info, err := os.Stat(p)
		if err != nil {
			t.Errorf("profile %s missing: %v", p, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("profile %s is empty", p)
		}
	}
}

func TestSessionWithoutCPUProfile(t *testing.T) {
	s, err := Start(Config{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestStartBadPath(t *testing.T) {
	_, err := Start(Config{CPUProfilePath: filepath.Join(t.TempDir(), "missing", "cpu.prof")})
	if err == nil {
		t.Error("expected error for unwritable CPU profile path")
	}
}

func TestWriteHeapProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")
	if err := WriteHeapProfile(path); err != nil {
		t.Fatalf("WriteHeapProfile() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("heap profile missing: %v", err)
	}
}

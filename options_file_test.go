package udd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOptionsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udd.yaml")

	want := DefaultOptions()
	want.DevicePath = "mem://configured"
	want.QueueDepth = 128
	want.NumCQThreads = 4
	want.SQCoreMask = 0x0F
	want.CQCoreMask = 0xF0
	want.SyncTimeout = 250 * time.Millisecond
	want.Compression = ZstdCompression
	want.ChecksumDescriptors = false

	if err := WriteOptionsFile(path, want); err != nil {
		t.Fatalf("WriteOptionsFile: %v", err)
	}

	got, err := LoadOptionsFile(path)
	if err != nil {
		t.Fatalf("LoadOptionsFile: %v", err)
	}

	if got.DevicePath != want.DevicePath {
		t.Errorf("DevicePath = %q, want %q", got.DevicePath, want.DevicePath)
	}
	if got.QueueDepth != want.QueueDepth {
		t.Errorf("QueueDepth = %d, want %d", got.QueueDepth, want.QueueDepth)
	}
	if got.NumCQThreads != want.NumCQThreads {
		t.Errorf("NumCQThreads = %d, want %d", got.NumCQThreads, want.NumCQThreads)
	}
	if got.SQCoreMask != want.SQCoreMask || got.CQCoreMask != want.CQCoreMask {
		t.Errorf("core masks = (%#x, %#x), want (%#x, %#x)",
			got.SQCoreMask, got.CQCoreMask, want.SQCoreMask, want.CQCoreMask)
	}
	if got.SyncTimeout != want.SyncTimeout {
		t.Errorf("SyncTimeout = %v, want %v", got.SyncTimeout, want.SyncTimeout)
	}
	if got.Compression != ZstdCompression {
		t.Errorf("Compression = %v, want ZSTD", got.Compression)
	}
	if got.ChecksumDescriptors {
		t.Error("ChecksumDescriptors should load as false")
	}
}

func TestLoadOptionsFilePartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udd.yaml")
	content := "device_path: mem://partial\nqueue_depth: 16\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	o, err := LoadOptionsFile(path)
	if err != nil {
		t.Fatalf("LoadOptionsFile: %v", err)
	}
	if o.DevicePath != "mem://partial" || o.QueueDepth != 16 {
		t.Errorf("file fields not applied: %q, %d", o.DevicePath, o.QueueDepth)
	}
	// Everything else keeps the defaults.
	if o.Compression != SnappyCompression {
		t.Errorf("Compression = %v, want default Snappy", o.Compression)
	}
	if !o.ChecksumDescriptors {
		t.Error("ChecksumDescriptors should keep its default true")
	}
	if o.SyncSpinBudget != 1<<20 {
		t.Errorf("SyncSpinBudget = %d, want default %d", o.SyncSpinBudget, 1<<20)
	}
}

func TestLoadOptionsFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadOptionsFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("load of missing file should fail")
	}

	tests := []struct {
		name    string
		content string
		wantArg bool
	}{
		{"unknown field", "queue_depht: 8\n", false},
		{"bad duration", "sync_timeout: soon\n", true},
		{"unknown compression", "compression: brotli\n", true},
		{"malformed yaml", "queue_depth: [\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			_, err := LoadOptionsFile(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantArg && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestCompressionNames(t *testing.T) {
	for name, ct := range compressionNames {
		got, err := compressionFromName(name)
		if err != nil || got != ct {
			t.Errorf("compressionFromName(%q) = (%v, %v)", name, got, err)
		}
		if back := compressionName(ct); back != name {
			t.Errorf("compressionName(%v) = %q, want %q", ct, back, name)
		}
	}
	if _, err := compressionFromName("gzip2"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown name: expected ErrInvalidArgument, got %v", err)
	}
}

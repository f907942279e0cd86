package udd

// options_file.go loads and saves session options as YAML, so deployments
// can keep device tuning (queue depth, core masks, compression) in a config
// file instead of code.

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// optionsFile is the YAML shape of Options. Durations are strings in
// time.ParseDuration form; compression is named, not numeric.
type optionsFile struct {
	DevicePath          string `yaml:"device_path,omitempty"`
	SyncDeviceInit      bool   `yaml:"sync_device_init,omitempty"`
	QueueDepth          int    `yaml:"queue_depth,omitempty"`
	SQCoreMask          uint64 `yaml:"sq_core_mask,omitempty"`
	CQCoreMask          uint64 `yaml:"cq_core_mask,omitempty"`
	NumCQThreads        int    `yaml:"num_cq_threads,omitempty"`
	MemSizeMB           int    `yaml:"mem_size_mb,omitempty"`
	Persistent          bool   `yaml:"persistent,omitempty"`
	DataPath            string `yaml:"data_path,omitempty"`
	ContextPoolSize     int    `yaml:"context_pool_size,omitempty"`
	ValuePoolSize       int    `yaml:"value_pool_size,omitempty"`
	SyncSpinBudget      int    `yaml:"sync_spin_budget,omitempty"`
	SyncTimeout         string `yaml:"sync_timeout,omitempty"`
	Compression         string `yaml:"compression,omitempty"`
	ChecksumDescriptors *bool  `yaml:"checksum_descriptors,omitempty"`
}

var compressionNames = map[string]CompressionType{
	"none":   NoCompression,
	"snappy": SnappyCompression,
	"zlib":   ZlibCompression,
	"lz4":    LZ4Compression,
	"lz4hc":  LZ4HCCompression,
	"zstd":   ZstdCompression,
}

func compressionFromName(name string) (CompressionType, error) {
	t, ok := compressionNames[strings.ToLower(name)]
	if !ok {
		return NoCompression, fmt.Errorf("%w: unknown compression %q", ErrInvalidArgument, name)
	}
	return t, nil
}

func compressionName(t CompressionType) string {
	for name, ct := range compressionNames {
		if ct == t {
			return name
		}
	}
	return "none"
}

// LoadOptionsFile reads YAML options from path, layered over
// DefaultOptions: fields absent from the file keep their defaults.
// Logger and Statistics are not representable in a file and stay nil.
func LoadOptionsFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options file: %w", err)
	}
	o := DefaultOptions()
	if err := unmarshalOptions(data, o); err != nil {
		return nil, fmt.Errorf("options file %s: %w", path, err)
	}
	return o, nil
}

// WriteOptionsFile saves the options as YAML at path.
func WriteOptionsFile(path string, o *Options) error {
	var f optionsFile
	f.DevicePath = o.DevicePath
	f.SyncDeviceInit = o.SyncDeviceInit
	f.QueueDepth = o.QueueDepth
	f.SQCoreMask = o.SQCoreMask
	f.CQCoreMask = o.CQCoreMask
	f.NumCQThreads = o.NumCQThreads
	f.MemSizeMB = o.MemSizeMB
	f.Persistent = o.Persistent
	f.DataPath = o.DataPath
	f.ContextPoolSize = o.ContextPoolSize
	f.ValuePoolSize = o.ValuePoolSize
	f.SyncSpinBudget = o.SyncSpinBudget
	if o.SyncTimeout > 0 {
		f.SyncTimeout = o.SyncTimeout.String()
	}
	f.Compression = compressionName(o.Compression)
	checksum := o.ChecksumDescriptors
	f.ChecksumDescriptors = &checksum

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write options file: %w", err)
	}
	return nil
}

func unmarshalOptions(data []byte, o *Options) error {
	var f optionsFile
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}

	if f.DevicePath != "" {
		o.DevicePath = f.DevicePath
	}
	o.SyncDeviceInit = f.SyncDeviceInit || o.SyncDeviceInit
	if f.QueueDepth != 0 {
		o.QueueDepth = f.QueueDepth
	}
	if f.SQCoreMask != 0 {
		o.SQCoreMask = f.SQCoreMask
	}
	if f.CQCoreMask != 0 {
		o.CQCoreMask = f.CQCoreMask
	}
	if f.NumCQThreads != 0 {
		o.NumCQThreads = f.NumCQThreads
	}
	if f.MemSizeMB != 0 {
		o.MemSizeMB = f.MemSizeMB
	}
	o.Persistent = f.Persistent || o.Persistent
	if f.DataPath != "" {
		o.DataPath = f.DataPath
	}
	if f.ContextPoolSize != 0 {
		o.ContextPoolSize = f.ContextPoolSize
	}
	if f.ValuePoolSize != 0 {
		o.ValuePoolSize = f.ValuePoolSize
	}
	if f.SyncSpinBudget != 0 {
		o.SyncSpinBudget = f.SyncSpinBudget
	}
	if f.SyncTimeout != "" {
		d, err := time.ParseDuration(f.SyncTimeout)
		if err != nil {
			return fmt.Errorf("%w: sync_timeout: %v", ErrInvalidArgument, err)
		}
		o.SyncTimeout = d
	}
	if f.Compression != "" {
		t, err := compressionFromName(f.Compression)
		if err != nil {
			return err
		}
		o.Compression = t
	}
	if f.ChecksumDescriptors != nil {
		o.ChecksumDescriptors = *f.ChecksumDescriptors
	}
	return nil
}

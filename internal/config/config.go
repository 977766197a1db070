// Package config parses the TOML configuration file shared by the
// monad and replay_ethereum binaries (spec.md §6), with
// github.com/c2h5oh/datasize giving human-friendly size literals
// ("2MiB") for the write-buffer and ring-capacity knobs.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"

	"github.com/monad-crypto/monad-exec/internal/mathutil"
)

// Config is the root configuration object. The zero value carries no
// chunk or ring sizes; Default supplies working values. Load starts
// from Default and only overrides fields present in the file, and CLI
// flags (wired in cmd/) override the file in turn.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Ring     RingConfig     `toml:"event_ring"`
	LogLevel string         `toml:"log_level"`
}

// StorageConfig controls the async I/O + storage pool (spec.md §4.B).
type StorageConfig struct {
	WriteBufferSize   datasize.ByteSize `toml:"write_buffer_size"`
	ChunkSize         datasize.ByteSize `toml:"chunk_size"`
	ArenaSize         datasize.ByteSize `toml:"arena_size"`
	RetentionWindow   uint64            `toml:"retention_window"`
	MinHistoryLength  uint64            `toml:"min_history_length"`
	DisableCompaction bool              `toml:"disable_compaction"`
}

// NumChunks derives the chunk count storage.Open needs from ArenaSize
// and ChunkSize, rounding up so the arena is never under-provisioned
// by a partial chunk.
func (s StorageConfig) NumChunks() int {
	return mathutil.CeilDiv(int(s.ArenaSize), int(s.ChunkSize))
}

// PipelineConfig controls the parallel execution pipeline (spec.md §4.D).
type PipelineConfig struct {
	NumThreads int `toml:"nthreads"`
	NumFibers  int `toml:"nfibers"`
}

// RingConfig controls the event ring (spec.md §4.A).
type RingConfig struct {
	DescriptorCountLog2 uint   `toml:"descriptor_count_log2"`
	PayloadBufLog2      uint   `toml:"payload_buf_log2"`
	ContentType         uint16 `toml:"content_type"`
}

// Default returns the configuration used when no file is supplied,
// matching the magnitudes named in spec.md (WRITE_SIZE ~2MiB, chunk
// size 2^28, descriptor/payload capacities powers of two with k>=12).
func Default() Config {
	return Config{
		Storage: StorageConfig{
			WriteBufferSize:  2 * datasize.MB,
			ChunkSize:        256 * datasize.MB,
			ArenaSize:        256 * datasize.GB,
			RetentionWindow:  10_000,
			MinHistoryLength: 256,
		},
		Pipeline: PipelineConfig{
			NumThreads: 4,
			NumFibers:  64,
		},
		Ring: RingConfig{
			DescriptorCountLog2: 16,
			PayloadBufLog2:      24,
			ContentType:         1,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a TOML config file, falling back to defaults
// for any field the file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

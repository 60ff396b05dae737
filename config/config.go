// Package config loads the storage core's construction parameters
// (spec.md §6: buffer pool size, B+tree leaf/internal max sizes, lock
// manager cycle-detection interval) the way KartikBazzad-bunbase/pkg/config
// does: spf13/viper populating a struct from environment variables under a
// prefix, so a caller isn't forced to hand-assemble every constructor's
// struct literal.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable construction parameter named in spec.md §6.
type Config struct {
	BufferPoolSize         int
	DiskWorkerPoolSize     int
	LeafMaxSize            int
	InternalMaxSize        int
	CycleDetectionInterval time.Duration
	EnableCycleDetection   bool
}

// Default returns the parameters used throughout this module's tests and
// examples.
func Default() Config {
	return Config{
		BufferPoolSize:         64,
		DiskWorkerPoolSize:     8,
		LeafMaxSize:            4,
		InternalMaxSize:        4,
		CycleDetectionInterval: 50 * time.Millisecond,
		EnableCycleDetection:   true,
	}
}

// Load overlays environment variables under prefix (e.g. "RIVERDB_") onto
// Default(). Unset variables leave the default in place.
func Load(prefix string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix(strings.TrimSuffix(strings.ToUpper(prefix), "_"))
	v.AutomaticEnv()

	if val := v.GetString("BUFFER_POOL_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return cfg, err
		}
		cfg.BufferPoolSize = n
	}
	if val := v.GetString("DISK_WORKER_POOL_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return cfg, err
		}
		cfg.DiskWorkerPoolSize = n
	}
	if val := v.GetString("LEAF_MAX_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return cfg, err
		}
		cfg.LeafMaxSize = n
	}
	if val := v.GetString("INTERNAL_MAX_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return cfg, err
		}
		cfg.InternalMaxSize = n
	}
	if val := v.GetString("CYCLE_DETECTION_INTERVAL_MS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return cfg, err
		}
		cfg.CycleDetectionInterval = time.Duration(n) * time.Millisecond
	}
	if val := v.GetString("ENABLE_CYCLE_DETECTION"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return cfg, err
		}
		cfg.EnableCycleDetection = b
	}

	return cfg, nil
}

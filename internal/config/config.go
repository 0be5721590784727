// Package config resolves the handful of ambient defaults the Session
// Runtime Core needs: queue idle TTL, the sessions/queues root directory,
// default permission policy, and event log rotation limits. Schema
// validation of the full acpx CLI's config surface stays out of scope per
// spec.md §1; this package only loads what the core consumes, via
// github.com/spf13/viper so a config file and ACPX_* environment
// variables both work without bespoke parsing.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Runtime holds the resolved values the Session Runtime Core needs.
type Runtime struct {
	// RootDir is "~/.acpx" by default: sessions/ and queues/ live under it.
	RootDir string

	// DefaultIdleTTL is the queue owner idle TTL used when a caller does
	// not specify one explicitly (spec.md §4.6 TTL normalization still
	// applies on top of this).
	DefaultIdleTTL time.Duration

	// DefaultPermissionMode and DefaultNonInteractivePermissionPolicy seed
	// the ACP client's permission resolution (spec.md §4.3.1) when a
	// caller doesn't override them.
	DefaultPermissionMode                  string
	DefaultNonInteractivePermissionPolicy string

	DefaultMaxSegmentBytes int64
	DefaultMaxSegments     int
}

// Load resolves a Runtime from (in ascending priority) built-in defaults,
// an optional config file, and ACPX_*-prefixed environment variables.
func Load(configFile string) (*Runtime, error) {
	v := viper.New()
	v.SetEnvPrefix("ACPX")
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(home, ".acpx")

	v.SetDefault("root_dir", defaultRoot)
	v.SetDefault("idle_ttl_ms", 300_000)
	v.SetDefault("permission_mode", "approve-reads")
	v.SetDefault("non_interactive_permission_policy", "deny")
	v.SetDefault("max_segment_bytes", 10*1024*1024)
	v.SetDefault("max_segments", 5)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultRoot)
		_ = v.ReadInConfig() // optional: absence is fine
	}

	return &Runtime{
		RootDir:                                v.GetString("root_dir"),
		DefaultIdleTTL:                          time.Duration(v.GetInt64("idle_ttl_ms")) * time.Millisecond,
		DefaultPermissionMode:                   v.GetString("permission_mode"),
		DefaultNonInteractivePermissionPolicy:    v.GetString("non_interactive_permission_policy"),
		DefaultMaxSegmentBytes:                  v.GetInt64("max_segment_bytes"),
		DefaultMaxSegments:                      v.GetInt("max_segments"),
	}, nil
}

// SessionsDir is "<root>/sessions".
func (r *Runtime) SessionsDir() string { return filepath.Join(r.RootDir, "sessions") }

// QueuesDir is "<root>/queues".
func (r *Runtime) QueuesDir() string { return filepath.Join(r.RootDir, "queues") }

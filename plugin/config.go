// Package plugin wires the certification pipeline, applier, recovery,
// broadcaster, and member registry into a single running component and
// exposes the CLI/config surface of spec.md section 6.
package plugin

import (
	"flag"
	"fmt"
	"time"
)

// PipelineType enumerates the pipeline flavor a node runs, per spec.md
// section 6's pipeline_type contract. Only STANDARD exists today.
type PipelineType int

const (
	PipelineStandard PipelineType = iota
)

func (p PipelineType) String() string {
	switch p {
	case PipelineStandard:
		return "STANDARD"
	default:
		return "UNKNOWN"
	}
}

// Config is the CLI/config surface of spec.md section 6, built the same
// three-method (SetFlags/FinishConfig/SetDefaults) shape as the
// teacher's ConfigTubeCmd in tubecmd.go.
type Config struct {
	GroupName string // 36-char uuid
	LocalUUID string
	Host      string
	Port      int

	StartOnBoot bool
	Pipeline    PipelineType
	GCSProtocol string // binding selection, e.g. "simnet"

	RecoveryUser     string
	RecoveryPassword string
	RecoveryRetryCount int // 0 == unlimited within the currently-available donor set

	ComponentsStopTimeout time.Duration // >= 2s

	BroadcastInterval time.Duration // stable-set broadcaster period
	Verbose           bool

	// SnapshotPath, if set, is where Start/Stop persist and reload the
	// certification database across restarts, sparing a rejoining node
	// a full donor catch-up when its own on-disk state is still fresh.
	SnapshotPath string
}

// SetFlags registers Config's fields on fs.
func (c *Config) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.GroupName, "group", "", "36-char group uuid")
	fs.StringVar(&c.LocalUUID, "uuid", "", "this node's member uuid")
	fs.StringVar(&c.Host, "host", "127.0.0.1", "address to advertise to the group")
	fs.IntVar(&c.Port, "port", 0, "port to advertise to the group")
	fs.BoolVar(&c.StartOnBoot, "start-on-boot", true, "join the group automatically on startup")
	fs.StringVar(&c.GCSProtocol, "gcs", "simnet", "group-communication binding to use")
	fs.StringVar(&c.RecoveryUser, "recovery-user", "", "donor connection username")
	fs.StringVar(&c.RecoveryPassword, "recovery-password", "", "donor connection password")
	fs.IntVar(&c.RecoveryRetryCount, "recovery-retry-count", 0, "max donor connection attempts (0 = unlimited)")
	fs.DurationVar(&c.ComponentsStopTimeout, "stop-timeout", 4*time.Second, "timeout for stopping components")
	fs.DurationVar(&c.BroadcastInterval, "broadcast-interval", 60*time.Second, "stable-set broadcast period")
	fs.BoolVar(&c.Verbose, "v", false, "verbose diagnostics logging to stdout")
	fs.StringVar(&c.SnapshotPath, "snapshot-path", "", "path to persist/reload the certification snapshot across restarts (disabled if empty)")
}

// FinishConfig validates field combinations after flags have been
// parsed, per spec.md section 6's named contracts.
func (c *Config) FinishConfig(fs *flag.FlagSet) error {
	if c.GroupName != "" && len(c.GroupName) != 36 {
		return Errorf(ErrConfigError, "group_name must be a 36-char uuid, got %q", c.GroupName)
	}
	if c.LocalUUID == "" {
		return Errorf(ErrConfigError, "uuid is required")
	}
	if c.ComponentsStopTimeout < 2*time.Second {
		return Errorf(ErrConfigError, "stop-timeout must be >= 2s, got %v", c.ComponentsStopTimeout)
	}
	if c.RecoveryRetryCount < 0 {
		return Errorf(ErrConfigError, "recovery-retry-count must be >= 0, got %d", c.RecoveryRetryCount)
	}
	return nil
}

// SetDefaults fills in any zero-valued field with its default, for
// callers that construct a Config without going through flag parsing.
func (c *Config) SetDefaults() {
	if c.GCSProtocol == "" {
		c.GCSProtocol = "simnet"
	}
	if c.ComponentsStopTimeout == 0 {
		c.ComponentsStopTimeout = 4 * time.Second
	}
	if c.BroadcastInterval == 0 {
		c.BroadcastInterval = 60 * time.Second
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
}

// String renders a short, human-readable summary, mirroring the
// teacher's ShortSexpString habit of a non-default-only config dump.
func (c *Config) String() string {
	return fmt.Sprintf("Config{group=%s uuid=%s gcs=%s pipeline=%s stop_timeout=%v}",
		c.GroupName, c.LocalUUID, c.GCSProtocol, c.Pipeline, c.ComponentsStopTimeout)
}

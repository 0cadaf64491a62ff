// Package constants holds well-known paths, DAG operation names, and default
// values shared across the controller.
package constants

import (
	"errors"
	"time"
)

// ErrAlreadyMounted is returned by mount helpers when the target is already
// mounted; callers treat it as success, not failure.
var ErrAlreadyMounted = errors.New("already mounted")

// Well-known runtime paths under /run used by the State Manager.
const (
	RunDir       = "/run/rugix"
	MountsDir    = RunDir + "/mounts"
	ConfigMount  = MountsDir + "/config"
	SystemMount  = MountsDir + "/system"
	DataMount    = MountsDir + "/data"
	StateDir     = RunDir + "/state"
	NewRootMount = RunDir + "/root"
	LockFile     = RunDir + "/ctrl.lock"
)

// Well-known configuration file paths.
const (
	SystemConfigPath        = "/etc/rugix/system.toml"
	StateConfigPath         = "/etc/rugix/state.toml"
	BootstrappingConfigPath = "/etc/rugix/bootstrapping.toml"
	PersistConfigDir        = "/etc/rugix/state"
	HooksDir                = "/etc/rugix/hooks"

	// BootstrapEnvPath is a minimal key=value file read before the config
	// partition is even mounted, the equivalent of the teacher's
	// cos-layout.env: it can only carry flags simple enough to make sense
	// ahead of any TOML config being available yet.
	BootstrapEnvPath = "/etc/rugix/bootstrap.env"
)

// Data-partition-relative layout.
const (
	OverlayDirName    = "overlay"
	StateDataDirName  = "state"
	DefaultProfile    = "default"
	ResetSentinelFile = "reset.request"
)

// Herd DAG operation names for the State Manager boot sequence (C6).
const (
	OpMountKernelFS   = "mount-kernel-fs"
	OpMountConfigPart = "mount-config-partition"
	OpDetectGroup     = "detect-active-group"
	OpMountSystem     = "mount-system-slot"
	OpMountData       = "mount-data-partition"
	OpAssembleOverlay = "assemble-overlay"
	OpPivotRoot       = "pivot-root"
	OpBindState       = "bind-state-dir"
	OpBindPersist     = "bind-persist-paths"
	OpWriteFstab      = "write-fstab"
	OpBootstrapHooks  = "bootstrap-hooks"
	OpResetHooks      = "state-reset-hooks"
	OpExecInit        = "exec-init"
)

// DefaultHookTimeout bounds every hook script's run (§5); hook stages have no
// timeout setting of their own.
const DefaultHookTimeout = 5 * time.Minute

// DefaultRemainingAttempts is the tri-state boot budget for a freshly
// installed group (§4.4), used by tryboot's emulated attempts counter.
const DefaultRemainingAttempts = 3

// InitBinary is where the real init system is expected to live once the
// assembled root has been pivoted into.
const InitBinary = "/sbin/init"

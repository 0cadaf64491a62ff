// Package hooks runs the operator-supplied scripts documented in the
// external interfaces: shell scripts under
// /etc/rugix/hooks/<operation>/<stage>/<rank>-<name>, invoked with the
// operation as $1 and the stage as $2.
package hooks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
)

// PostHoc reports whether a hook failure at this stage is best-effort
// (logged, not abortive) — the HookFailedPostCommit policy of §7.
type PostHoc bool

const (
	Abortive PostHoc = false
	BestEffort PostHoc = true
)

// Env carries the documented hook environment variables (§6).
type Env struct {
	ConfigDir    string
	DataDir      string
	ActiveGroup  string
	TargetGroup  string
}

func (e Env) toOSEnv() []string {
	env := os.Environ()
	env = append(env,
		"RUGIX_CONFIG_DIR="+e.ConfigDir,
		"RUGIX_DATA_DIR="+e.DataDir,
		"RUGIX_ACTIVE_GROUP="+e.ActiveGroup,
		"RUGIX_TARGET_GROUP="+e.TargetGroup,
	)
	return env
}

// Run executes every script registered for operation/stage, in rank order,
// each bounded by constants.DefaultHookTimeout. If postHoc is Abortive, the
// first nonzero exit aborts and returns a HookFailed error; if BestEffort,
// failures are logged and aggregated but do not stop later hooks or fail
// the overall operation (surfaced, if any occurred, as
// HookFailedPostCommit, per §7's exit-0 policy for that kind).
//
// Grounded on the teacher's State.RunStageOp, which likewise shells out to
// an external program per stage and logs its outcome, generalized from a
// single hardcoded `elemental run-stage` invocation to a directory of
// numbered scripts and from unconditional execution to timeout-bound,
// context-cancelable execution per script.
func Run(ctx context.Context, hooksDir, operation, stage string, env Env, postHoc PostHoc) error {
	scripts, err := listScripts(hooksDir, operation, stage)
	if err != nil {
		return err
	}

	var aggregate *multierror.Error
	for _, script := range scripts {
		if err := runOne(ctx, script, operation, stage, env); err != nil {
			if !postHoc {
				return ctrlerr.Wrap(ctrlerr.HookFailed, "hook "+script+" failed", err)
			}
			utils.Log.Warn().Err(err).Str("hook", script).Msg("post-commit hook failed, continuing")
			aggregate = multierror.Append(aggregate, fmt.Errorf("%s: %w", script, err))
		}
	}
	if aggregate != nil {
		return ctrlerr.Wrap(ctrlerr.HookFailedPostCommit, "one or more post-commit hooks failed", aggregate.ErrorOrNil())
	}
	return nil
}

func listScripts(hooksDir, operation, stage string) ([]string, error) {
	dir := filepath.Join(hooksDir, operation, stage)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.IoError, "listing hooks in "+dir, err)
	}
	var scripts []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		scripts = append(scripts, filepath.Join(dir, e.Name()))
	}
	sort.Strings(scripts) // rank order: filenames are "<rank>-<name>"
	return scripts, nil
}

func runOne(ctx context.Context, script, operation, stage string, env Env) error {
	runCtx, cancel := context.WithTimeout(ctx, constants.DefaultHookTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, script, operation, stage)
	cmd.Env = env.toOSEnv()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return err
	}
	return nil
}

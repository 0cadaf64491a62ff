package bootflow

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// Custom implements the custom variant (§4.4): an external program invoked
// as `<command> <operation>`, fed operation-specific arguments as JSON on
// stdin, expected to print a JSON result on stdout and exit non-zero on
// failure. Unknown operation names are the program's own responsibility to
// ignore (print to stderr, exit 0) for forward compatibility; Custom always
// invokes the program and only interprets its exit code and stdout.
//
// Modeled on the cancelable-external-process pattern used for hook
// execution (pkg/hooks), since a custom boot flow is, structurally, just
// another documented subprocess contract.
type Custom struct {
	BaseFlow
	command string
}

func NewCustom(command string) *Custom {
	return &Custom{command: command}
}

func (c *Custom) Kind() string { return "custom" }

type customRequest struct {
	Group string `json:"group,omitempty"`
}

func (c *Custom) invoke(ctx context.Context, op string, req any, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return ctrlerr.Wrap(ctrlerr.BootFlowState, "encoding custom boot flow request", err)
	}

	cmd := exec.CommandContext(ctx, c.command, op)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ctrlerr.Wrap(ctrlerr.BootFlowState, "custom boot flow "+op+" failed: "+stderr.String(), err)
	}
	if out == nil || stdout.Len() == 0 {
		return nil
	}
	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return ctrlerr.Wrap(ctrlerr.BootFlowState, "decoding custom boot flow "+op+" response", err)
	}
	return nil
}

func (c *Custom) GetDefault() (string, error) {
	var res struct {
		Group string `json:"group"`
	}
	if err := c.invoke(context.Background(), "get_default", customRequest{}, &res); err != nil {
		return "", err
	}
	return res.Group, nil
}

func (c *Custom) SetTryNext(group string) error {
	return c.invoke(context.Background(), "set_try_next", customRequest{Group: group}, nil)
}

func (c *Custom) Commit(group string) error {
	return c.invoke(context.Background(), "commit", customRequest{Group: group}, nil)
}

func (c *Custom) PreInstall(group string) error {
	return c.invoke(context.Background(), "pre_install", customRequest{Group: group}, nil)
}

func (c *Custom) PostInstall(group string) error {
	return c.invoke(context.Background(), "post_install", customRequest{Group: group}, nil)
}

func (c *Custom) RemainingAttempts(group string) (int, bool, error) {
	var res struct {
		Attempts *int `json:"attempts"`
	}
	if err := c.invoke(context.Background(), "remaining_attempts", customRequest{Group: group}, &res); err != nil {
		return 0, false, err
	}
	if res.Attempts == nil {
		return 0, false, nil
	}
	return *res.Attempts, true, nil
}

func (c *Custom) GetStatus(group string) (Status, error) {
	var res struct {
		Status string `json:"status"`
	}
	if err := c.invoke(context.Background(), "get_status", customRequest{Group: group}, &res); err != nil {
		return StatusUnknown, err
	}
	switch res.Status {
	case "good":
		return StatusGood, nil
	case "bad":
		return StatusBad, nil
	default:
		return StatusUnknown, nil
	}
}

func (c *Custom) MarkGood(group string) error {
	return c.invoke(context.Background(), "mark_good", customRequest{Group: group}, nil)
}

func (c *Custom) MarkBad(group string) error {
	return c.invoke(context.Background(), "mark_bad", customRequest{Group: group}, nil)
}

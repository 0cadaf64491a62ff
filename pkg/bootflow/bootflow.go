// Package bootflow implements the Boot Flow Driver (C4): the per-bootloader
// state machine that decides which boot group the bootloader will attempt
// next, and records which group is the durable default.
package bootflow

import "github.com/rugix/rugix-ctrl-go/internal/ctrlerr"

// Status is a boot group's slot status (§3 Slot Status).
type Status int

const (
	StatusUnknown Status = iota
	StatusGood
	StatusBad
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusBad:
		return "bad"
	default:
		return "unknown"
	}
}

// Flow is the common capability set every boot flow variant implements
// (§4.4). The three required methods are always meaningful; the six
// optional ones default to no-ops/"unsupported" via BaseFlow and are
// overridden by variants that support them.
type Flow interface {
	// Kind names the variant, e.g. "tryboot", "u-boot", "grub-efi", "custom".
	Kind() string

	// SetTryNext arranges for the next boot to attempt group, falling back
	// to the current default if that boot does not complete.
	SetTryNext(group string) error

	// GetDefault returns the group the bootloader boots absent other
	// direction.
	GetDefault() (string, error)

	// Commit makes group the new default, failing with NotActive if group
	// is not the currently booted group.
	Commit(group string) error

	// PreInstall/PostInstall run immediately before/after an installer
	// writes to group's slots (§5 steps 3 and 5).
	PreInstall(group string) error
	PostInstall(group string) error

	// RemainingAttempts reports the boot-attempt budget left for group; ok
	// is false when the variant has no notion of a bounded attempt count.
	RemainingAttempts(group string) (attempts int, ok bool, err error)

	// GetStatus reports group's current slot status.
	GetStatus(group string) (Status, error)

	// MarkGood resets group's remaining-attempts budget and clears its bad
	// status (§3 lifecycle).
	MarkGood(group string) error

	// MarkBad marks group bad (§3 lifecycle) in variants that track slot
	// status, so GetStatus then reports StatusBad; BaseFlow's default does
	// nothing.
	MarkBad(group string) error
}

// BaseFlow provides default implementations of the optional Flow methods
// for variants that do not need them, mirroring the original boot-flow
// trait's split between required and optional capabilities.
type BaseFlow struct{}

func (BaseFlow) PreInstall(string) error  { return nil }
func (BaseFlow) PostInstall(string) error { return nil }

func (BaseFlow) RemainingAttempts(string) (int, bool, error) { return 0, false, nil }

func (BaseFlow) GetStatus(string) (Status, error) { return StatusUnknown, nil }

func (BaseFlow) MarkGood(string) error { return nil }
func (BaseFlow) MarkBad(string) error  { return nil }

// unsupported is a convenience for variants that want an optional method to
// fail loudly instead of silently no-op-ing.
func unsupported(op string) error {
	return ctrlerr.New(ctrlerr.BootFlowState, op+" is not supported by this boot flow")
}

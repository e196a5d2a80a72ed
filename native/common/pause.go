package common

import "errors"

var ErrFlowPaused = errors.New("ledger flow paused")

// Flow identifiers guarded by the pause view.
const (
	FlowTake   = "credit.take"
	FlowRepay  = "credit.repay"
	FlowFreeze = "credit.freeze"
	FlowRevoke = "credit.revoke"
)

// PauseView reports whether a named ledger flow is administratively halted.
type PauseView interface {
	IsPaused(flow string) bool
}

// Guard rejects the operation when the flow is paused. A nil view or empty flow
// disables the check.
func Guard(p PauseView, flow string) error {
	if p == nil || flow == "" {
		return nil
	}
	if p.IsPaused(flow) {
		return ErrFlowPaused
	}
	return nil
}

// StaticPauses is a fixed PauseView backed by per-flow switches, suitable for
// configuration-driven deployments.
type StaticPauses struct {
	Take   bool
	Repay  bool
	Freeze bool
	Revoke bool
}

// IsPaused implements the PauseView interface.
func (s StaticPauses) IsPaused(flow string) bool {
	switch flow {
	case FlowTake:
		return s.Take
	case FlowRepay:
		return s.Repay
	case FlowFreeze:
		return s.Freeze
	case FlowRevoke:
		return s.Revoke
	default:
		return false
	}
}

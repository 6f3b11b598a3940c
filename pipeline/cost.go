// Package pipeline implements the generation pipelines.
//
// cost.go computes the credit cost of each operation from the pricing
// table. Costs are computed before any charged work starts so the
// dispatcher can run its sufficiency check and confirmation flow.
package pipeline

import (
	"fmt"

	"remix_backend/core"
)

// SingleCost returns the flat cost of a single-subject remix run.
func SingleCost(p core.Pricing) int64 {
	return p.SingleRemixCost
}

// GroupCost returns the cost of a group remix run: a base fee, one remix
// fee per subject when a foreground prompt is present (without one, no
// per-subject remixing happens and none is charged), plus the background
// and composite fees.
func GroupCost(p core.Pricing, subjectCount int, hasForegroundPrompt bool) int64 {
	cost := p.GroupBaseCost + p.BackgroundCost + p.CompositeCost
	if hasForegroundPrompt {
		cost += int64(subjectCount) * p.PerSubjectCost
	}
	return cost
}

// StepCost returns the cost of an individual advanced-mode step.
func StepCost(p core.Pricing, op core.OperationType) (int64, error) {
	switch op {
	case core.OpStepRemix:
		return p.StepRemixCost, nil
	case core.OpStepBackground:
		return p.StepBackgroundCost, nil
	case core.OpStepComposite:
		return p.StepCompositeCost, nil
	default:
		return 0, fmt.Errorf("pipeline: %q is not a step operation", op)
	}
}

package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pricing is the credit price table for all cost-bearing actions.
// All amounts are whole credits; the ledger uses integer arithmetic only.
type Pricing struct {
	// SingleRemixCost is the fixed cost of a one-subject remix run
	SingleRemixCost int64 `yaml:"single_remix"`
	// GroupBaseCost is the flat component of a group run
	GroupBaseCost int64 `yaml:"group_base"`
	// PerSubjectCost is charged per detected subject, only when a
	// foreground prompt is present
	PerSubjectCost int64 `yaml:"per_subject"`
	// BackgroundCost is the background-generation component
	BackgroundCost int64 `yaml:"background"`
	// CompositeCost is the compositing component
	CompositeCost int64 `yaml:"composite"`
	// StepRemixCost is the fixed cost of the advanced remix step
	StepRemixCost int64 `yaml:"step_remix"`
	// StepBackgroundCost is the fixed cost of the advanced background step
	StepBackgroundCost int64 `yaml:"step_background"`
	// StepCompositeCost is the fixed cost of the advanced composite step
	StepCompositeCost int64 `yaml:"step_composite"`
}

// DefaultPricing returns the built-in price table.
func DefaultPricing() Pricing {
	return Pricing{
		SingleRemixCost:    10,
		GroupBaseCost:      5,
		PerSubjectCost:     5,
		BackgroundCost:     5,
		CompositeCost:      5,
		StepRemixCost:      5,
		StepBackgroundCost: 5,
		StepCompositeCost:  5,
	}
}

// Validate checks that every price is non-negative and that at least the
// single-remix cost is positive (a zero-cost remix would make the ledger
// pairing guarantees untestable in production).
func (p Pricing) Validate() error {
	prices := map[string]int64{
		"single_remix":    p.SingleRemixCost,
		"group_base":      p.GroupBaseCost,
		"per_subject":     p.PerSubjectCost,
		"background":      p.BackgroundCost,
		"composite":       p.CompositeCost,
		"step_remix":      p.StepRemixCost,
		"step_background": p.StepBackgroundCost,
		"step_composite":  p.StepCompositeCost,
	}
	for name, v := range prices {
		if v < 0 {
			return fmt.Errorf("core: price %s must be non-negative, got %d", name, v)
		}
	}
	if p.SingleRemixCost == 0 {
		return fmt.Errorf("core: price single_remix must be positive")
	}
	return nil
}

// LoadPricing reads a price table from a YAML file. Fields missing from the
// file keep their default values.
//
// Example pricing.yaml:
//
//	single_remix: 10
//	group_base: 5
//	per_subject: 5
//	background: 5
//	composite: 5
func LoadPricing(path string) (Pricing, error) {
	pricing := DefaultPricing()

	data, err := os.ReadFile(path)
	if err != nil {
		return pricing, fmt.Errorf("core: failed to read pricing file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &pricing); err != nil {
		return pricing, fmt.Errorf("core: failed to parse pricing file %s: %w", path, err)
	}

	if err := pricing.Validate(); err != nil {
		return pricing, err
	}
	return pricing, nil
}

// Package policy evaluates whether cancelling (or rescheduling with short
// notice) an appointment is permitted and which fee tier applies. The same
// evaluation backs both the cancel operation and fee-charged reschedules.
package policy

import (
	"sort"
	"time"
)

// FeeTier charges FeePercent of the appointment price when the remaining
// notice is below ThresholdHours.
type FeeTier struct {
	ThresholdHours int
	FeePercent     int
}

// Policy is business-owned configuration, read-only to the engine.
type Policy struct {
	AllowCancellation bool
	// WindowHours, when positive, refuses cancellation outright once the
	// remaining notice drops below it.
	WindowHours int
	Tiers       []FeeTier
}

// Default returns the tiers conventional in this domain: under 2 hours the
// full price is charged, under 24 hours half, otherwise free.
func Default() Policy {
	return Policy{
		AllowCancellation: true,
		Tiers: []FeeTier{
			{ThresholdHours: 2, FeePercent: 100},
			{ThresholdHours: 24, FeePercent: 50},
		},
	}
}

type Evaluation struct {
	Permitted  bool
	FeePercent int
	Reason     string
}

// Evaluate computes the cancellation outcome for an appointment starting at
// scheduledStart, as seen at now. Tiers are scanned from the strictest
// (lowest) threshold upward; the first tier whose threshold exceeds the
// remaining notice wins.
func Evaluate(p Policy, scheduledStart, now time.Time) Evaluation {
	if !p.AllowCancellation {
		return Evaluation{Permitted: false, Reason: "cancellation disabled for this business"}
	}

	hoursRemaining := scheduledStart.Sub(now).Hours()
	if p.WindowHours > 0 && hoursRemaining < float64(p.WindowHours) {
		return Evaluation{Permitted: false, Reason: "inside the cancellation window"}
	}

	tiers := make([]FeeTier, len(p.Tiers))
	copy(tiers, p.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].ThresholdHours < tiers[j].ThresholdHours })

	for _, tier := range tiers {
		if hoursRemaining < float64(tier.ThresholdHours) {
			return Evaluation{Permitted: true, FeePercent: tier.FeePercent}
		}
	}
	return Evaluation{Permitted: true, FeePercent: 0}
}

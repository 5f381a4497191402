// Package portfolio rolls campaign-level momentum up to the portfolio and
// shifts capital between campaigns within a bounded step.
package portfolio

import (
	"math"
	"sort"

	"github.com/sells-group/strategy-cli/internal/canonical"
)

const (
	// Version tags every portfolio payload.
	Version = "v1"
	// DefaultMaxShift bounds how far one allocation may move per run.
	DefaultMaxShift = 0.2

	precision = 6
)

func round6(v float64) float64 {
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}

// CampaignInput is one campaign's current share and opportunity.
type CampaignInput struct {
	CampaignID        string  `json:"campaign_id"`
	CurrentAllocation float64 `json:"current_allocation"`
	OpportunityScore  float64 `json:"opportunity_score"`
}

// Allocation is one campaign's new share and the change from its current
// normalized share.
type Allocation struct {
	CampaignID string  `json:"campaign_id"`
	Allocation float64 `json:"allocation"`
	Delta      float64 `json:"delta"`
}

// AllocationResult is the allocator output. Hash covers every other field.
type AllocationResult struct {
	Version       string       `json:"version"`
	MaxShift      float64      `json:"max_shift"`
	CampaignCount int          `json:"campaign_count"`
	Allocations   []Allocation `json:"allocations"`
	AllocationSum float64      `json:"allocation_sum"`
	Hash          string       `json:"hash"`
}

func (r AllocationResult) payload() canonical.Value {
	rows := make([]canonical.Value, len(r.Allocations))
	for i, a := range r.Allocations {
		rows[i] = canonical.Map(map[string]canonical.Value{
			"campaign_id": canonical.String(a.CampaignID),
			"allocation":  canonical.Float(a.Allocation),
			"delta":       canonical.Float(a.Delta),
		})
	}
	return canonical.Map(map[string]canonical.Value{
		"version":        canonical.String(r.Version),
		"max_shift":      canonical.Float(r.MaxShift),
		"campaign_count": canonical.Int(int64(r.CampaignCount)),
		"allocations":    canonical.List(rows...),
		"allocation_sum": canonical.Float(r.AllocationSum),
	})
}

// CanonicalValue implements canonical.Valuer and includes the hash.
func (r AllocationResult) CanonicalValue() (canonical.Value, error) {
	return withHash(r.payload(), r.Hash), nil
}

func withHash(payload canonical.Value, hash string) canonical.Value {
	m := make(map[string]canonical.Value, len(payload.Keys())+1)
	for _, k := range payload.Keys() {
		m[k], _ = payload.Field(k)
	}
	m["hash"] = canonical.String(hash)
	return canonical.Map(m)
}

func hashOf(payload canonical.Value) string {
	return canonical.SHA256Hex(canonical.Encode(payload))
}

// normalize scales values to sum to 1. When they sum to zero it returns an
// equal share if fallbackEqual is set, or zeros otherwise.
func normalize(values []float64, fallbackEqual bool) []float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	out := make([]float64, len(values))
	if total > 0 {
		for i, v := range values {
			out[i] = v / total
		}
		return out
	}
	if fallbackEqual && len(values) > 0 {
		share := 1 / float64(len(values))
		for i := range out {
			out[i] = share
		}
	}
	return out
}

// Allocate moves each campaign's normalized current allocation toward its
// normalized opportunity score by at most maxShift, renormalizes, rounds to
// six places and assigns the rounding remainder to the last campaign so the
// allocations sum to exactly 1. Inputs are processed in campaign id order,
// then current allocation, then opportunity score, so the result and its
// hash do not depend on input order even when ids repeat.
func Allocate(inputs []CampaignInput, maxShift float64) AllocationResult {
	shift := math.Max(0, math.Min(maxShift, 1))
	ordered := append([]CampaignInput(nil), inputs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.CampaignID != b.CampaignID {
			return a.CampaignID < b.CampaignID
		}
		if a.CurrentAllocation != b.CurrentAllocation {
			return a.CurrentAllocation < b.CurrentAllocation
		}
		return a.OpportunityScore < b.OpportunityScore
	})

	res := AllocationResult{
		Version:       Version,
		MaxShift:      round6(shift),
		CampaignCount: len(ordered),
		Allocations:   []Allocation{},
	}
	if len(ordered) == 0 {
		res.Hash = hashOf(res.payload())
		return res
	}

	current := make([]float64, len(ordered))
	opportunity := make([]float64, len(ordered))
	for i, in := range ordered {
		current[i] = math.Max(in.CurrentAllocation, 0)
		opportunity[i] = math.Max(in.OpportunityScore, 0)
	}
	base := normalize(current, true)
	target := normalize(opportunity, false)
	var targetSum float64
	for _, t := range target {
		targetSum += t
	}
	if targetSum <= 0 {
		target = base
	}

	bounded := make([]float64, len(ordered))
	for i := range ordered {
		delta := math.Max(-shift, math.Min(shift, target[i]-base[i]))
		bounded[i] = math.Max(0, base[i]+delta)
	}

	final := normalize(bounded, true)
	var sum float64
	for i := range final {
		final[i] = round6(final[i])
		sum += final[i]
	}
	last := len(final) - 1
	final[last] = round6(final[last] + round6(1-sum))

	var total float64
	for i, in := range ordered {
		res.Allocations = append(res.Allocations, Allocation{
			CampaignID: in.CampaignID,
			Allocation: final[i],
			Delta:      round6(final[i] - round6(base[i])),
		})
		total += final[i]
	}
	res.AllocationSum = round6(total)
	res.Hash = hashOf(res.payload())
	return res
}

package portfolio

import (
	"math"
	"sort"

	"github.com/sells-group/strategy-cli/internal/canonical"
)

// DriftThreshold is the share of campaigns with negative momentum at which
// the portfolio is considered to be drifting as a whole.
const DriftThreshold = 0.6

// CampaignMomentum is one campaign's momentum and traffic weight.
type CampaignMomentum struct {
	CampaignID       string  `json:"campaign_id"`
	MomentumScore    float64 `json:"momentum_score"`
	OpportunityScore float64 `json:"opportunity_score"`
	TrafficWeight    float64 `json:"traffic_weight"`
}

// MomentumResult is the portfolio momentum roll-up.
type MomentumResult struct {
	Version           string  `json:"version"`
	PortfolioMomentum float64 `json:"portfolio_momentum"`
	CampaignCount     int     `json:"campaign_count"`
	Hash              string  `json:"hash"`
}

func (r MomentumResult) payload() canonical.Value {
	return canonical.Map(map[string]canonical.Value{
		"version":            canonical.String(r.Version),
		"portfolio_momentum": canonical.Float(r.PortfolioMomentum),
		"campaign_count":     canonical.Int(int64(r.CampaignCount)),
	})
}

// CanonicalValue implements canonical.Valuer and includes the hash.
func (r MomentumResult) CanonicalValue() (canonical.Value, error) {
	return withHash(r.payload(), r.Hash), nil
}

// WeightedMomentum is the traffic-weighted average of campaign momentum.
// Negative weights count as zero; with no weight the result is 0.
func WeightedMomentum(metrics []CampaignMomentum) MomentumResult {
	ordered := append([]CampaignMomentum(nil), metrics...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CampaignID < ordered[j].CampaignID })

	var weighted, total float64
	for _, m := range ordered {
		w := math.Max(m.TrafficWeight, 0)
		weighted += round6(m.MomentumScore) * w
		total += w
	}
	res := MomentumResult{Version: Version, CampaignCount: len(metrics)}
	if total > 0 {
		res.PortfolioMomentum = round6(weighted / total)
	}
	res.Hash = hashOf(res.payload())
	return res
}

// DriftResult reports how many campaigns are losing momentum at once.
type DriftResult struct {
	NegativeRatio float64 `json:"negative_ratio"`
	Detected      bool    `json:"systemic_drift_detected"`
}

// DetectSystemicDrift flags the portfolio when at least DriftThreshold of
// campaigns have negative momentum.
func DetectSystemicDrift(values []float64) DriftResult {
	if len(values) == 0 {
		return DriftResult{}
	}
	negatives := 0
	for _, v := range values {
		if v < 0 {
			negatives++
		}
	}
	ratio := float64(negatives) / float64(len(values))
	return DriftResult{NegativeRatio: round6(ratio), Detected: ratio >= DriftThreshold}
}

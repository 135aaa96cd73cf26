package engine

import (
	"sort"

	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
)

// SkuAnalysis is the per-SKU working record of one run: deterministic metrics
// first, then the selector's verdict, then whichever justification was
// produced.
type SkuAnalysis struct {
	Product  *models.Product
	Metrics  MetricsBundle
	Previous *models.Recommendation

	Impact         decimal.Decimal
	AllowReasoning bool

	Reasoning       *ReasoningResult
	ReasoningStatus models.ReasoningStatus
}

// ReasoningSelector gates the expensive AI calls: only SKUs whose situation
// meaningfully changed are candidates, and only the highest-impact slice up to
// the cap is sent out. Everything else still gets a template justification.
type ReasoningSelector struct {
	Cap int
}

// Select computes financial impact for every analysis, then marks the top
// candidates (by descending impact) as allowed to use AI reasoning. The input
// slice keeps its order; only Impact and AllowReasoning are written.
func (s ReasoningSelector) Select(items []*SkuAnalysis) {
	for _, item := range items {
		item.Impact = financialImpact(item)
		item.AllowReasoning = false
	}

	var candidates []*SkuAnalysis
	for _, item := range items {
		if s.isCandidate(item) {
			candidates = append(candidates, item)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Impact.GreaterThan(candidates[j].Impact)
	})

	limit := s.Cap
	if limit <= 0 {
		limit = 50
	}
	for i, item := range candidates {
		if i >= limit {
			break
		}
		item.AllowReasoning = true
	}
}

// isCandidate decides whether anything about this SKU changed enough to be
// worth a fresh explanation.
func (s ReasoningSelector) isCandidate(item *SkuAnalysis) bool {
	m := item.Metrics
	if m.Action == models.ActionTypeMonitor {
		return false
	}
	prev := item.Previous
	if prev == nil {
		return true
	}
	if utils.DereferencePtr(item.Product.ForceReanalysis) {
		return true
	}
	if prev.Action != m.Action {
		return true
	}
	if int(prev.DaysOfCover) != int(m.DaysOfCover) {
		return true
	}
	prevBelowSafety := prev.CurrentQty.InexactFloat64() < prev.SafetyStock
	if prevBelowSafety != m.BelowSafetyStock {
		return true
	}
	// Retry policy: a fallback justification is provisional, try again.
	if prev.ReasoningStatus == models.ReasoningStatusFallbackUsed {
		return true
	}
	return false
}

// financialImpact ranks candidates: revenue at risk for restocks, capital
// tied up for overstocks.
func financialImpact(item *SkuAnalysis) decimal.Decimal {
	m := item.Metrics
	p := item.Product
	switch m.Action {
	case models.ActionTypeBuyMore:
		margin := p.SellingPrice.Sub(p.CostPrice)
		return decimal.NewFromFloat(m.WeightedAds).Mul(margin)
	case models.ActionTypeBuyLess:
		return p.CurrentQty.Mul(p.CostPrice)
	default:
		return decimal.Zero
	}
}

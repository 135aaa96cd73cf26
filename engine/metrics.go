package engine

import (
	"math"
	"time"

	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/shopspring/decimal"
)

// SalesWindowDays is the bounded history window read per SKU.
const SalesWindowDays = 35

// DaysOfCoverSentinel stands in for "effectively infinite cover" when a SKU has
// stock but zero demand.
const DaysOfCoverSentinel = 9999.0

// SkuState is the engine's read-only view of one SKU at analysis time.
type SkuState struct {
	Product *models.Product
	Sales   []models.DailySale
	AsOf    time.Time
}

// MetricsBundle is recomputed every run and never persisted as its own entity;
// its fields are copied onto a Recommendation when one is written. The action
// and quantity here are a pure deterministic function of stock + sales history.
// External reasoning only ever adds text on top.
type MetricsBundle struct {
	ProductId int

	Ads7        float64
	Ads14       float64
	Ads30       float64
	WeightedAds float64
	Confidence  models.ConfidenceTier

	Sigma            float64
	CV               float64
	ProtectionWindow int
	ServiceZ         float64

	OnHand      float64
	SafetyStock float64
	TargetStock float64
	// ReorderPoint is display-only. It is always weighted ADS x protection
	// window; nothing downstream may branch on it.
	ReorderPoint float64
	DaysOfCover  float64
	Dormant      bool

	BelowSafetyStock bool

	Action         models.ActionType
	RecommendedQty int
	Urgent         bool

	PotentialLostRevenue decimal.Decimal
}

// CalculateMetrics derives the full metrics bundle for one SKU. Pure: no I/O,
// no clock reads (AsOf comes from the caller), identical input gives identical
// output. Empty or sparse history is valid input and means zero demand.
func CalculateMetrics(sku SkuState, params config.EngineParams) MetricsBundle {
	product := sku.Product
	asOf := dateOnly(sku.AsOf)
	onHand := product.CurrentQty.InexactFloat64()

	daily := dailyQuantities(sku.Sales, asOf)

	bundle := MetricsBundle{
		ProductId: product.ID,
		Ads7:      windowAverage(daily, 7),
		Ads14:     windowAverage(daily, 14),
		Ads30:     windowAverage(daily, 30),
		OnHand:    onHand,
	}

	bundle.Confidence = confidenceTier(sku.Sales, asOf)
	bundle.WeightedAds = weightedAds(bundle.Ads7, bundle.Ads14, bundle.Ads30, bundle.Confidence)

	bundle.Sigma = stdDev(daily, 30)
	if bundle.WeightedAds > 0 {
		bundle.CV = bundle.Sigma / bundle.WeightedAds
	}
	bundle.ProtectionWindow = protectionWindow(bundle.CV)
	bundle.ServiceZ = serviceLevelZ(bundle.WeightedAds, params)

	pw := float64(bundle.ProtectionWindow)
	bundle.TargetStock = bundle.WeightedAds * pw
	bundle.ReorderPoint = bundle.WeightedAds * pw
	bundle.SafetyStock = math.Max(bundle.ServiceZ*bundle.Sigma,
		math.Max(bundle.WeightedAds*pw, 0.5*bundle.WeightedAds))

	switch {
	case bundle.WeightedAds > 0:
		bundle.DaysOfCover = onHand / bundle.WeightedAds
	case onHand > 0:
		bundle.DaysOfCover = DaysOfCoverSentinel
	default:
		bundle.Dormant = true
	}

	bundle.BelowSafetyStock = onHand < bundle.SafetyStock

	decideAction(&bundle, product)

	return bundle
}

// decideAction applies the frozen bucket precedence. Uncertainty (Low
// confidence) may never trigger liquidation, only availability.
func decideAction(b *MetricsBundle, product *models.Product) {
	pw := float64(b.ProtectionWindow)

	switch {
	case b.OnHand <= 0 && b.WeightedAds <= 0:
		b.Action = models.ActionTypeMonitor

	case b.DaysOfCover < pw || b.OnHand < b.SafetyStock:
		b.Action = models.ActionTypeBuyMore
		b.Urgent = b.DaysOfCover < 1
		b.RecommendedQty = reorderQty(b.TargetStock, b.OnHand, product.MinOrderQty, product.CasePackSize)
		if b.Urgent {
			margin := product.SellingPrice.Sub(product.CostPrice)
			b.PotentialLostRevenue = decimal.NewFromFloat(b.WeightedAds).Mul(margin)
		}

	case b.DaysOfCover > 3*pw && b.Confidence != models.ConfidenceTierLow:
		// Liquidation is a signal, not an auto-order: quantity stays zero.
		b.Action = models.ActionTypeBuyLess

	default:
		b.Action = models.ActionTypeMonitor
	}
}

// reorderQty rounds the shortfall up to whole case packs, respecting the
// minimum order quantity.
func reorderQty(targetStock, onHand float64, minOrderQty, casePackSize int) int {
	need := math.Max(targetStock-onHand, float64(minOrderQty))
	if need <= 0 {
		return 0
	}
	caseSize := casePackSize
	if caseSize < 1 {
		caseSize = 1
	}
	cases := math.Ceil(need / float64(caseSize))
	return int(cases) * caseSize
}

// confidenceTier looks at the span of history actually present, not the window
// size: a SKU first sold 5 days ago has 5 days of history even if the query
// window is 35 days wide.
func confidenceTier(sales []models.DailySale, asOf time.Time) models.ConfidenceTier {
	if len(sales) == 0 {
		return models.ConfidenceTierLow
	}
	earliest := dateOnly(sales[0].SaleDate)
	for _, s := range sales[1:] {
		d := dateOnly(s.SaleDate)
		if d.Before(earliest) {
			earliest = d
		}
	}
	span := int(asOf.Sub(earliest).Hours()/24) + 1
	switch {
	case span >= 15:
		return models.ConfidenceTierHigh
	case span >= 7:
		return models.ConfidenceTierMedium
	default:
		return models.ConfidenceTierLow
	}
}

// weightedAds blends the window averages, renormalized so an absent window is
// excluded rather than silently treated as zero demand.
func weightedAds(ads7, ads14, ads30 float64, tier models.ConfidenceTier) float64 {
	switch tier {
	case models.ConfidenceTierHigh:
		return 0.5*ads7 + 0.3*ads14 + 0.2*ads30
	case models.ConfidenceTierMedium:
		// 0.5/0.3 renormalized without the unreliable 30-day term.
		return 0.625*ads7 + 0.375*ads14
	default:
		return ads7
	}
}

// protectionWindow maps volatility to target days of coverage. Deliberately a
// step function so small CV movements don't jitter the window.
func protectionWindow(cv float64) int {
	switch {
	case cv <= 0.30:
		return 3
	case cv <= 0.70:
		return 5
	default:
		return 7
	}
}

func serviceLevelZ(weightedAds float64, params config.EngineParams) float64 {
	switch {
	case weightedAds > params.HighImportanceADS:
		return params.ZHigh
	case weightedAds < params.LowImportanceADS:
		return params.ZLow
	default:
		return params.ZMid
	}
}

// dailyQuantities zero-fills the trailing window: index 0 is asOf itself,
// index 1 the day before, and so on.
func dailyQuantities(sales []models.DailySale, asOf time.Time) []float64 {
	daily := make([]float64, SalesWindowDays)
	for _, s := range sales {
		age := int(asOf.Sub(dateOnly(s.SaleDate)).Hours() / 24)
		if age < 0 || age >= SalesWindowDays {
			continue
		}
		daily[age] += s.Qty.InexactFloat64()
	}
	return daily
}

func windowAverage(daily []float64, days int) float64 {
	if days <= 0 || days > len(daily) {
		return 0
	}
	var sum float64
	for i := 0; i < days; i++ {
		sum += daily[i]
	}
	return sum / float64(days)
}

func stdDev(daily []float64, days int) float64 {
	if days <= 0 || days > len(daily) {
		return 0
	}
	mean := windowAverage(daily, days)
	var sumSq float64
	for i := 0; i < days; i++ {
		diff := daily[i] - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(days))
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

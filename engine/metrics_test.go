package engine

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. CalculateMetrics is a pure
// function of (product, sales window, asOf), so every decision boundary can be
// pinned down without MySQL.

var testAsOf = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

func testParams() config.EngineParams {
	return config.EngineParams{
		ReasoningCap:      50,
		OutcomeCheckLimit: 7,
		HighImportanceADS: 10,
		LowImportanceADS:  1,
		ZHigh:             1.65,
		ZMid:              1.28,
		ZLow:              0.84,
	}
}

func testProduct(onHand string) *models.Product {
	qty, err := decimal.NewFromString(onHand)
	if err != nil {
		panic(err)
	}
	return &models.Product{
		ID:           1,
		StoreId:      "store-1",
		Sku:          "COF-3IN1",
		Name:         "Instant Coffee 3-in-1",
		Category:     "Beverages",
		SellingPrice: decimal.NewFromInt(1500),
		CostPrice:    decimal.NewFromInt(1000),
		CasePackSize: 1,
		CurrentQty:   qty,
	}
}

// constantSales builds `days` daily rows ending at testAsOf, perDay units each.
func constantSales(days int, perDay int64) []models.DailySale {
	sales := make([]models.DailySale, 0, days)
	for i := days - 1; i >= 0; i-- {
		sales = append(sales, models.DailySale{
			StoreId:   "store-1",
			ProductId: 1,
			SaleDate:  testAsOf.AddDate(0, 0, -i),
			Qty:       decimal.NewFromInt(perDay),
		})
	}
	return sales
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCalculateMetrics_SteadyDemandOverstock(t *testing.T) {
	// 30 days at 2/day, 20 on hand: 10 days of cover against a 3-day window.
	sku := SkuState{Product: testProduct("20"), Sales: constantSales(30, 2), AsOf: testAsOf}
	m := CalculateMetrics(sku, testParams())

	if !almostEqual(m.WeightedAds, 2) {
		t.Fatalf("weighted ADS = %v, want 2", m.WeightedAds)
	}
	if !almostEqual(m.Sigma, 0) {
		t.Fatalf("sigma = %v, want 0 for constant demand", m.Sigma)
	}
	if m.ProtectionWindow != 3 {
		t.Fatalf("protection window = %d, want 3", m.ProtectionWindow)
	}
	if m.Confidence != models.ConfidenceTierHigh {
		t.Fatalf("confidence = %s, want High", m.Confidence)
	}
	if !almostEqual(m.DaysOfCover, 10) {
		t.Fatalf("days of cover = %v, want 10", m.DaysOfCover)
	}
	if m.Action != models.ActionTypeBuyLess {
		t.Fatalf("action = %s, want BuyLess (10 days > 3x window)", m.Action)
	}
	if m.RecommendedQty != 0 {
		t.Fatalf("BuyLess must never carry an order quantity, got %d", m.RecommendedQty)
	}
	if m.Urgent {
		t.Fatal("BuyLess must never be urgent")
	}
}

func TestCalculateMetrics_UrgentRestock(t *testing.T) {
	// 1 unit against 2/day demand: half a day of cover.
	sku := SkuState{Product: testProduct("1"), Sales: constantSales(30, 2), AsOf: testAsOf}
	m := CalculateMetrics(sku, testParams())

	if m.Action != models.ActionTypeBuyMore {
		t.Fatalf("action = %s, want BuyMore", m.Action)
	}
	if !m.Urgent {
		t.Fatal("0.5 days of cover must be urgent")
	}
	// Target is 2/day x 3-day window = 6; shortfall 5 with case pack 1.
	if m.RecommendedQty != 5 {
		t.Fatalf("recommended qty = %d, want 5", m.RecommendedQty)
	}
	// One day of margin at risk: 2 units x (1500 - 1000).
	want := decimal.NewFromInt(1000)
	if !m.PotentialLostRevenue.Equal(want) {
		t.Fatalf("potential lost revenue = %s, want %s", m.PotentialLostRevenue, want)
	}
}

func TestCalculateMetrics_UrgencyBoundary(t *testing.T) {
	// Exactly 1.0 days of cover is NOT urgent; just below is.
	tests := []struct {
		onHand string
		urgent bool
	}{
		{"2", false},
		{"1.9", true},
	}
	for _, tc := range tests {
		sku := SkuState{Product: testProduct(tc.onHand), Sales: constantSales(30, 2), AsOf: testAsOf}
		m := CalculateMetrics(sku, testParams())
		if m.Action != models.ActionTypeBuyMore {
			t.Fatalf("onHand=%s action = %s, want BuyMore", tc.onHand, m.Action)
		}
		if m.Urgent != tc.urgent {
			t.Fatalf("onHand=%s urgent = %v, want %v (doc=%v)", tc.onHand, m.Urgent, tc.urgent, m.DaysOfCover)
		}
	}
}

func TestCalculateMetrics_CasePackRounding(t *testing.T) {
	product := testProduct("1")
	product.CasePackSize = 6
	sku := SkuState{Product: product, Sales: constantSales(30, 2), AsOf: testAsOf}
	m := CalculateMetrics(sku, testParams())

	// Shortfall of 5 rounds up to one full case of 6.
	if m.RecommendedQty != 6 {
		t.Fatalf("recommended qty = %d, want 6 (one case)", m.RecommendedQty)
	}
}

func TestCalculateMetrics_MinOrderQtyDominates(t *testing.T) {
	product := testProduct("5")
	product.MinOrderQty = 10
	product.CasePackSize = 4
	sku := SkuState{Product: product, Sales: constantSales(30, 2), AsOf: testAsOf}
	m := CalculateMetrics(sku, testParams())

	if m.Action != models.ActionTypeBuyMore {
		t.Fatalf("action = %s, want BuyMore (5 < safety 6)", m.Action)
	}
	// Shortfall 1, MOQ 10, case pack 4: ceil(10/4) = 3 cases = 12 units.
	if m.RecommendedQty != 12 {
		t.Fatalf("recommended qty = %d, want 12", m.RecommendedQty)
	}
}

func TestCalculateMetrics_DormantSku(t *testing.T) {
	sku := SkuState{Product: testProduct("0"), Sales: nil, AsOf: testAsOf}
	m := CalculateMetrics(sku, testParams())

	if !m.Dormant {
		t.Fatal("no stock and no demand must be dormant")
	}
	if m.Action != models.ActionTypeMonitor {
		t.Fatalf("action = %s, want Monitor", m.Action)
	}
	if m.RecommendedQty != 0 {
		t.Fatalf("dormant SKU ordered %d units", m.RecommendedQty)
	}
}

func TestCalculateMetrics_StockWithoutDemand(t *testing.T) {
	sku := SkuState{Product: testProduct("50"), Sales: nil, AsOf: testAsOf}
	m := CalculateMetrics(sku, testParams())

	if m.DaysOfCover != DaysOfCoverSentinel {
		t.Fatalf("days of cover = %v, want sentinel %v", m.DaysOfCover, DaysOfCoverSentinel)
	}
	if m.Action != models.ActionTypeMonitor {
		// Low confidence (no history) blocks the liquidation bucket.
		t.Fatalf("action = %s, want Monitor", m.Action)
	}
}

func TestCalculateMetrics_LowConfidenceNeverLiquidates(t *testing.T) {
	// 5 days of history: Low confidence. 140 days of cover would scream
	// BuyLess, but uncertainty may only ever trigger availability, never
	// liquidation.
	sku := SkuState{Product: testProduct("100"), Sales: constantSales(5, 1), AsOf: testAsOf}
	m := CalculateMetrics(sku, testParams())

	if m.Confidence != models.ConfidenceTierLow {
		t.Fatalf("confidence = %s, want Low", m.Confidence)
	}
	if m.Action == models.ActionTypeBuyLess {
		t.Fatal("Low confidence must never produce BuyLess")
	}
}

func TestCalculateMetrics_Deterministic(t *testing.T) {
	sku := SkuState{Product: testProduct("7"), Sales: constantSales(21, 3), AsOf: testAsOf}
	params := testParams()

	first := CalculateMetrics(sku, params)
	for i := 0; i < 10; i++ {
		again := CalculateMetrics(sku, params)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d diverged:\nfirst: %+v\nagain: %+v", i, first, again)
		}
	}
}

func TestConfidenceTier_SpanNotWindow(t *testing.T) {
	tests := []struct {
		daysAgo int // earliest sale, days before asOf
		want    models.ConfidenceTier
	}{
		{14, models.ConfidenceTierHigh},   // span 15
		{13, models.ConfidenceTierMedium}, // span 14
		{6, models.ConfidenceTierMedium},  // span 7
		{5, models.ConfidenceTierLow},     // span 6
		{0, models.ConfidenceTierLow},     // first sold today
	}
	for _, tc := range tests {
		sales := []models.DailySale{{
			StoreId:   "store-1",
			ProductId: 1,
			SaleDate:  testAsOf.AddDate(0, 0, -tc.daysAgo),
			Qty:       decimal.NewFromInt(1),
		}}
		if got := confidenceTier(sales, testAsOf); got != tc.want {
			t.Fatalf("earliest %d days ago: tier = %s, want %s", tc.daysAgo, got, tc.want)
		}
	}
}

func TestWeightedAds_ExcludesUnreliableWindows(t *testing.T) {
	if got := weightedAds(4, 2, 1, models.ConfidenceTierHigh); !almostEqual(got, 0.5*4+0.3*2+0.2*1) {
		t.Fatalf("high tier weighted ADS = %v", got)
	}
	if got := weightedAds(4, 2, 1, models.ConfidenceTierMedium); !almostEqual(got, 0.625*4+0.375*2) {
		t.Fatalf("medium tier weighted ADS = %v (30d window must be excluded)", got)
	}
	if got := weightedAds(4, 2, 1, models.ConfidenceTierLow); !almostEqual(got, 4) {
		t.Fatalf("low tier weighted ADS = %v (only 7d window counts)", got)
	}
}

func TestProtectionWindow_StepBoundaries(t *testing.T) {
	tests := []struct {
		cv   float64
		want int
	}{
		{0, 3},
		{0.30, 3},
		{0.31, 5},
		{0.70, 5},
		{0.71, 7},
		{2.5, 7},
	}
	for _, tc := range tests {
		if got := protectionWindow(tc.cv); got != tc.want {
			t.Fatalf("cv=%v window = %d, want %d", tc.cv, got, tc.want)
		}
	}
}

func TestServiceLevelZ_Breakpoints(t *testing.T) {
	params := testParams()
	tests := []struct {
		ads  float64
		want float64
	}{
		{12, 1.65},
		{10, 1.28}, // breakpoint itself stays mid
		{5, 1.28},
		{1, 1.28},
		{0.5, 0.84},
	}
	for _, tc := range tests {
		if got := serviceLevelZ(tc.ads, params); !almostEqual(got, tc.want) {
			t.Fatalf("ads=%v z = %v, want %v", tc.ads, got, tc.want)
		}
	}
}

func TestReorderQty(t *testing.T) {
	tests := []struct {
		target, onHand float64
		moq, casePack  int
		want           int
	}{
		{6, 1, 0, 1, 5},
		{6, 1, 0, 6, 6},
		{6, 10, 0, 1, 0},  // already above target
		{6, 5, 10, 1, 10}, // MOQ dominates the shortfall
		{7, 0, 0, 4, 8},
		{6, 1, 0, 0, 5}, // zero case pack treated as 1
	}
	for _, tc := range tests {
		got := reorderQty(tc.target, tc.onHand, tc.moq, tc.casePack)
		if got != tc.want {
			t.Fatalf("reorderQty(%v, %v, %d, %d) = %d, want %d",
				tc.target, tc.onHand, tc.moq, tc.casePack, got, tc.want)
		}
	}
}

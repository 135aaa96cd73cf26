package engine

import (
	"testing"

	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/shopspring/decimal"
)

func snapshotOf(n int64) *decimal.Decimal {
	d := decimal.NewFromInt(n)
	return &d
}

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name     string
		feedback models.FeedbackStatus
		snapshot *decimal.Decimal
		current  int64
		want     string
	}{
		{"accepted and restocked", models.FeedbackStatusAccepted, snapshotOf(3), 20, models.OutcomeOpportunitySaved},
		{"updated and restocked", models.FeedbackStatusUpdated, snapshotOf(3), 20, models.OutcomeOpportunitySaved},
		{"accepted, no movement yet", models.FeedbackStatusAccepted, snapshotOf(3), 3, ""},
		{"accepted but stock fell", models.FeedbackStatusAccepted, snapshotOf(3), 1, ""},
		{"ignored and stocked out", models.FeedbackStatusIgnored, snapshotOf(3), 0, models.OutcomeOpportunityLost},
		{"ignored, still in stock", models.FeedbackStatusIgnored, snapshotOf(3), 2, ""},
		{"no snapshot frozen", models.FeedbackStatusAccepted, nil, 20, ""},
	}
	for _, tc := range tests {
		rec := &models.Recommendation{
			FeedbackStatus:      tc.feedback,
			FeedbackQtySnapshot: tc.snapshot,
		}
		product := &models.Product{CurrentQty: decimal.NewFromInt(tc.current)}
		if got := classifyOutcome(rec, product); got != tc.want {
			t.Fatalf("%s: outcome = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassifyOutcome_NeverGuessesFromEquality(t *testing.T) {
	// Stock exactly at the snapshot proves nothing either way.
	snap := snapshotOf(5)
	rec := &models.Recommendation{
		FeedbackStatus:      models.FeedbackStatusUpdated,
		FeedbackQtySnapshot: snap,
	}
	product := &models.Product{CurrentQty: decimal.NewFromInt(5)}
	if got := classifyOutcome(rec, product); got != "" {
		t.Fatalf("equal stock resolved to %q, want unresolved", got)
	}
}

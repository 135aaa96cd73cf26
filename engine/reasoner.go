package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/inventory_backend/models"
)

// ReasoningContext is everything a reasoner may see for one SKU. It is built
// from persisted facts only; no prior call's output is ever fed back in, so
// continuity across runs comes from the database, not model memory.
type ReasoningContext struct {
	Product  *models.Product
	Metrics  MetricsBundle
	Previous *models.Recommendation
	// RegionalSignal is an optional free-text market note (e.g. seasonal
	// demand in the store's region) supplied by the caller.
	RegionalSignal string
}

// ReasoningResult carries explanatory text and a priority label. The action
// echoes the deterministic bucket and must match it; a reasoner can never
// change what the calculator decided.
type ReasoningResult struct {
	Action   models.ActionType
	Reason   string
	Priority models.RecommendationPriority
}

type Reasoner interface {
	Reason(ctx context.Context, rc ReasoningContext) (*ReasoningResult, error)
}

// TemplateReasoner is the deterministic fallback: a pure function of the
// metrics bundle. Used for every SKU not selected for AI reasoning, and for
// any SKU whose AI call failed.
type TemplateReasoner struct{}

func (TemplateReasoner) Reason(_ context.Context, rc ReasoningContext) (*ReasoningResult, error) {
	m := rc.Metrics

	var b strings.Builder
	switch m.Action {
	case models.ActionTypeBuyMore:
		if m.Urgent {
			fmt.Fprintf(&b, "Urgent restock: stock covers under 1 day of demand (%.1f days) against a %d-day protection window. ",
				m.DaysOfCover, m.ProtectionWindow)
		} else {
			fmt.Fprintf(&b, "Restock recommended: %.1f days of cover remaining against a %d-day protection window. ",
				m.DaysOfCover, m.ProtectionWindow)
		}
		if m.BelowSafetyStock {
			fmt.Fprintf(&b, "On-hand stock (%.0f) is below the safety floor of %.1f units. ", m.OnHand, m.SafetyStock)
		}
		fmt.Fprintf(&b, "Ordering %d units restores the %.1f-unit target level.", m.RecommendedQty, m.TargetStock)

	case models.ActionTypeBuyLess:
		fmt.Fprintf(&b, "Overstocked: %.1f days of cover is more than three times the %d-day protection window. ",
			m.DaysOfCover, m.ProtectionWindow)
		b.WriteString("Hold further orders and consider clearing excess stock; no automatic order is placed for liquidation signals.")

	default:
		fmt.Fprintf(&b, "Stock level is healthy: %.1f days of cover within the %d-day protection window.",
			m.DaysOfCover, m.ProtectionWindow)
	}

	return &ReasoningResult{
		Action:   m.Action,
		Reason:   b.String(),
		Priority: templatePriority(m),
	}, nil
}

func templatePriority(m MetricsBundle) models.RecommendationPriority {
	switch {
	case m.Urgent:
		return models.RecommendationPriorityHigh
	case m.Action == models.ActionTypeBuyMore:
		return models.RecommendationPriorityMedium
	default:
		return models.RecommendationPriorityLow
	}
}

package models

import "errors"

// ActionType is the ternary decision output of the metrics calculator.
// It is a pure function of stock and sales history; reasoning never changes it.
type ActionType string

const (
	ActionTypeBuyMore ActionType = "BuyMore"
	ActionTypeBuyLess ActionType = "BuyLess"
	ActionTypeMonitor ActionType = "Monitor"
)

func ParseActionType(s string) (ActionType, error) {
	switch s {
	case "BuyMore":
		return ActionTypeBuyMore, nil
	case "BuyLess":
		return ActionTypeBuyLess, nil
	case "Monitor":
		return ActionTypeMonitor, nil
	default:
		return "", errors.New("invalid action type")
	}
}

type ConfidenceTier string

const (
	ConfidenceTierHigh   ConfidenceTier = "High"
	ConfidenceTierMedium ConfidenceTier = "Medium"
	ConfidenceTierLow    ConfidenceTier = "Low"
)

// FeedbackStatus tracks what a user did with a recommendation.
// Obsolete is terminal: an obsolete record is archive-only and is never revived.
type FeedbackStatus string

const (
	FeedbackStatusPending  FeedbackStatus = "Pending"
	FeedbackStatusAccepted FeedbackStatus = "Accepted"
	FeedbackStatusUpdated  FeedbackStatus = "Updated"
	FeedbackStatusIgnored  FeedbackStatus = "Ignored"
	FeedbackStatusObsolete FeedbackStatus = "Obsolete"
)

func ParseFeedbackStatus(s string) (FeedbackStatus, error) {
	switch s {
	case "Pending":
		return FeedbackStatusPending, nil
	case "Accepted":
		return FeedbackStatusAccepted, nil
	case "Updated":
		return FeedbackStatusUpdated, nil
	case "Ignored":
		return FeedbackStatusIgnored, nil
	case "Obsolete":
		return FeedbackStatusObsolete, nil
	default:
		return "", errors.New("invalid feedback status")
	}
}

// ReasoningStatus distinguishes "AI text present" from "template used because the
// AI call failed" (retried next run) from "not selected for AI this run".
type ReasoningStatus string

const (
	ReasoningStatusNotRequested ReasoningStatus = "NotRequested"
	ReasoningStatusComplete     ReasoningStatus = "Complete"
	ReasoningStatusFallbackUsed ReasoningStatus = "FallbackUsed"
)

type RecommendationPriority string

const (
	RecommendationPriorityHigh   RecommendationPriority = "High"
	RecommendationPriorityMedium RecommendationPriority = "Medium"
	RecommendationPriorityLow    RecommendationPriority = "Low"
)

func ParseRecommendationPriority(s string) (RecommendationPriority, error) {
	switch s {
	case "High", "HIGH":
		return RecommendationPriorityHigh, nil
	case "Medium", "MEDIUM":
		return RecommendationPriorityMedium, nil
	case "Low", "LOW":
		return RecommendationPriorityLow, nil
	default:
		return "", errors.New("invalid recommendation priority")
	}
}

// Realized outcomes of the outcome ledger. A record that resolves neither way
// within the check limit stays unresolved permanently; the engine never guesses.
const (
	OutcomeOpportunitySaved = "Opportunity Saved"
	OutcomeOpportunityLost  = "Opportunity Lost"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "Running"
	RunStatusCompleted RunStatus = "Completed"
	RunStatusFailed    RunStatus = "Failed"
)

// TriggerEvent identifies what asked the engine to run. Only the daily-close
// event is processed; everything else is logged and ignored so the engine never
// re-runs on ad hoc stock edits.
type TriggerEvent string

const (
	TriggerEventDailyClose  TriggerEvent = "DailyClose"
	TriggerEventStockEdit   TriggerEvent = "StockEdit"
	TriggerEventCatalogSync TriggerEvent = "CatalogSync"
	TriggerEventManual      TriggerEvent = "Manual"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

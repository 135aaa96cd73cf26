package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/xeipuuv/gojsonschema"
	"google.golang.org/api/option"
)

var ErrReasoningContract = errors.New("reasoning response violates the output contract")

// reasoningResponseSchema is the fixed output contract of the reasoning call.
const reasoningResponseSchema = `{
	"type": "object",
	"required": ["action", "reason", "priority"],
	"properties": {
		"action":   {"type": "string", "enum": ["BuyMore", "BuyLess", "Monitor"]},
		"reason":   {"type": "string", "minLength": 1},
		"priority": {"type": "string", "enum": ["High", "Medium", "Low", "HIGH", "MEDIUM", "LOW"]}
	}
}`

type reasoningResponse struct {
	Action   string `json:"action"`
	Reason   string `json:"reason"`
	Priority string `json:"priority"`
}

// GeminiReasoner calls an external text-generation service for a
// natural-language justification. Stateless: every call opens a fresh model
// session with no chat history. It only supplies text and a priority label;
// the deterministic bucket and quantity are untouchable.
type GeminiReasoner struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	schema  *gojsonschema.Schema
}

func NewGeminiReasoner(ctx context.Context, apiKey string, params config.EngineParams) (*GeminiReasoner, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(reasoningResponseSchema))
	if err != nil {
		return nil, err
	}
	return &GeminiReasoner{
		client:  client,
		model:   params.GeminiModel,
		timeout: params.GeminiTimeout,
		schema:  schema,
	}, nil
}

func (g *GeminiReasoner) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiReasoner) Reason(ctx context.Context, rc ReasoningContext) (*ReasoningResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(rc)))
	if err != nil {
		return nil, fmt.Errorf("reasoning call failed: %w", err)
	}

	text, err := extractResponseText(resp)
	if err != nil {
		return nil, err
	}
	text = cleanJSONBlock(text)

	parsed, err := g.parseResponse(text)
	if err != nil {
		// Best-effort recovery: a usable reason string in otherwise broken
		// output still saves the call.
		if reason := recoverReason(text); reason != "" {
			parsed = &reasoningResponse{
				Action:   string(rc.Metrics.Action),
				Reason:   reason,
				Priority: string(templatePriority(rc.Metrics)),
			}
		} else {
			return nil, err
		}
	}

	action, err := models.ParseActionType(parsed.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReasoningContract, err)
	}
	// An action label that disagrees with the deterministic bucket is a
	// contract violation and must be discarded, never reconciled.
	if action != rc.Metrics.Action {
		return nil, fmt.Errorf("%w: action %q does not match computed bucket %q",
			ErrReasoningContract, action, rc.Metrics.Action)
	}

	priority, err := models.ParseRecommendationPriority(parsed.Priority)
	if err != nil {
		priority = templatePriority(rc.Metrics)
	}

	return &ReasoningResult{
		Action:   action,
		Reason:   strings.TrimSpace(parsed.Reason),
		Priority: priority,
	}, nil
}

func (g *GeminiReasoner) parseResponse(text string) (*reasoningResponse, error) {
	result, err := g.schema.Validate(gojsonschema.NewStringLoader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReasoningContract, err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrReasoningContract, strings.Join(problems, "; "))
	}

	var parsed reasoningResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReasoningContract, err)
	}
	return &parsed, nil
}

func buildPrompt(rc ReasoningContext) string {
	m := rc.Metrics
	p := rc.Product

	var b strings.Builder
	b.WriteString("You are an inventory analyst for a retail store. ")
	b.WriteString("Explain the reorder decision below for a store manager in 2-3 sentences. ")
	b.WriteString("The decision is already made and must not be changed.\n\n")

	fmt.Fprintf(&b, "SKU: %s (%s), category: %s\n", p.Name, p.Sku, p.Category)
	fmt.Fprintf(&b, "Decision: %s", m.Action)
	if m.Action == models.ActionTypeBuyMore {
		fmt.Fprintf(&b, ", order %d units", m.RecommendedQty)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "On-hand: %.0f units, days of cover: %.1f, protection window: %d days\n",
		m.OnHand, m.DaysOfCover, m.ProtectionWindow)
	fmt.Fprintf(&b, "Average daily sales: %.2f (7d %.2f / 14d %.2f / 30d %.2f), demand variability CV: %.2f\n",
		m.WeightedAds, m.Ads7, m.Ads14, m.Ads30, m.CV)
	fmt.Fprintf(&b, "Safety stock: %.1f, confidence in history: %s, urgent: %v\n",
		m.SafetyStock, m.Confidence, m.Urgent)

	if rc.Previous != nil {
		fmt.Fprintf(&b, "Previous recommendation: %s, user feedback: %s\n",
			rc.Previous.Action, rc.Previous.FeedbackStatus)
	}
	if rc.RegionalSignal != "" {
		fmt.Fprintf(&b, "Regional signal: %s\n", rc.RegionalSignal)
	}

	fmt.Fprintf(&b, "\nRespond with JSON only: {\"action\": %q, \"reason\": \"...\", \"priority\": \"High|Medium|Low\"}\n", m.Action)
	return b.String()
}

func extractResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", errors.New("no candidates in reasoning response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("no content in reasoning response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", errors.New("no text parts in reasoning response")
	}
	return strings.Join(parts, ""), nil
}

// cleanJSONBlock removes markdown code block wrappers from JSON
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// recoverReason pulls a reason string out of malformed output when possible.
func recoverReason(text string) string {
	var loose map[string]interface{}
	if err := json.Unmarshal([]byte(text), &loose); err == nil {
		if reason, ok := loose["reason"].(string); ok {
			return strings.TrimSpace(reason)
		}
	}
	return ""
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Engine tuning knobs. The decision topology (bucket precedence, formula shapes)
// is a frozen contract; only these parameters may vary between deployments.
//
// Set via env:
// - ENGINE_REASONING_CAP            max SKUs sent to the AI reasoner per run (default 50)
// - ENGINE_OUTCOME_CHECK_LIMIT      outcome sweep attempts per recommendation (default 7)
// - ENGINE_HIGH_IMPORTANCE_ADS     weighted-ADS breakpoint for the 95% service level (default 10)
// - ENGINE_LOW_IMPORTANCE_ADS      weighted-ADS breakpoint for the 80% service level (default 1)
// - GEMINI_MODEL                    reasoning model name (default gemini-1.5-flash)
// - GEMINI_TIMEOUT_SECONDS          per-call reasoning timeout (default 20)
type EngineParams struct {
	ReasoningCap      int
	OutcomeCheckLimit int

	// Importance breakpoints are domain tuning constants, not derived from
	// first principles. Do not bake them into the calculator.
	HighImportanceADS float64
	LowImportanceADS  float64

	ZHigh float64 // 95% service level
	ZMid  float64 // 90% service level
	ZLow  float64 // 80% service level

	GeminiModel   string
	GeminiTimeout time.Duration
}

func GetEngineParams() EngineParams {
	return EngineParams{
		ReasoningCap:      intFromEnv("ENGINE_REASONING_CAP", 50),
		OutcomeCheckLimit: intFromEnv("ENGINE_OUTCOME_CHECK_LIMIT", 7),
		HighImportanceADS: floatFromEnv("ENGINE_HIGH_IMPORTANCE_ADS", 10),
		LowImportanceADS:  floatFromEnv("ENGINE_LOW_IMPORTANCE_ADS", 1),
		ZHigh:             1.65,
		ZMid:              1.28,
		ZLow:              0.84,
		GeminiModel:       stringFromEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiTimeout:     time.Duration(intFromEnv("GEMINI_TIMEOUT_SECONDS", 20)) * time.Second,
	}
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// EnableReasoning gates all external AI calls. When off, every recommendation
// uses the deterministic template.
//
// Set via env:
// - ENGINE_REASONING_ENABLED=true
func EnableReasoning() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ENGINE_REASONING_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

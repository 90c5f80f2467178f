package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/macroferro/macroferro-backend/internal/llm"
	"github.com/macroferro/macroferro-backend/internal/session"
	"github.com/macroferro/macroferro-backend/pkg/enums"
	"github.com/macroferro/macroferro-backend/pkg/logger"
	"github.com/macroferro/macroferro-backend/pkg/metrics"
)

// Source records which path produced a classification.
type Source string

const (
	SourceCommand  Source = "command"
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// Entities is the normalized entity bundle attached to an intent.
type Entities struct {
	Keywords string `json:"keywords,omitempty"`
	SKU      string `json:"sku,omitempty"`
	Position int    `json:"position,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Value    string `json:"value,omitempty"`
	Question string `json:"question,omitempty"`
}

// Result is a validated classification of one user message.
type Result struct {
	Intent     enums.Intent
	Entities   Entities
	Confidence float64
	Source     Source
}

type classifier interface {
	Complete(ctx context.Context, system string, turns []llm.Turn, jsonMode bool) (string, error)
}

// Analyzer turns raw chat text into an intent and entity bundle.
type Analyzer struct {
	llm     classifier
	logg    *logger.Logger
	metrics *metrics.BotMetrics
}

func New(llmClient classifier, logg *logger.Logger, m *metrics.BotMetrics) (*Analyzer, error) {
	if llmClient == nil {
		return nil, fmt.Errorf("classifier required")
	}
	return &Analyzer{llm: llmClient, logg: logg, metrics: m}, nil
}

// Analyze classifies text. history carries up to the last six turns; recent
// supplies the positional context from the last product listing.
func (a *Analyzer) Analyze(ctx context.Context, text string, recent []session.RecentProduct, history []llm.Turn) Result {
	trimmed := strings.TrimSpace(text)

	if result, ok := parseCommand(trimmed); ok {
		return result
	}

	raw, err := a.llm.Complete(ctx, systemPrompt, buildTurns(trimmed, recent, history), true)
	if err != nil {
		if a.logg != nil {
			a.logg.Warn(ctx, "classifier unavailable, using keyword fallback: "+err.Error())
		}
		a.metrics.IncLLMFallback()
		return fingerprint(trimmed)
	}

	result, err := parseClassification(raw)
	if err != nil {
		if a.logg != nil {
			a.logg.Warn(ctx, "classifier output rejected: "+err.Error())
		}
		a.metrics.IncLLMFallback()
		return fingerprint(trimmed)
	}
	return result
}

type wireClassification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Entities   struct {
		Keywords string          `json:"keywords"`
		SKU      string          `json:"sku"`
		Position json.RawMessage `json:"position"`
		Quantity json.RawMessage `json:"quantity"`
		Value    string          `json:"value"`
		Question string          `json:"question"`
	} `json:"entities"`
}

func parseClassification(raw string) (Result, error) {
	var wire wireClassification
	if err := json.Unmarshal([]byte(extractJSON(raw)), &wire); err != nil {
		return Result{}, fmt.Errorf("decoding classification: %w", err)
	}

	intent, err := enums.ParseIntent(wire.Intent)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Intent:     intent,
		Confidence: wire.Confidence,
		Source:     SourceLLM,
		Entities: Entities{
			Keywords: strings.TrimSpace(wire.Entities.Keywords),
			SKU:      strings.ToUpper(strings.TrimSpace(wire.Entities.SKU)),
			Position: coerceInt(wire.Entities.Position),
			Quantity: coerceInt(wire.Entities.Quantity),
			Value:    strings.TrimSpace(wire.Entities.Value),
			Question: strings.TrimSpace(wire.Entities.Question),
		},
	}
	normalize(&result)
	return result, nil
}

// normalize applies the entity tie-breaks: an explicit SKU beats a position,
// and cart quantities are clamped to at least one.
func normalize(result *Result) {
	if result.Entities.SKU != "" {
		result.Entities.Position = 0
	}
	if result.Entities.Position < 0 {
		result.Entities.Position = 0
	}
	switch result.Intent {
	case enums.IntentAddToCart, enums.IntentUpdateQuantity:
		if result.Entities.Quantity < 1 {
			result.Entities.Quantity = 1
		}
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
}

// coerceInt accepts both JSON numbers and numeric strings.
func coerceInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var parsed int
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &parsed); err == nil {
			return parsed
		}
	}
	return 0
}

// extractJSON tolerates models that wrap the object in code fences or prose.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

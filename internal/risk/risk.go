// Package risk scores PSP risk signals into a block/warn recommendation.
// Score is a pure function of its inputs: a stateless per-request
// score rather than a rolling window, so callers can assess a
// checkout session without maintaining velocity state across calls.
// An audit-trail Store records each assessment under an idgen-stamped
// id for later lookup.
package risk

import (
	"context"
	"time"

	"github.com/stateset/agentic-checkout/internal/idgen"
)

// Recommendation is the closed set of outcomes Score can produce.
type Recommendation string

const (
	Continue Recommendation = "continue"
	Monitor  Recommendation = "monitor"
	Review   Recommendation = "review"
	Block    Recommendation = "block"
)

// Signals is the PSP-supplied risk input. FraudulentDispute and
// StolenCard are percentages (0..100); CardTesting and Bot are
// fractions (0..1).
type Signals struct {
	FraudulentDispute float64
	StolenCard        float64
	CardTesting       float64
	Bot               float64
}

// Assessment is the scored outcome of one Score call, persisted to
// Store for audit.
type Assessment struct {
	ID             string
	Score          float64
	Block          bool
	Recommendation Recommendation
	Warnings       []string
	EvaluatedAt    time.Time
	Signals        Signals
}

// Score evaluates signals against the fixed weighted rules. Rules are
// evaluated independently; any block-trigger sets Block=true
// regardless of the others, so no input combination can unset a block
// once one trigger has fired.
func Score(signals Signals) Assessment {
	var warnings []string
	block := false

	if signals.FraudulentDispute > 75 {
		block = true
		warnings = append(warnings, "fraudulent_dispute_high")
	} else if signals.FraudulentDispute > 50 {
		warnings = append(warnings, "fraudulent_dispute_elevated")
	}

	if signals.StolenCard > 75 {
		block = true
		warnings = append(warnings, "stolen_card_high")
	} else if signals.StolenCard > 50 {
		warnings = append(warnings, "stolen_card_elevated")
	}

	if signals.CardTesting > 0.8 {
		block = true
		warnings = append(warnings, "card_testing_high")
	} else if signals.CardTesting > 0.5 {
		warnings = append(warnings, "card_testing_elevated")
	}

	if signals.Bot > 0.8 {
		block = true
		warnings = append(warnings, "bot_high")
	}

	score := 0.4*(signals.FraudulentDispute/100) +
		0.3*(signals.StolenCard/100) +
		0.2*signals.CardTesting +
		0.1*signals.Bot
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	recommendation := Continue
	switch {
	case block:
		recommendation = Block
	case score > 0.6:
		recommendation = Review
	case score > 0.3:
		recommendation = Monitor
	}

	return Assessment{
		ID:             idgen.WithPrefix("risk_"),
		Score:          score,
		Block:          block,
		Recommendation: recommendation,
		Warnings:       warnings,
		EvaluatedAt:    time.Now(),
		Signals:        signals,
	}
}

// Store is the audit-trail interface for persisted assessments.
// Recording is best-effort from the caller's perspective: a failure
// to record never blocks or reverses a Score outcome.
type Store interface {
	Record(ctx context.Context, a Assessment) error
}

// NopStore discards every assessment. Useful when no audit sink is
// configured.
type NopStore struct{}

func (NopStore) Record(context.Context, Assessment) error { return nil }

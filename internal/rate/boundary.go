package rate

import (
	"fmt"

	"github.com/parleyhq/parley/internal/money"
)

// Band classifies an implied price-per-thousand against the campaign's
// configured price bands.
type Band string

// Band values. WithinRange covers prices at or between floor and ceiling;
// the boundary values themselves are inside the band.
const (
	BandWithinRange     Band = "within_range"
	BandExceedsCeiling  Band = "exceeds_ceiling"
	BandBelowFloor      Band = "below_floor"
	BandSuspiciouslyLow Band = "suspiciously_low"
)

// Evaluation is the immutable result of classifying one proposed amount.
type Evaluation struct {
	Amount         money.Amount
	ImpliedPrice   money.Amount
	Band           Band
	ShouldEscalate bool
	Warning        string
}

// Evaluator classifies proposed amounts against floor, ceiling, and
// suspicious-low thresholds. All three are price-per-thousand values.
type Evaluator struct {
	floor         money.Amount
	ceiling       money.Amount
	suspiciousLow money.Amount
}

// NewEvaluator validates the band ordering suspiciousLow <= floor <= ceiling
// and returns a configuration error otherwise. Enforcing the ordering here
// keeps the first-match-wins classification below total and unambiguous.
func NewEvaluator(floor, ceiling, suspiciousLow money.Amount) (*Evaluator, error) {
	if suspiciousLow.GreaterThan(floor) {
		return nil, fmt.Errorf("rate: suspicious-low threshold %s exceeds floor %s", suspiciousLow, floor)
	}
	if floor.GreaterThan(ceiling) {
		return nil, fmt.Errorf("rate: floor %s exceeds ceiling %s", floor, ceiling)
	}
	return &Evaluator{floor: floor, ceiling: ceiling, suspiciousLow: suspiciousLow}, nil
}

// Floor returns the configured floor price-per-thousand.
func (e *Evaluator) Floor() money.Amount { return e.floor }

// Ceiling returns the configured ceiling price-per-thousand.
func (e *Evaluator) Ceiling() money.Amount { return e.ceiling }

// Evaluate classifies a proposed amount for the given reach. First match
// wins: ceiling overrun, then suspiciously low, then below floor, then
// within range. Only a ceiling overrun requires escalation; a suspiciously
// low ask is an opportunity for a human, not a risk, so it warns without
// forcing a stop.
func (e *Evaluator) Evaluate(amount money.Amount, views int64) (Evaluation, error) {
	implied, err := ImpliedPrice(amount, views)
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{Amount: amount, ImpliedPrice: implied, Band: BandWithinRange}

	switch {
	case implied.GreaterThan(e.ceiling):
		ev.Band = BandExceedsCeiling
		ev.ShouldEscalate = true
		ev.Warning = fmt.Sprintf("implied price %s/1k exceeds ceiling %s/1k", implied, e.ceiling)
	case implied.LessThan(e.suspiciousLow):
		ev.Band = BandSuspiciouslyLow
		ev.Warning = fmt.Sprintf("implied price %s/1k is suspiciously low (threshold %s/1k)", implied, e.suspiciousLow)
	case implied.LessThan(e.floor):
		ev.Band = BandBelowFloor
	}

	return ev, nil
}

// Package budget tracks agreed prices across a multi-party campaign and
// computes how far above the baseline ceiling a single counterparty may be
// offered, funded by savings on earlier agreements and weighted by an
// engagement-quality signal.
package budget

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/parleyhq/parley/internal/money"
)

// Engagement premium tiers: engagement above 5% earns +15% of ceiling,
// above 3% earns +8%. Comparisons are strict, so exactly 5.0 falls into
// the 8% tier and exactly 3.0 earns nothing.
var (
	highEngagement   = decimal.NewFromInt(5)
	midEngagement    = decimal.NewFromInt(3)
	highTierFraction = decimal.NewFromFloat(0.15)
	midTierFraction  = decimal.NewFromFloat(0.08)

	// hardCapFactor is the absolute limit on any counterparty's price:
	// 1.20x ceiling, regardless of accumulated premiums.
	hardCapFactor = decimal.NewFromFloat(1.20)
)

// Agreement is one closed deal recorded against the campaign.
type Agreement struct {
	// Price is the agreed price-per-thousand.
	Price money.Amount
	// EngagementRate is the counterparty's engagement percentage at close
	// time; nil when unknown.
	EngagementRate *float64
}

// Flexibility is the immutable result of one allowance computation.
type Flexibility struct {
	// Baseline is the campaign's target ceiling price-per-thousand.
	Baseline money.Amount
	// MaxAllowed is the highest price-per-thousand this counterparty may
	// be offered.
	MaxAllowed money.Amount
	// Justification names the premiums that applied and whether the hard
	// cap clipped the result; it is surfaced to human reviewers verbatim.
	Justification string
}

// Tracker accumulates agreements for one campaign. It is not safe for
// concurrent use; callers serialize access per campaign.
type Tracker struct {
	campaignID string
	floor      money.Amount
	ceiling    money.Amount
	totalCount int
	agreements []Agreement
}

// NewTracker creates a tracker for a campaign with totalCount counterparties
// and the given floor/ceiling price-per-thousand targets.
func NewTracker(campaignID string, floor, ceiling money.Amount, totalCount int) *Tracker {
	return &Tracker{
		campaignID: campaignID,
		floor:      floor,
		ceiling:    ceiling,
		totalCount: totalCount,
	}
}

// CampaignID returns the campaign identifier.
func (t *Tracker) CampaignID() string { return t.campaignID }

// Floor returns the campaign floor price-per-thousand.
func (t *Tracker) Floor() money.Amount { return t.floor }

// Ceiling returns the campaign ceiling price-per-thousand.
func (t *Tracker) Ceiling() money.Amount { return t.ceiling }

// Agreements returns the recorded agreement history, oldest first.
func (t *Tracker) Agreements() []Agreement {
	out := make([]Agreement, len(t.agreements))
	copy(out, t.agreements)
	return out
}

// RecordAgreement appends a closed deal to the campaign history.
func (t *Tracker) RecordAgreement(price money.Amount, engagementRate *float64) {
	t.agreements = append(t.agreements, Agreement{Price: price, EngagementRate: engagementRate})
}

// averagePrice returns the running average of agreed prices, or zero when
// no agreements exist.
func (t *Tracker) averagePrice() money.Amount {
	if len(t.agreements) == 0 {
		return money.Zero
	}
	sum := decimal.Zero
	for _, a := range t.agreements {
		sum = sum.Add(a.Price.Decimal())
	}
	avg := sum.DivRound(decimal.NewFromInt(int64(len(t.agreements))), money.Scale+2)
	out, _ := money.Parse(avg.String())
	return out
}

// budgetPremium computes the per-counterparty share of the savings earned by
// closing earlier deals below ceiling, redistributed across the remaining
// (not yet agreed) counterparties. Zero when no agreements exist, when no
// counterparties remain, or when the running average is at or above ceiling.
func (t *Tracker) budgetPremium() money.Amount {
	agreed := len(t.agreements)
	if agreed == 0 {
		return money.Zero
	}
	remaining := t.totalCount - agreed
	if remaining <= 0 {
		return money.Zero
	}
	avg := t.averagePrice()
	if !avg.LessThan(t.ceiling) {
		return money.Zero
	}
	savings := t.ceiling.Sub(avg)
	share := savings.Decimal().
		Mul(decimal.NewFromInt(int64(agreed))).
		DivRound(decimal.NewFromInt(int64(remaining)), money.Scale)
	out, _ := money.Parse(share.String())
	return out
}

// engagementPremium returns the reach-quality premium as an absolute
// price-per-thousand amount. A nil rate means unknown and earns nothing.
func (t *Tracker) engagementPremium(engagementRate *float64) money.Amount {
	if engagementRate == nil {
		return money.Zero
	}
	rate := decimal.NewFromFloat(*engagementRate)
	switch {
	case rate.GreaterThan(highEngagement):
		return t.ceiling.Mul(highTierFraction)
	case rate.GreaterThan(midEngagement):
		return t.ceiling.Mul(midTierFraction)
	default:
		return money.Zero
	}
}

// Flexibility computes the maximum allowed price-per-thousand for one
// counterparty given their engagement rate (nil when unknown).
func (t *Tracker) Flexibility(engagementRate *float64) Flexibility {
	budgetPrem := t.budgetPremium()
	engagePrem := t.engagementPremium(engagementRate)

	hardCap := t.ceiling.Mul(hardCapFactor)
	uncapped := t.ceiling.Add(budgetPrem).Add(engagePrem)
	maxAllowed := money.Min(uncapped, hardCap)

	var parts []string
	if budgetPrem.IsPositive() {
		parts = append(parts, fmt.Sprintf("budget premium +%s/1k from %d agreement(s) closed below ceiling", budgetPrem, len(t.agreements)))
	}
	if engagePrem.IsPositive() {
		parts = append(parts, fmt.Sprintf("engagement premium +%s/1k for %.1f%% engagement", engagePrem, *engagementRate))
	}
	if len(parts) == 0 {
		parts = append(parts, "no premiums apply; baseline ceiling holds")
	}
	if uncapped.GreaterThan(hardCap) {
		parts = append(parts, fmt.Sprintf("clipped to hard cap %s/1k (1.20x ceiling)", hardCap))
	}

	return Flexibility{
		Baseline:      t.ceiling,
		MaxAllowed:    maxAllowed,
		Justification: strings.Join(parts, "; "),
	}
}

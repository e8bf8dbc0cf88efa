package budget

import "github.com/parleyhq/parley/internal/money"

// AgreementSnapshot is the persisted form of one agreement. Price uses the
// canonical decimal string serialization via money.Amount's JSON encoding.
type AgreementSnapshot struct {
	Price          money.Amount `json:"price"`
	EngagementRate *float64     `json:"engagement_rate,omitempty"`
}

// Snapshot is the persisted form of a tracker.
type Snapshot struct {
	CampaignID string              `json:"campaign_id"`
	Floor      money.Amount        `json:"floor"`
	Ceiling    money.Amount        `json:"ceiling"`
	TotalCount int                 `json:"total_count"`
	Agreements []AgreementSnapshot `json:"agreements"`
}

// Snapshot captures the tracker state for persistence.
func (t *Tracker) Snapshot() Snapshot {
	agreements := make([]AgreementSnapshot, len(t.agreements))
	for i, a := range t.agreements {
		agreements[i] = AgreementSnapshot{Price: a.Price, EngagementRate: a.EngagementRate}
	}
	return Snapshot{
		CampaignID: t.campaignID,
		Floor:      t.floor,
		Ceiling:    t.ceiling,
		TotalCount: t.totalCount,
		Agreements: agreements,
	}
}

// FromSnapshot reconstructs a tracker from its persisted form.
func FromSnapshot(s Snapshot) *Tracker {
	t := NewTracker(s.CampaignID, s.Floor, s.Ceiling, s.TotalCount)
	for _, a := range s.Agreements {
		t.RecordAgreement(a.Price, a.EngagementRate)
	}
	return t
}

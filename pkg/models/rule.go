package models

import "time"

// Rule is the stable identity of a business rule. Content never lives here;
// every content change produces a new RuleVersion row instead.
type Rule struct {
	ID        int64     `json:"id"`
	FactType  string    `json:"fact_type"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// IsDraft reports whether the rule has never been activated by an approval.
func (r *Rule) IsDraft() bool {
	return !r.Active
}

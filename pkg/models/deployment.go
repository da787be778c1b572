package models

import (
	"encoding/json"
	"time"
)

// Deployment records one publication of a fact type's active rule set to
// the downstream evaluation runtime. Version auto-increments per fact type.
type Deployment struct {
	ID                 int64           `json:"id"`
	FactType           string          `json:"fact_type"`
	Version            int64           `json:"version"`
	RulesCount         int             `json:"rules_count"`
	RulesHash          string          `json:"rules_hash"`
	RuleIDs            []int64         `json:"rule_ids"`
	ChangesDescription string          `json:"changes_description,omitempty"`
	RuleChanges        json.RawMessage `json:"rule_changes,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	CreatedBy          string          `json:"created_by,omitempty"`
}

// RuleChangeSummary is the per-deployment summary stored in RuleChanges.
type RuleChangeSummary struct {
	Added   []int64 `json:"added"`
	Updated []int64 `json:"updated"`
	Removed []int64 `json:"removed"`
}

package models

import (
	"encoding/json"
	"time"
)

// RuleVersion is one row of a rule's append-only content history.
// For each rule exactly one version has IsLatest set at all times; versions
// are never deleted or rewritten.
type RuleVersion struct {
	ID           int64           `json:"id"`
	RuleID       int64           `json:"rule_id"`
	Version      int             `json:"version"`
	Content      json.RawMessage `json:"content"`
	VersionNotes string          `json:"version_notes,omitempty"`
	IsLatest     bool            `json:"is_latest"`
	UpdatedAt    time.Time       `json:"updated_at"`
	UpdatedBy    string          `json:"updated_by,omitempty"`
}

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
)

// Change request status constants. Approved and Rejected are terminal.
const (
	ChangeRequestStatusPending  = "Pending"
	ChangeRequestStatusApproved = "Approved"
	ChangeRequestStatusRejected = "Rejected"
)

// ChangeSet is the typed payload of a change request: three pairwise
// disjoint rule id buckets plus the opaque content carried for add and
// update targets. It replaces the ad-hoc JSON blob the legacy system
// stored, with the invariants enforced at construction.
type ChangeSet struct {
	RulesToAdd    []int64 `json:"rulesToAdd"`
	RulesToUpdate []int64 `json:"rulesToUpdate"`
	RulesToDelete []int64 `json:"rulesToDelete"`

	// Contents maps rule id to the opaque rule content deployed for that
	// rule when the request is approved. The core never interprets it.
	Contents map[int64]json.RawMessage `json:"contents,omitempty"`

	// Notes maps rule id to version notes recorded on the version row.
	Notes map[int64]string `json:"notes,omitempty"`

	// BaseVersions maps each update target to the latest version id
	// observed when the request was created. Computed server-side; a
	// mismatch at approval time means another request touched the rule
	// first and the approval is rejected as stale.
	BaseVersions map[int64]int64 `json:"baseVersions,omitempty"`
}

// Validate enforces the structural invariants: at least one referenced rule
// overall, and no rule id in more than one bucket.
func (cs *ChangeSet) Validate() error {
	total := len(cs.RulesToAdd) + len(cs.RulesToUpdate) + len(cs.RulesToDelete)
	if total == 0 {
		return fmt.Errorf("%w: change set references no rules", apperrors.ErrValidation)
	}

	seen := make(map[int64]string, total)
	for bucket, ids := range map[string][]int64{
		"rulesToAdd":    cs.RulesToAdd,
		"rulesToUpdate": cs.RulesToUpdate,
		"rulesToDelete": cs.RulesToDelete,
	} {
		for _, id := range ids {
			if id <= 0 {
				return fmt.Errorf("%w: invalid rule id %d in %s", apperrors.ErrValidation, id, bucket)
			}
			if prev, ok := seen[id]; ok {
				if prev == bucket {
					return fmt.Errorf("%w: rule %d listed twice in %s", apperrors.ErrValidation, id, bucket)
				}
				return fmt.Errorf("%w: rule %d appears in both %s and %s", apperrors.ErrValidation, id, prev, bucket)
			}
			seen[id] = bucket
		}
	}
	return nil
}

// RuleIDs returns every rule id referenced by the change set.
func (cs *ChangeSet) RuleIDs() []int64 {
	ids := make([]int64, 0, len(cs.RulesToAdd)+len(cs.RulesToUpdate)+len(cs.RulesToDelete))
	ids = append(ids, cs.RulesToAdd...)
	ids = append(ids, cs.RulesToUpdate...)
	ids = append(ids, cs.RulesToDelete...)
	return ids
}

// ContentFor returns the carried content for a rule, if any.
func (cs *ChangeSet) ContentFor(ruleID int64) (json.RawMessage, bool) {
	content, ok := cs.Contents[ruleID]
	return content, ok
}

// NotesFor returns the carried version notes for a rule, or empty.
func (cs *ChangeSet) NotesFor(ruleID int64) string {
	return cs.Notes[ruleID]
}

// ChangeRequest bundles a reviewable set of rule additions, updates and
// deletions for one fact type.
type ChangeRequest struct {
	ID          int64     `json:"id"`
	FactType    string    `json:"fact_type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Changes     ChangeSet `json:"changes"`

	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`

	ApprovedBy   *string    `json:"approved_by,omitempty"`
	ApprovedDate *time.Time `json:"approved_date,omitempty"`

	RejectedBy      *string    `json:"rejected_by,omitempty"`
	RejectedDate    *time.Time `json:"rejected_date,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`

	// DeploymentWarning is populated on approval responses when the
	// post-commit deployment failed. Never persisted.
	DeploymentWarning string `json:"deployment_warning,omitempty"`
}

// IsResolved reports whether the request reached a terminal status.
func (cr *ChangeRequest) IsResolved() bool {
	return cr.Status == ChangeRequestStatusApproved || cr.Status == ChangeRequestStatusRejected
}

// ChangeRequestFilter narrows List results. Empty fields match everything;
// set fields combine conjunctively.
type ChangeRequestFilter struct {
	FactType string
	Status   string
}

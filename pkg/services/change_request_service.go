package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/database"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
	"github.com/rulegate-io/rulegate-engine/pkg/repositories"
	"github.com/rulegate-io/rulegate-engine/pkg/retry"
)

// ChangeRequestService is the governance state machine. A change request is
// created Pending, then resolved exactly once: approval applies the whole
// change set atomically against the rule store and version ledger; rejection
// only stamps audit fields.
type ChangeRequestService interface {
	// Create validates and persists a new Pending change request. Nothing
	// is persisted on validation failure.
	Create(ctx context.Context, cr *models.ChangeRequest) error

	// Get returns a change request by id.
	Get(ctx context.Context, id int64) (*models.ChangeRequest, error)

	// List returns change requests matching the filter, newest first.
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]*models.ChangeRequest, error)

	// Approve transitions Pending -> Approved and applies the change set as
	// a single all-or-nothing unit of work, then publishes the fact type.
	// A deployment failure does not revert the approval: the returned
	// change request is valid and the error is an
	// *apperrors.DeploymentWarning.
	Approve(ctx context.Context, id int64, approver string) (*models.ChangeRequest, error)

	// Reject transitions Pending -> Rejected. Requires a reason. No rule or
	// version state changes.
	Reject(ctx context.Context, id int64, rejecter, reason string) (*models.ChangeRequest, error)
}

type changeRequestService struct {
	db             database.Beginner
	rules          repositories.RuleRepository
	versions       repositories.RuleVersionRepository
	changeRequests repositories.ChangeRequestRepository
	deployer       DeployService
	retryCfg       *retry.Config
	logger         *zap.Logger
}

// NewChangeRequestService creates a new ChangeRequestService.
func NewChangeRequestService(
	db database.Beginner,
	rules repositories.RuleRepository,
	versions repositories.RuleVersionRepository,
	changeRequests repositories.ChangeRequestRepository,
	deployer DeployService,
	retryCfg *retry.Config,
	logger *zap.Logger,
) ChangeRequestService {
	return &changeRequestService{
		db:             db,
		rules:          rules,
		versions:       versions,
		changeRequests: changeRequests,
		deployer:       deployer,
		retryCfg:       retryCfg,
		logger:         logger.Named("change-request-service"),
	}
}

var _ ChangeRequestService = (*changeRequestService)(nil)

func (s *changeRequestService) Create(ctx context.Context, cr *models.ChangeRequest) error {
	if strings.TrimSpace(cr.Title) == "" {
		return fmt.Errorf("%w: title is required", apperrors.ErrValidation)
	}
	if strings.TrimSpace(cr.FactType) == "" {
		return fmt.Errorf("%w: fact type is required", apperrors.ErrValidation)
	}
	if err := cr.Changes.Validate(); err != nil {
		return err
	}

	// Every referenced rule must exist, belong to the request's fact type
	// and sit in the bucket matching its lifecycle state.
	for _, id := range cr.Changes.RuleIDs() {
		rule, err := s.rules.Get(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return fmt.Errorf("%w: rule %d does not exist", apperrors.ErrValidation, id)
			}
			return err
		}
		if rule.FactType != cr.FactType {
			return fmt.Errorf("%w: rule %d belongs to fact type %q, not %q",
				apperrors.ErrValidation, id, rule.FactType, cr.FactType)
		}
	}
	if err := checkBucketParity(ctx, s.rules, &cr.Changes, apperrors.ErrValidation); err != nil {
		return err
	}

	// Record the version lineage each update is based on. Approval rejects
	// the request as stale when another approved request moved the lineage
	// first.
	cr.Changes.BaseVersions = make(map[int64]int64, len(cr.Changes.RulesToUpdate))
	for _, id := range cr.Changes.RulesToUpdate {
		latest, err := s.versions.GetLatest(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				cr.Changes.BaseVersions[id] = 0
				continue
			}
			return err
		}
		cr.Changes.BaseVersions[id] = latest.ID
	}

	if err := s.changeRequests.Create(ctx, cr); err != nil {
		return err
	}

	s.logger.Info("Created change request",
		zap.Int64("change_request_id", cr.ID),
		zap.String("fact_type", cr.FactType),
		zap.Int("adds", len(cr.Changes.RulesToAdd)),
		zap.Int("updates", len(cr.Changes.RulesToUpdate)),
		zap.Int("deletes", len(cr.Changes.RulesToDelete)))
	return nil
}

func (s *changeRequestService) Get(ctx context.Context, id int64) (*models.ChangeRequest, error) {
	return s.changeRequests.GetByID(ctx, id)
}

func (s *changeRequestService) List(ctx context.Context, filter models.ChangeRequestFilter) ([]*models.ChangeRequest, error) {
	return s.changeRequests.List(ctx, filter)
}

func (s *changeRequestService) Approve(ctx context.Context, id int64, approver string) (*models.ChangeRequest, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, fmt.Errorf("%w: approver identity is required", apperrors.ErrValidation)
	}

	var approved *models.ChangeRequest
	err := retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		var attemptErr error
		approved, attemptErr = s.approveOnce(ctx, id, approver)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Approved change request",
		zap.Int64("change_request_id", id),
		zap.String("approved_by", approver))

	// Post-commit propagation. The approval is durable; a notifier failure
	// is surfaced as a warning and never rolls anything back.
	summary := &models.RuleChangeSummary{
		Added:   approved.Changes.RulesToAdd,
		Updated: approved.Changes.RulesToUpdate,
		Removed: approved.Changes.RulesToDelete,
	}
	if _, deployErr := s.deployer.Deploy(ctx, approved.FactType, approver, approved.Title, summary); deployErr != nil {
		warning := &apperrors.DeploymentWarning{FactType: approved.FactType, Err: deployErr}
		approved.DeploymentWarning = warning.Error()
		s.logger.Warn("Approval committed but deployment failed",
			zap.Int64("change_request_id", id),
			zap.String("fact_type", approved.FactType),
			zap.Error(deployErr))
		return approved, warning
	}

	return approved, nil
}

// approveOnce runs one attempt of the approval transaction. Everything from
// the status compare-and-set to the last rule mutation commits or rolls
// back together.
func (s *changeRequestService) approveOnce(ctx context.Context, id int64, approver string) (*models.ChangeRequest, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	changeRequests := s.changeRequests.WithTx(tx)
	rules := s.rules.WithTx(tx)
	versions := s.versions.WithTx(tx)

	won, err := changeRequests.Approve(ctx, id, approver, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, s.resolveTransitionFailure(ctx, id)
	}

	cr, err := changeRequests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Lock every referenced rule in id order, then re-validate against the
	// bucket it sits in. Any drift since creation aborts the whole batch.
	locked, err := lockRules(ctx, rules, cr.Changes.RuleIDs())
	if err != nil {
		return nil, err
	}
	if err := verifyParity(locked, &cr.Changes); err != nil {
		return nil, err
	}
	if err := s.verifyLineage(ctx, versions, &cr.Changes); err != nil {
		return nil, err
	}

	if err := applyChangeSet(ctx, rules, versions, cr, approver); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}
	return cr, nil
}

// resolveTransitionFailure distinguishes a missing change request from one
// that already reached a terminal status.
func (s *changeRequestService) resolveTransitionFailure(ctx context.Context, id int64) error {
	cr, err := s.changeRequests.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cr.IsResolved() {
		return fmt.Errorf("change request %d is %s: %w", id, cr.Status, apperrors.ErrAlreadyResolved)
	}
	return fmt.Errorf("change request %d has status %s: %w", id, cr.Status, apperrors.ErrInvalidState)
}

func (s *changeRequestService) Reject(ctx context.Context, id int64, rejecter, reason string) (*models.ChangeRequest, error) {
	if strings.TrimSpace(rejecter) == "" {
		return nil, fmt.Errorf("%w: rejecter identity is required", apperrors.ErrValidation)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", apperrors.ErrValidation)
	}

	won, err := s.changeRequests.Reject(ctx, id, rejecter, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, s.resolveTransitionFailure(ctx, id)
	}

	s.logger.Info("Rejected change request",
		zap.Int64("change_request_id", id),
		zap.String("rejected_by", rejecter))
	return s.changeRequests.GetByID(ctx, id)
}

// lockRules loads every rule FOR UPDATE in ascending id order so two
// approvals touching overlapping rule sets cannot deadlock.
func lockRules(ctx context.Context, rules repositories.RuleRepository, ids []int64) (map[int64]*models.Rule, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	locked := make(map[int64]*models.Rule, len(sorted))
	for _, id := range sorted {
		rule, err := rules.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, fmt.Errorf("rule %d no longer exists: %w", id, apperrors.ErrStaleReference)
			}
			return nil, err
		}
		locked[id] = rule
	}
	return locked, nil
}

// verifyParity checks each locked rule against the bucket it sits in: adds
// must still be drafts, updates and deletes must still be active.
func verifyParity(locked map[int64]*models.Rule, cs *models.ChangeSet) error {
	for _, id := range cs.RulesToAdd {
		if locked[id].Active {
			return fmt.Errorf("rule %d is already active: %w", id, apperrors.ErrStaleReference)
		}
	}
	for _, id := range cs.RulesToUpdate {
		if !locked[id].Active {
			return fmt.Errorf("rule %d is no longer active: %w", id, apperrors.ErrStaleReference)
		}
	}
	for _, id := range cs.RulesToDelete {
		if !locked[id].Active {
			return fmt.Errorf("rule %d is no longer active: %w", id, apperrors.ErrStaleReference)
		}
	}
	return nil
}

// verifyLineage rejects updates whose base version moved since the request
// was created. Active-flag parity alone cannot catch two pending requests
// updating the same rule; the recorded base version id can.
func (s *changeRequestService) verifyLineage(ctx context.Context, versions repositories.RuleVersionRepository, cs *models.ChangeSet) error {
	for _, id := range cs.RulesToUpdate {
		base := cs.BaseVersions[id]
		latest, err := versions.GetLatest(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				if base != 0 {
					return fmt.Errorf("rule %d lost its version history: %w", id, apperrors.ErrStaleReference)
				}
				continue
			}
			return err
		}
		if latest.ID != base {
			return fmt.Errorf("rule %d was updated by another change request: %w", id, apperrors.ErrStaleReference)
		}
	}
	return nil
}

// checkBucketParity validates, at creation time, that each referenced rule
// sits in the bucket matching its lifecycle state. Violations wrap sentinel.
func checkBucketParity(ctx context.Context, rules repositories.RuleRepository, cs *models.ChangeSet, sentinel error) error {
	for _, id := range cs.RulesToAdd {
		rule, err := rules.Get(ctx, id)
		if err != nil {
			return err
		}
		if rule.Active {
			return fmt.Errorf("%w: rule %d is already active and cannot be added", sentinel, id)
		}
	}
	for _, id := range append(append([]int64(nil), cs.RulesToUpdate...), cs.RulesToDelete...) {
		rule, err := rules.Get(ctx, id)
		if err != nil {
			return err
		}
		if !rule.Active {
			return fmt.Errorf("%w: rule %d is a draft and cannot be updated or deleted", sentinel, id)
		}
	}
	return nil
}

// applyChangeSet performs the batch mutation inside the approval
// transaction: activate and version adds, version updates, deactivate
// deletes.
func applyChangeSet(
	ctx context.Context,
	rules repositories.RuleRepository,
	versions repositories.RuleVersionRepository,
	cr *models.ChangeRequest,
	approver string,
) error {
	cs := &cr.Changes

	for _, id := range cs.RulesToAdd {
		if err := rules.SetActive(ctx, id, true); err != nil {
			return err
		}
		if content, ok := cs.ContentFor(id); ok {
			notes := cs.NotesFor(id)
			if notes == "" {
				notes = cr.Title
			}
			if _, err := versions.CreateVersion(ctx, id, content, notes, approver); err != nil {
				return err
			}
		}
	}

	for _, id := range cs.RulesToUpdate {
		content, ok := cs.ContentFor(id)
		if !ok {
			// No carried content: re-snapshot the current latest so the
			// update still produces an auditable version row.
			latest, err := versions.GetLatest(ctx, id)
			if err != nil {
				return err
			}
			content = latest.Content
		}
		notes := cs.NotesFor(id)
		if notes == "" {
			notes = cr.Title
		}
		if _, err := versions.CreateVersion(ctx, id, content, notes, approver); err != nil {
			return err
		}
	}

	for _, id := range cs.RulesToDelete {
		if err := rules.SetActive(ctx, id, false); err != nil {
			return err
		}
	}

	return nil
}

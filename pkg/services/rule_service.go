// Package services implements the governance workflows: rule lifecycle,
// the change request state machine and deployment publication.
package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/database"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
	"github.com/rulegate-io/rulegate-engine/pkg/repositories"
)

// RuleService provides rule identity access and version ledger operations.
type RuleService interface {
	// CreateRule registers a new draft rule for a fact type. Content does
	// not live on the rule; it arrives later through a change request.
	CreateRule(ctx context.Context, factType, createdBy string) (*models.Rule, error)

	// GetRule returns a rule by id.
	GetRule(ctx context.Context, id int64) (*models.Rule, error)

	// ListRules returns rules filtered by fact type and/or active flag.
	ListRules(ctx context.Context, factType string, active *bool) ([]*models.Rule, error)

	// FactTypes returns the distinct fact types present among rules.
	FactTypes(ctx context.Context) ([]string, error)

	// GetLatestVersion returns the rule's current authoritative version.
	GetLatestVersion(ctx context.Context, ruleID int64) (*models.RuleVersion, error)

	// ListVersions returns the rule's full history, newest first.
	ListVersions(ctx context.Context, ruleID int64) ([]*models.RuleVersion, error)

	// Restore creates a new version whose content is copied from an earlier
	// version of the same rule. History stays append-only; the old row is
	// untouched.
	Restore(ctx context.Context, ruleID, versionID int64, author string) (*models.RuleVersion, error)
}

type ruleService struct {
	db       database.Beginner
	rules    repositories.RuleRepository
	versions repositories.RuleVersionRepository
	logger   *zap.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(
	db database.Beginner,
	rules repositories.RuleRepository,
	versions repositories.RuleVersionRepository,
	logger *zap.Logger,
) RuleService {
	return &ruleService{
		db:       db,
		rules:    rules,
		versions: versions,
		logger:   logger.Named("rule-service"),
	}
}

var _ RuleService = (*ruleService)(nil)

func (s *ruleService) CreateRule(ctx context.Context, factType, createdBy string) (*models.Rule, error) {
	if strings.TrimSpace(factType) == "" {
		return nil, fmt.Errorf("%w: fact type is required", apperrors.ErrValidation)
	}

	rule := &models.Rule{
		FactType:  factType,
		CreatedBy: createdBy,
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("Created draft rule",
		zap.Int64("rule_id", rule.ID),
		zap.String("fact_type", rule.FactType))
	return rule, nil
}

func (s *ruleService) GetRule(ctx context.Context, id int64) (*models.Rule, error) {
	return s.rules.Get(ctx, id)
}

func (s *ruleService) ListRules(ctx context.Context, factType string, active *bool) ([]*models.Rule, error) {
	return s.rules.List(ctx, factType, active)
}

func (s *ruleService) FactTypes(ctx context.Context) ([]string, error) {
	return s.rules.DistinctFactTypes(ctx)
}

func (s *ruleService) GetLatestVersion(ctx context.Context, ruleID int64) (*models.RuleVersion, error) {
	if _, err := s.rules.Get(ctx, ruleID); err != nil {
		return nil, err
	}
	return s.versions.GetLatest(ctx, ruleID)
}

func (s *ruleService) ListVersions(ctx context.Context, ruleID int64) ([]*models.RuleVersion, error) {
	if _, err := s.rules.Get(ctx, ruleID); err != nil {
		return nil, err
	}
	return s.versions.ListVersions(ctx, ruleID)
}

func (s *ruleService) Restore(ctx context.Context, ruleID, versionID int64, author string) (*models.RuleVersion, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	versions := s.versions.WithTx(tx)

	target, err := versions.GetByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if target.RuleID != ruleID {
		return nil, fmt.Errorf("version %d does not belong to rule %d: %w", versionID, ruleID, apperrors.ErrNotFound)
	}

	notes := fmt.Sprintf("Restored from version %d", target.Version)
	restored, err := versions.CreateVersion(ctx, ruleID, target.Content, notes, author)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit restore: %w", err)
	}

	s.logger.Info("Restored rule version",
		zap.Int64("rule_id", ruleID),
		zap.Int("source_version", target.Version),
		zap.Int("new_version", restored.Version))
	return restored, nil
}

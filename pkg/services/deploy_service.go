package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/deploy"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
	"github.com/rulegate-io/rulegate-engine/pkg/repositories"
	"github.com/rulegate-io/rulegate-engine/pkg/retry"
)

// DeployService publishes a fact type's active rule set: it snapshots the
// deployable versions, appends a deployment ledger row and notifies the
// evaluation runtime.
type DeployService interface {
	// Deploy publishes the current active rule set for a fact type. The
	// ledger row is durable even when the runtime notification fails; the
	// returned error then wraps the notifier failure.
	Deploy(ctx context.Context, factType, actor, description string, changes *models.RuleChangeSummary) (*models.Deployment, error)

	// ListDeployments returns the deployment ledger, newest first,
	// optionally filtered by fact type.
	ListDeployments(ctx context.Context, factType string) ([]*models.Deployment, error)
}

type deployService struct {
	versions    repositories.RuleVersionRepository
	deployments repositories.DeploymentRepository
	notifier    deploy.Notifier
	retryCfg    *retry.Config
	logger      *zap.Logger
}

// NewDeployService creates a new DeployService.
func NewDeployService(
	versions repositories.RuleVersionRepository,
	deployments repositories.DeploymentRepository,
	notifier deploy.Notifier,
	retryCfg *retry.Config,
	logger *zap.Logger,
) DeployService {
	return &deployService{
		versions:    versions,
		deployments: deployments,
		notifier:    notifier,
		retryCfg:    retryCfg,
		logger:      logger.Named("deploy-service"),
	}
}

var _ DeployService = (*deployService)(nil)

func (s *deployService) Deploy(ctx context.Context, factType, actor, description string, changes *models.RuleChangeSummary) (*models.Deployment, error) {
	if strings.TrimSpace(factType) == "" {
		return nil, fmt.Errorf("%w: fact type is required", apperrors.ErrValidation)
	}

	versions, err := s.versions.ListLatestActiveByFactType(ctx, factType)
	if err != nil {
		return nil, err
	}

	deployment := &models.Deployment{
		FactType:           factType,
		RulesCount:         len(versions),
		RulesHash:          hashRuleSet(versions),
		RuleIDs:            ruleIDsOf(versions),
		ChangesDescription: description,
		CreatedBy:          actor,
	}
	if changes != nil {
		summary, err := json.Marshal(changes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rule change summary: %w", err)
		}
		deployment.RuleChanges = summary
	}

	// Two deploys racing on the same fact type contend on the
	// (fact_type, version) constraint; retry picks the next version.
	err = retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		return s.deployments.Create(ctx, deployment)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Recorded deployment",
		zap.String("fact_type", factType),
		zap.Int64("version", deployment.Version),
		zap.Int("rules_count", deployment.RulesCount),
		zap.String("rules_hash", deployment.RulesHash))

	notification := deploy.Notification{
		FactType:   factType,
		Version:    deployment.Version,
		RulesCount: deployment.RulesCount,
		RulesHash:  deployment.RulesHash,
		RuleIDs:    deployment.RuleIDs,
	}
	if err := s.notifier.Deploy(ctx, notification); err != nil {
		s.logger.Warn("Runtime notification failed; ledger row is durable",
			zap.String("fact_type", factType),
			zap.Int64("version", deployment.Version),
			zap.Error(err))
		return deployment, fmt.Errorf("failed to notify rule runtime: %w", err)
	}

	return deployment, nil
}

func (s *deployService) ListDeployments(ctx context.Context, factType string) ([]*models.Deployment, error) {
	return s.deployments.List(ctx, factType)
}

// hashRuleSet fingerprints the deployable rule set so unchanged redeploys
// are detectable. Versions arrive ordered by rule id.
func hashRuleSet(versions []*models.RuleVersion) string {
	h := sha256.New()
	for _, v := range versions {
		fmt.Fprintf(h, "%d:%d:", v.RuleID, v.Version)
		h.Write(v.Content)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func ruleIDsOf(versions []*models.RuleVersion) []int64 {
	ids := make([]int64, 0, len(versions))
	for _, v := range versions {
		ids = append(ids, v.RuleID)
	}
	return ids
}

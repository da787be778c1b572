package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
	"github.com/rulegate-io/rulegate-engine/pkg/services"
)

// mockRuleService implements services.RuleService for handler testing.
type mockRuleService struct {
	rules     map[int64]*models.Rule
	versions  map[int64][]*models.RuleVersion
	factTypes []string

	err      error // when set, every method fails with it
	restored *models.RuleVersion
}

var _ services.RuleService = (*mockRuleService)(nil)

func (m *mockRuleService) CreateRule(_ context.Context, factType, createdBy string) (*models.Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Rule{ID: 1, FactType: factType, CreatedBy: createdBy, CreatedAt: time.Now()}, nil
}

func (m *mockRuleService) GetRule(_ context.Context, id int64) (*models.Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	rule, ok := m.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, apperrors.ErrNotFound)
	}
	return rule, nil
}

func (m *mockRuleService) ListRules(_ context.Context, factType string, active *bool) ([]*models.Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	var rules []*models.Rule
	for _, rule := range m.rules {
		if factType != "" && rule.FactType != factType {
			continue
		}
		if active != nil && rule.Active != *active {
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (m *mockRuleService) FactTypes(_ context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.factTypes, nil
}

func (m *mockRuleService) GetLatestVersion(_ context.Context, ruleID int64) (*models.RuleVersion, error) {
	if m.err != nil {
		return nil, m.err
	}
	versions := m.versions[ruleID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("latest version of rule %d: %w", ruleID, apperrors.ErrNotFound)
	}
	return versions[0], nil
}

func (m *mockRuleService) ListVersions(_ context.Context, ruleID int64) ([]*models.RuleVersion, error) {
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.rules[ruleID]; !ok {
		return nil, fmt.Errorf("rule %d: %w", ruleID, apperrors.ErrNotFound)
	}
	return m.versions[ruleID], nil
}

func (m *mockRuleService) Restore(_ context.Context, _, _ int64, _ string) (*models.RuleVersion, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.restored, nil
}

// mockChangeRequestService implements services.ChangeRequestService for
// handler testing.
type mockChangeRequestService struct {
	requests map[int64]*models.ChangeRequest

	createErr  error
	listErr    error
	approveErr error
	rejectErr  error

	// approveResult is returned alongside approveErr to exercise the
	// deployment warning path.
	approveResult *models.ChangeRequest

	lastFilter models.ChangeRequestFilter
}

var _ services.ChangeRequestService = (*mockChangeRequestService)(nil)

func (m *mockChangeRequestService) Create(_ context.Context, cr *models.ChangeRequest) error {
	if m.createErr != nil {
		return m.createErr
	}
	cr.ID = 1
	cr.Status = models.ChangeRequestStatusPending
	cr.CreatedAt = time.Now()
	return nil
}

func (m *mockChangeRequestService) Get(_ context.Context, id int64) (*models.ChangeRequest, error) {
	cr, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("change request %d: %w", id, apperrors.ErrNotFound)
	}
	return cr, nil
}

func (m *mockChangeRequestService) List(_ context.Context, filter models.ChangeRequestFilter) ([]*models.ChangeRequest, error) {
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	var requests []*models.ChangeRequest
	for _, cr := range m.requests {
		requests = append(requests, cr)
	}
	return requests, nil
}

func (m *mockChangeRequestService) Approve(_ context.Context, id int64, approver string) (*models.ChangeRequest, error) {
	if m.approveErr != nil {
		return m.approveResult, m.approveErr
	}
	cr, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("change request %d: %w", id, apperrors.ErrNotFound)
	}
	cr.Status = models.ChangeRequestStatusApproved
	cr.ApprovedBy = &approver
	return cr, nil
}

func (m *mockChangeRequestService) Reject(_ context.Context, id int64, rejecter, reason string) (*models.ChangeRequest, error) {
	if m.rejectErr != nil {
		return nil, m.rejectErr
	}
	cr, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("change request %d: %w", id, apperrors.ErrNotFound)
	}
	cr.Status = models.ChangeRequestStatusRejected
	cr.RejectedBy = &rejecter
	cr.RejectionReason = &reason
	return cr, nil
}

// mockDeployService implements services.DeployService for handler testing.
type mockDeployService struct {
	deployment  *models.Deployment
	deployErr   error
	deployments []*models.Deployment

	lastFactType string
	lastActor    string
}

var _ services.DeployService = (*mockDeployService)(nil)

func (m *mockDeployService) Deploy(_ context.Context, factType, actor, _ string, _ *models.RuleChangeSummary) (*models.Deployment, error) {
	m.lastFactType = factType
	m.lastActor = actor
	return m.deployment, m.deployErr
}

func (m *mockDeployService) ListDeployments(_ context.Context, factType string) ([]*models.Deployment, error) {
	var out []*models.Deployment
	for _, d := range m.deployments {
		if factType != "" && d.FactType != factType {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/database"
	"github.com/rulegate-io/rulegate-engine/pkg/deploy"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
	"github.com/rulegate-io/rulegate-engine/pkg/repositories"
)

// fakeStore is the shared in-memory state behind the fake repositories.
// fakeDB snapshots it at BeginTx and restores it on rollback so the service
// transaction semantics are observable without Postgres.
type fakeStore struct {
	rules          map[int64]*models.Rule
	versions       map[int64]*models.RuleVersion
	changeRequests map[int64]*models.ChangeRequest

	nextRuleID          int64
	nextVersionID       int64
	nextChangeRequestID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules:          make(map[int64]*models.Rule),
		versions:       make(map[int64]*models.RuleVersion),
		changeRequests: make(map[int64]*models.ChangeRequest),
	}
}

func (s *fakeStore) clone() *fakeStore {
	c := newFakeStore()
	c.nextRuleID = s.nextRuleID
	c.nextVersionID = s.nextVersionID
	c.nextChangeRequestID = s.nextChangeRequestID
	for id, r := range s.rules {
		c.rules[id] = copyRule(r)
	}
	for id, v := range s.versions {
		c.versions[id] = copyVersion(v)
	}
	for id, cr := range s.changeRequests {
		c.changeRequests[id] = copyChangeRequest(cr)
	}
	return c
}

func copyRule(r *models.Rule) *models.Rule {
	c := *r
	return &c
}

func copyVersion(v *models.RuleVersion) *models.RuleVersion {
	c := *v
	c.Content = append(json.RawMessage(nil), v.Content...)
	return &c
}

func copyChangeRequest(cr *models.ChangeRequest) *models.ChangeRequest {
	c := *cr
	c.Changes = copyChangeSet(&cr.Changes)
	return &c
}

func copyChangeSet(cs *models.ChangeSet) models.ChangeSet {
	c := models.ChangeSet{
		RulesToAdd:    append([]int64(nil), cs.RulesToAdd...),
		RulesToUpdate: append([]int64(nil), cs.RulesToUpdate...),
		RulesToDelete: append([]int64(nil), cs.RulesToDelete...),
	}
	if cs.Contents != nil {
		c.Contents = make(map[int64]json.RawMessage, len(cs.Contents))
		for id, content := range cs.Contents {
			c.Contents[id] = append(json.RawMessage(nil), content...)
		}
	}
	if cs.Notes != nil {
		c.Notes = make(map[int64]string, len(cs.Notes))
		for id, n := range cs.Notes {
			c.Notes[id] = n
		}
	}
	if cs.BaseVersions != nil {
		c.BaseVersions = make(map[int64]int64, len(cs.BaseVersions))
		for id, v := range cs.BaseVersions {
			c.BaseVersions[id] = v
		}
	}
	return c
}

// fakeDB implements database.Beginner with snapshot-restore transactions.
type fakeDB struct {
	store    *fakeStore
	beginErr error
}

func (db *fakeDB) BeginTx(_ context.Context) (database.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return &fakeTx{store: db.store, snapshot: db.store.clone()}, nil
}

type fakeTx struct {
	store     *fakeStore
	snapshot  *fakeStore
	committed bool
}

func (tx *fakeTx) Commit(_ context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(_ context.Context) error {
	if !tx.committed {
		*tx.store = *tx.snapshot
	}
	return nil
}

func (tx *fakeTx) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (tx *fakeTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, nil
}

func (tx *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return nil
}

// fakeRuleRepo implements repositories.RuleRepository over a fakeStore.
type fakeRuleRepo struct {
	store *fakeStore
}

var _ repositories.RuleRepository = (*fakeRuleRepo)(nil)

func (r *fakeRuleRepo) WithTx(_ database.Querier) repositories.RuleRepository { return r }

func (r *fakeRuleRepo) Create(_ context.Context, rule *models.Rule) error {
	r.store.nextRuleID++
	rule.ID = r.store.nextRuleID
	rule.Active = false
	rule.CreatedAt = time.Now().UTC()
	r.store.rules[rule.ID] = copyRule(rule)
	return nil
}

func (r *fakeRuleRepo) Get(_ context.Context, id int64) (*models.Rule, error) {
	rule, ok := r.store.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, apperrors.ErrNotFound)
	}
	return copyRule(rule), nil
}

func (r *fakeRuleRepo) GetForUpdate(ctx context.Context, id int64) (*models.Rule, error) {
	return r.Get(ctx, id)
}

func (r *fakeRuleRepo) SetActive(_ context.Context, id int64, active bool) error {
	rule, ok := r.store.rules[id]
	if !ok {
		return fmt.Errorf("rule %d: %w", id, apperrors.ErrNotFound)
	}
	rule.Active = active
	return nil
}

func (r *fakeRuleRepo) List(_ context.Context, factType string, active *bool) ([]*models.Rule, error) {
	var rules []*models.Rule
	for _, rule := range r.store.rules {
		if factType != "" && rule.FactType != factType {
			continue
		}
		if active != nil && rule.Active != *active {
			continue
		}
		rules = append(rules, copyRule(rule))
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (r *fakeRuleRepo) DistinctFactTypes(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var factTypes []string
	for _, rule := range r.store.rules {
		if !seen[rule.FactType] {
			seen[rule.FactType] = true
			factTypes = append(factTypes, rule.FactType)
		}
	}
	sort.Strings(factTypes)
	return factTypes, nil
}

// fakeVersionRepo implements repositories.RuleVersionRepository over a
// fakeStore, preserving the single-latest invariant.
type fakeVersionRepo struct {
	store *fakeStore

	// createErrs queues errors returned by successive CreateVersion calls.
	createErrs []error
}

var _ repositories.RuleVersionRepository = (*fakeVersionRepo)(nil)

func (r *fakeVersionRepo) WithTx(_ database.Querier) repositories.RuleVersionRepository { return r }

func (r *fakeVersionRepo) GetLatest(_ context.Context, ruleID int64) (*models.RuleVersion, error) {
	for _, v := range r.store.versions {
		if v.RuleID == ruleID && v.IsLatest {
			return copyVersion(v), nil
		}
	}
	return nil, fmt.Errorf("latest version of rule %d: %w", ruleID, apperrors.ErrNotFound)
}

func (r *fakeVersionRepo) GetByID(_ context.Context, versionID int64) (*models.RuleVersion, error) {
	v, ok := r.store.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("rule version %d: %w", versionID, apperrors.ErrNotFound)
	}
	return copyVersion(v), nil
}

func (r *fakeVersionRepo) ListVersions(_ context.Context, ruleID int64) ([]*models.RuleVersion, error) {
	var versions []*models.RuleVersion
	for _, v := range r.store.versions {
		if v.RuleID == ruleID {
			versions = append(versions, copyVersion(v))
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version > versions[j].Version })
	return versions, nil
}

func (r *fakeVersionRepo) CreateVersion(_ context.Context, ruleID int64, content json.RawMessage, notes, author string) (*models.RuleVersion, error) {
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if _, ok := r.store.rules[ruleID]; !ok {
		return nil, fmt.Errorf("rule %d: %w", ruleID, apperrors.ErrNotFound)
	}

	maxVersion := 0
	for _, v := range r.store.versions {
		if v.RuleID == ruleID {
			if v.IsLatest {
				v.IsLatest = false
			}
			if v.Version > maxVersion {
				maxVersion = v.Version
			}
		}
	}

	r.store.nextVersionID++
	version := &models.RuleVersion{
		ID:           r.store.nextVersionID,
		RuleID:       ruleID,
		Version:      maxVersion + 1,
		Content:      append(json.RawMessage(nil), content...),
		VersionNotes: notes,
		IsLatest:     true,
		UpdatedAt:    time.Now().UTC(),
		UpdatedBy:    author,
	}
	r.store.versions[version.ID] = version
	return copyVersion(version), nil
}

func (r *fakeVersionRepo) ListLatestActiveByFactType(_ context.Context, factType string) ([]*models.RuleVersion, error) {
	var versions []*models.RuleVersion
	for _, v := range r.store.versions {
		rule, ok := r.store.rules[v.RuleID]
		if !ok || !rule.Active || rule.FactType != factType || !v.IsLatest {
			continue
		}
		versions = append(versions, copyVersion(v))
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].RuleID < versions[j].RuleID })
	return versions, nil
}

// fakeChangeRequestRepo implements repositories.ChangeRequestRepository with
// the same compare-and-set transition semantics as the Postgres version.
type fakeChangeRequestRepo struct {
	store *fakeStore
}

var _ repositories.ChangeRequestRepository = (*fakeChangeRequestRepo)(nil)

func (r *fakeChangeRequestRepo) WithTx(_ database.Querier) repositories.ChangeRequestRepository {
	return r
}

func (r *fakeChangeRequestRepo) Create(_ context.Context, cr *models.ChangeRequest) error {
	r.store.nextChangeRequestID++
	cr.ID = r.store.nextChangeRequestID
	cr.Status = models.ChangeRequestStatusPending
	cr.CreatedAt = time.Now().UTC()
	r.store.changeRequests[cr.ID] = copyChangeRequest(cr)
	return nil
}

func (r *fakeChangeRequestRepo) GetByID(_ context.Context, id int64) (*models.ChangeRequest, error) {
	cr, ok := r.store.changeRequests[id]
	if !ok {
		return nil, fmt.Errorf("change request %d: %w", id, apperrors.ErrNotFound)
	}
	return copyChangeRequest(cr), nil
}

func (r *fakeChangeRequestRepo) List(_ context.Context, filter models.ChangeRequestFilter) ([]*models.ChangeRequest, error) {
	var requests []*models.ChangeRequest
	for _, cr := range r.store.changeRequests {
		if filter.FactType != "" && cr.FactType != filter.FactType {
			continue
		}
		if filter.Status != "" && cr.Status != filter.Status {
			continue
		}
		requests = append(requests, copyChangeRequest(cr))
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID > requests[j].ID })
	return requests, nil
}

func (r *fakeChangeRequestRepo) Approve(_ context.Context, id int64, approver string, at time.Time) (bool, error) {
	cr, ok := r.store.changeRequests[id]
	if !ok || cr.Status != models.ChangeRequestStatusPending {
		return false, nil
	}
	cr.Status = models.ChangeRequestStatusApproved
	cr.ApprovedBy = &approver
	cr.ApprovedDate = &at
	return true, nil
}

func (r *fakeChangeRequestRepo) Reject(_ context.Context, id int64, rejecter, reason string, at time.Time) (bool, error) {
	cr, ok := r.store.changeRequests[id]
	if !ok || cr.Status != models.ChangeRequestStatusPending {
		return false, nil
	}
	cr.Status = models.ChangeRequestStatusRejected
	cr.RejectedBy = &rejecter
	cr.RejectedDate = &at
	cr.RejectionReason = &reason
	return true, nil
}

// fakeDeploymentRepo implements repositories.DeploymentRepository with
// per-fact-type version numbering and optional injected conflicts.
type fakeDeploymentRepo struct {
	deployments []*models.Deployment
	nextID      int64

	// conflictsRemaining makes the next N Create calls fail with ErrConflict.
	conflictsRemaining int
}

var _ repositories.DeploymentRepository = (*fakeDeploymentRepo)(nil)

func (r *fakeDeploymentRepo) WithTx(_ database.Querier) repositories.DeploymentRepository { return r }

func (r *fakeDeploymentRepo) Create(_ context.Context, d *models.Deployment) error {
	if r.conflictsRemaining > 0 {
		r.conflictsRemaining--
		return fmt.Errorf("concurrent deployment of fact type %q: %w", d.FactType, apperrors.ErrConflict)
	}

	var maxVersion int64
	for _, existing := range r.deployments {
		if existing.FactType == d.FactType && existing.Version > maxVersion {
			maxVersion = existing.Version
		}
	}
	r.nextID++
	d.ID = r.nextID
	d.Version = maxVersion + 1
	d.CreatedAt = time.Now().UTC()

	stored := *d
	r.deployments = append(r.deployments, &stored)
	return nil
}

func (r *fakeDeploymentRepo) List(_ context.Context, factType string) ([]*models.Deployment, error) {
	var out []*models.Deployment
	for i := len(r.deployments) - 1; i >= 0; i-- {
		d := r.deployments[i]
		if factType != "" && d.FactType != factType {
			continue
		}
		copied := *d
		out = append(out, &copied)
	}
	return out, nil
}

// recordingNotifier captures notifications and optionally fails.
type recordingNotifier struct {
	notifications []deploy.Notification
	err           error
}

var _ deploy.Notifier = (*recordingNotifier)(nil)

func (n *recordingNotifier) Deploy(_ context.Context, notification deploy.Notification) error {
	n.notifications = append(n.notifications, notification)
	return n.err
}

// mockDeployService satisfies DeployService for change request tests.
type mockDeployService struct {
	deployErr error
	calls     []mockDeployCall
}

type mockDeployCall struct {
	FactType string
	Actor    string
	Changes  *models.RuleChangeSummary
}

var _ DeployService = (*mockDeployService)(nil)

func (m *mockDeployService) Deploy(_ context.Context, factType, actor, _ string, changes *models.RuleChangeSummary) (*models.Deployment, error) {
	m.calls = append(m.calls, mockDeployCall{FactType: factType, Actor: actor, Changes: changes})
	if m.deployErr != nil {
		return nil, m.deployErr
	}
	return &models.Deployment{FactType: factType, Version: int64(len(m.calls))}, nil
}

func (m *mockDeployService) ListDeployments(_ context.Context, _ string) ([]*models.Deployment, error) {
	return nil, nil
}

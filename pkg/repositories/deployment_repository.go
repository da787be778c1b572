package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/database"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
)

// DeploymentRepository records every publication of a fact type's rule set.
type DeploymentRepository interface {
	// WithTx returns a copy of the repository bound to the given transaction.
	WithTx(q database.Querier) DeploymentRepository

	// Create inserts a deployment row with version = previous max + 1 for
	// the fact type. Racing writers surface apperrors.ErrConflict.
	Create(ctx context.Context, d *models.Deployment) error

	// List returns deployments, newest first, optionally filtered by fact type.
	List(ctx context.Context, factType string) ([]*models.Deployment, error)
}

type deploymentRepository struct {
	q database.Querier
}

// NewDeploymentRepository creates a new DeploymentRepository backed by the
// given pool.
func NewDeploymentRepository(q database.Querier) DeploymentRepository {
	return &deploymentRepository{q: q}
}

var _ DeploymentRepository = (*deploymentRepository)(nil)

func (r *deploymentRepository) WithTx(q database.Querier) DeploymentRepository {
	return &deploymentRepository{q: q}
}

func (r *deploymentRepository) Create(ctx context.Context, d *models.Deployment) error {
	query := `
		INSERT INTO deployments (fact_type, version, rules_count, rules_hash, rule_ids,
		                         changes_description, rule_changes, created_by)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, $6, $7
		FROM deployments
		WHERE fact_type = $1
		RETURNING id, version, created_at`

	var ruleChanges any
	if len(d.RuleChanges) > 0 {
		ruleChanges = []byte(d.RuleChanges)
	}

	err := r.q.QueryRow(ctx, query,
		d.FactType,
		d.RulesCount,
		d.RulesHash,
		d.RuleIDs,
		nullableString(d.ChangesDescription),
		ruleChanges,
		nullableString(d.CreatedBy),
	).Scan(&d.ID, &d.Version, &d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("concurrent deployment of fact type %q: %w", d.FactType, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to record deployment: %w", err)
	}
	return nil
}

func (r *deploymentRepository) List(ctx context.Context, factType string) ([]*models.Deployment, error) {
	query := `
		SELECT id, fact_type, version, rules_count, rules_hash, rule_ids,
		       COALESCE(changes_description, ''), rule_changes, created_at, COALESCE(created_by, '')
		FROM deployments
		WHERE ($1 = '' OR fact_type = $1)
		ORDER BY created_at DESC, id DESC`

	rows, err := r.q.Query(ctx, query, factType)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []*models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}
	return deployments, nil
}

func scanDeployment(row pgx.Row) (*models.Deployment, error) {
	var d models.Deployment
	var ruleChanges []byte
	err := row.Scan(&d.ID, &d.FactType, &d.Version, &d.RulesCount, &d.RulesHash,
		&d.RuleIDs, &d.ChangesDescription, &ruleChanges, &d.CreatedAt, &d.CreatedBy)
	if err != nil {
		return nil, err
	}
	if len(ruleChanges) > 0 {
		d.RuleChanges = ruleChanges
	}
	return &d, nil
}

package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/database"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
)

// RuleRepository provides data access for rule identities.
type RuleRepository interface {
	// WithTx returns a copy of the repository bound to the given transaction.
	WithTx(q database.Querier) RuleRepository

	// Create inserts a new draft rule (active = false).
	Create(ctx context.Context, rule *models.Rule) error

	// Get returns a rule by id, or apperrors.ErrNotFound.
	Get(ctx context.Context, id int64) (*models.Rule, error)

	// GetForUpdate locks the rule row for the duration of the surrounding
	// transaction. Meaningful only when the repository is bound to a tx.
	GetForUpdate(ctx context.Context, id int64) (*models.Rule, error)

	// SetActive flips the active flag. Idempotent; setting an already
	// matching value is a no-op, not an error.
	SetActive(ctx context.Context, id int64, active bool) error

	// List returns rules filtered by fact type and/or active flag.
	// Empty factType and nil active match everything.
	List(ctx context.Context, factType string, active *bool) ([]*models.Rule, error)

	// DistinctFactTypes returns the fact types present among rules.
	DistinctFactTypes(ctx context.Context) ([]string, error)
}

type ruleRepository struct {
	q database.Querier
}

// NewRuleRepository creates a new RuleRepository backed by the given pool.
func NewRuleRepository(q database.Querier) RuleRepository {
	return &ruleRepository{q: q}
}

var _ RuleRepository = (*ruleRepository)(nil)

func (r *ruleRepository) WithTx(q database.Querier) RuleRepository {
	return &ruleRepository{q: q}
}

func (r *ruleRepository) Create(ctx context.Context, rule *models.Rule) error {
	query := `
		INSERT INTO rules (fact_type, active, created_by)
		VALUES ($1, FALSE, $2)
		RETURNING id, active, created_at`

	err := r.q.QueryRow(ctx, query, rule.FactType, nullableString(rule.CreatedBy)).
		Scan(&rule.ID, &rule.Active, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *ruleRepository) Get(ctx context.Context, id int64) (*models.Rule, error) {
	return r.get(ctx, id, "")
}

func (r *ruleRepository) GetForUpdate(ctx context.Context, id int64) (*models.Rule, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *ruleRepository) get(ctx context.Context, id int64, suffix string) (*models.Rule, error) {
	query := `
		SELECT id, fact_type, active, created_at, COALESCE(created_by, '')
		FROM rules
		WHERE id = $1` + suffix

	var rule models.Rule
	err := r.q.QueryRow(ctx, query, id).Scan(
		&rule.ID, &rule.FactType, &rule.Active, &rule.CreatedAt, &rule.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rule %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule %d: %w", id, err)
	}
	return &rule, nil
}

func (r *ruleRepository) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := r.q.Exec(ctx, `UPDATE rules SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to set rule %d active=%t: %w", id, active, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("rule %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *ruleRepository) List(ctx context.Context, factType string, active *bool) ([]*models.Rule, error) {
	query := `
		SELECT id, fact_type, active, created_at, COALESCE(created_by, '')
		FROM rules
		WHERE ($1 = '' OR fact_type = $1)
		  AND ($2::boolean IS NULL OR active = $2)
		ORDER BY id`

	rows, err := r.q.Query(ctx, query, factType, active)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		var rule models.Rule
		if err := rows.Scan(&rule.ID, &rule.FactType, &rule.Active, &rule.CreatedAt, &rule.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

func (r *ruleRepository) DistinctFactTypes(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT fact_type FROM rules ORDER BY fact_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fact types: %w", err)
	}
	defer rows.Close()

	var factTypes []string
	for rows.Next() {
		var ft string
		if err := rows.Scan(&ft); err != nil {
			return nil, fmt.Errorf("failed to scan fact type: %w", err)
		}
		factTypes = append(factTypes, ft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fact types: %w", err)
	}
	return factTypes, nil
}

package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/database"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
)

// RuleVersionRepository is the append-only version ledger. Versions are
// created, never updated or deleted; exactly one row per rule carries
// is_latest at any time.
type RuleVersionRepository interface {
	// WithTx returns a copy of the repository bound to the given transaction.
	WithTx(q database.Querier) RuleVersionRepository

	// GetLatest returns the latest version for a rule, or apperrors.ErrNotFound
	// when the rule has no versions.
	GetLatest(ctx context.Context, ruleID int64) (*models.RuleVersion, error)

	// GetByID returns a version row by its own id.
	GetByID(ctx context.Context, versionID int64) (*models.RuleVersion, error)

	// ListVersions returns a rule's full history, newest first.
	ListVersions(ctx context.Context, ruleID int64) ([]*models.RuleVersion, error)

	// CreateVersion atomically retires the current latest row and inserts a
	// new one with version = previous max + 1. Concurrent writers racing on
	// the same rule surface apperrors.ErrConflict. Callers that need the
	// per-rule lock to span further statements must run inside a transaction.
	CreateVersion(ctx context.Context, ruleID int64, content json.RawMessage, notes, author string) (*models.RuleVersion, error)

	// ListLatestActiveByFactType returns the latest version of every active
	// rule for a fact type, ordered by rule id. This is the deployable set.
	ListLatestActiveByFactType(ctx context.Context, factType string) ([]*models.RuleVersion, error)
}

type ruleVersionRepository struct {
	q database.Querier
}

// NewRuleVersionRepository creates a new RuleVersionRepository backed by the
// given pool.
func NewRuleVersionRepository(q database.Querier) RuleVersionRepository {
	return &ruleVersionRepository{q: q}
}

var _ RuleVersionRepository = (*ruleVersionRepository)(nil)

func (r *ruleVersionRepository) WithTx(q database.Querier) RuleVersionRepository {
	return &ruleVersionRepository{q: q}
}

const ruleVersionColumns = `id, rule_id, version, content, COALESCE(version_notes, ''), is_latest, updated_at, COALESCE(updated_by, '')`

func (r *ruleVersionRepository) GetLatest(ctx context.Context, ruleID int64) (*models.RuleVersion, error) {
	query := `
		SELECT ` + ruleVersionColumns + `
		FROM rule_versions
		WHERE rule_id = $1 AND is_latest`

	version, err := scanRuleVersion(r.q.QueryRow(ctx, query, ruleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("latest version of rule %d: %w", ruleID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest version of rule %d: %w", ruleID, err)
	}
	return version, nil
}

func (r *ruleVersionRepository) GetByID(ctx context.Context, versionID int64) (*models.RuleVersion, error) {
	query := `
		SELECT ` + ruleVersionColumns + `
		FROM rule_versions
		WHERE id = $1`

	version, err := scanRuleVersion(r.q.QueryRow(ctx, query, versionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rule version %d: %w", versionID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule version %d: %w", versionID, err)
	}
	return version, nil
}

func (r *ruleVersionRepository) ListVersions(ctx context.Context, ruleID int64) ([]*models.RuleVersion, error) {
	query := `
		SELECT ` + ruleVersionColumns + `
		FROM rule_versions
		WHERE rule_id = $1
		ORDER BY version DESC`

	rows, err := r.q.Query(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of rule %d: %w", ruleID, err)
	}
	defer rows.Close()

	return scanRuleVersions(rows)
}

func (r *ruleVersionRepository) CreateVersion(ctx context.Context, ruleID int64, content json.RawMessage, notes, author string) (*models.RuleVersion, error) {
	// Lock the owning rule row to serialize version creation per rule.
	var lockedID int64
	err := r.q.QueryRow(ctx, `SELECT id FROM rules WHERE id = $1 FOR UPDATE`, ruleID).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rule %d: %w", ruleID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock rule %d: %w", ruleID, err)
	}

	if _, err := r.q.Exec(ctx,
		`UPDATE rule_versions SET is_latest = FALSE WHERE rule_id = $1 AND is_latest`, ruleID); err != nil {
		return nil, fmt.Errorf("failed to retire latest version of rule %d: %w", ruleID, err)
	}

	query := `
		INSERT INTO rule_versions (rule_id, version, content, version_notes, is_latest, updated_by)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, TRUE, $4
		FROM rule_versions
		WHERE rule_id = $1
		RETURNING ` + ruleVersionColumns

	version, err := scanRuleVersion(r.q.QueryRow(ctx, query, ruleID, content, nullableString(notes), nullableString(author)))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("concurrent version write on rule %d: %w", ruleID, apperrors.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create version for rule %d: %w", ruleID, err)
	}
	return version, nil
}

func (r *ruleVersionRepository) ListLatestActiveByFactType(ctx context.Context, factType string) ([]*models.RuleVersion, error) {
	query := `
		SELECT v.id, v.rule_id, v.version, v.content, COALESCE(v.version_notes, ''),
		       v.is_latest, v.updated_at, COALESCE(v.updated_by, '')
		FROM rule_versions v
		JOIN rules r ON r.id = v.rule_id
		WHERE r.fact_type = $1 AND r.active AND v.is_latest
		ORDER BY v.rule_id`

	rows, err := r.q.Query(ctx, query, factType)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployable versions for %q: %w", factType, err)
	}
	defer rows.Close()

	return scanRuleVersions(rows)
}

func scanRuleVersion(row pgx.Row) (*models.RuleVersion, error) {
	var v models.RuleVersion
	err := row.Scan(&v.ID, &v.RuleID, &v.Version, &v.Content, &v.VersionNotes,
		&v.IsLatest, &v.UpdatedAt, &v.UpdatedBy)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func scanRuleVersions(rows pgx.Rows) ([]*models.RuleVersion, error) {
	var versions []*models.RuleVersion
	for rows.Next() {
		version, err := scanRuleVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule versions: %w", err)
	}
	return versions, nil
}

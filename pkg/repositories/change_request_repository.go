package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/database"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
)

// ChangeRequestRepository persists change requests. Status transitions go
// through the compare-and-set Approve/Reject methods so two racing
// resolutions can never both win.
type ChangeRequestRepository interface {
	// WithTx returns a copy of the repository bound to the given transaction.
	WithTx(q database.Querier) ChangeRequestRepository

	// Create inserts a new change request with status Pending.
	Create(ctx context.Context, cr *models.ChangeRequest) error

	// GetByID returns a change request, or apperrors.ErrNotFound.
	GetByID(ctx context.Context, id int64) (*models.ChangeRequest, error)

	// List returns change requests matching the filter, newest first.
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]*models.ChangeRequest, error)

	// Approve compare-and-sets status from Pending to Approved and stamps
	// the audit fields. Returns false when no Pending row matched.
	Approve(ctx context.Context, id int64, approver string, at time.Time) (bool, error)

	// Reject compare-and-sets status from Pending to Rejected and stamps
	// the audit fields. Returns false when no Pending row matched.
	Reject(ctx context.Context, id int64, rejecter, reason string, at time.Time) (bool, error)
}

type changeRequestRepository struct {
	q database.Querier
}

// NewChangeRequestRepository creates a new ChangeRequestRepository backed by
// the given pool.
func NewChangeRequestRepository(q database.Querier) ChangeRequestRepository {
	return &changeRequestRepository{q: q}
}

var _ ChangeRequestRepository = (*changeRequestRepository)(nil)

func (r *changeRequestRepository) WithTx(q database.Querier) ChangeRequestRepository {
	return &changeRequestRepository{q: q}
}

const changeRequestColumns = `id, fact_type, title, COALESCE(description, ''), status, changes,
	created_at, COALESCE(created_by, ''),
	approved_by, approved_date, rejected_by, rejected_date, rejection_reason`

func (r *changeRequestRepository) Create(ctx context.Context, cr *models.ChangeRequest) error {
	changes, err := json.Marshal(cr.Changes)
	if err != nil {
		return fmt.Errorf("failed to marshal change set: %w", err)
	}

	query := `
		INSERT INTO change_requests (fact_type, title, description, status, changes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err = r.q.QueryRow(ctx, query,
		cr.FactType,
		cr.Title,
		nullableString(cr.Description),
		models.ChangeRequestStatusPending,
		changes,
		nullableString(cr.CreatedBy),
	).Scan(&cr.ID, &cr.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create change request: %w", err)
	}

	cr.Status = models.ChangeRequestStatusPending
	return nil
}

func (r *changeRequestRepository) GetByID(ctx context.Context, id int64) (*models.ChangeRequest, error) {
	query := `SELECT ` + changeRequestColumns + ` FROM change_requests WHERE id = $1`

	cr, err := scanChangeRequest(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("change request %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get change request %d: %w", id, err)
	}
	return cr, nil
}

func (r *changeRequestRepository) List(ctx context.Context, filter models.ChangeRequestFilter) ([]*models.ChangeRequest, error) {
	query := `
		SELECT ` + changeRequestColumns + `
		FROM change_requests
		WHERE ($1 = '' OR fact_type = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC`

	rows, err := r.q.Query(ctx, query, filter.FactType, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to list change requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.ChangeRequest
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change request: %w", err)
		}
		requests = append(requests, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change requests: %w", err)
	}
	return requests, nil
}

func (r *changeRequestRepository) Approve(ctx context.Context, id int64, approver string, at time.Time) (bool, error) {
	query := `
		UPDATE change_requests
		SET status = $2, approved_by = $3, approved_date = $4
		WHERE id = $1 AND status = $5`

	result, err := r.q.Exec(ctx, query, id,
		models.ChangeRequestStatusApproved, approver, at, models.ChangeRequestStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to approve change request %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *changeRequestRepository) Reject(ctx context.Context, id int64, rejecter, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE change_requests
		SET status = $2, rejected_by = $3, rejected_date = $4, rejection_reason = $5
		WHERE id = $1 AND status = $6`

	result, err := r.q.Exec(ctx, query, id,
		models.ChangeRequestStatusRejected, rejecter, at, reason, models.ChangeRequestStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to reject change request %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

func scanChangeRequest(row pgx.Row) (*models.ChangeRequest, error) {
	var cr models.ChangeRequest
	var changes []byte
	err := row.Scan(
		&cr.ID, &cr.FactType, &cr.Title, &cr.Description, &cr.Status, &changes,
		&cr.CreatedAt, &cr.CreatedBy,
		&cr.ApprovedBy, &cr.ApprovedDate, &cr.RejectedBy, &cr.RejectedDate, &cr.RejectionReason,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(changes, &cr.Changes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change set: %w", err)
	}
	return &cr, nil
}

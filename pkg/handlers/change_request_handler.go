package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
	"github.com/rulegate-io/rulegate-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateChangeRequestRequest for POST /api/change-requests
type CreateChangeRequestRequest struct {
	FactType    string           `json:"factType"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	RequestedBy string           `json:"requestedBy,omitempty"`
	Changes     ChangeSetRequest `json:"changes"`
}

// ChangeSetRequest carries the three id buckets plus optional per-rule
// content and notes, keyed by rule id.
type ChangeSetRequest struct {
	RulesToAdd    []int64                   `json:"rulesToAdd"`
	RulesToUpdate []int64                   `json:"rulesToUpdate"`
	RulesToDelete []int64                   `json:"rulesToDelete"`
	Contents      map[int64]json.RawMessage `json:"contents,omitempty"`
	Notes         map[int64]string          `json:"notes,omitempty"`
}

// ApproveChangeRequestRequest for POST /api/change-requests/{crid}/approve
type ApproveChangeRequestRequest struct {
	ApprovedBy string `json:"approvedBy"`
}

// RejectChangeRequestRequest for POST /api/change-requests/{crid}/reject
type RejectChangeRequestRequest struct {
	RejectedBy      string `json:"rejectedBy"`
	RejectionReason string `json:"rejectionReason"`
}

// ChangeRequestListResponse for GET /api/change-requests
type ChangeRequestListResponse struct {
	ChangeRequests []*models.ChangeRequest `json:"change_requests"`
	Total          int                     `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// ChangeRequestHandler handles change request HTTP requests.
type ChangeRequestHandler struct {
	changeRequestService services.ChangeRequestService
	logger               *zap.Logger
}

// NewChangeRequestHandler creates a new change request handler.
func NewChangeRequestHandler(
	changeRequestService services.ChangeRequestService,
	logger *zap.Logger,
) *ChangeRequestHandler {
	return &ChangeRequestHandler{
		changeRequestService: changeRequestService,
		logger:               logger,
	}
}

// RegisterRoutes registers the change request handler's routes on the given mux.
func (h *ChangeRequestHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/change-requests"

	mux.HandleFunc("POST "+base, h.Create)
	mux.HandleFunc("GET "+base, h.List)
	mux.HandleFunc("GET "+base+"/{crid}", h.Get)
	mux.HandleFunc("POST "+base+"/{crid}/approve", h.Approve)
	mux.HandleFunc("POST "+base+"/{crid}/reject", h.Reject)
}

// Create handles POST /api/change-requests
func (h *ChangeRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateChangeRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	cr := &models.ChangeRequest{
		FactType:    req.FactType,
		Title:       req.Title,
		Description: req.Description,
		CreatedBy:   req.RequestedBy,
		Changes: models.ChangeSet{
			RulesToAdd:    req.Changes.RulesToAdd,
			RulesToUpdate: req.Changes.RulesToUpdate,
			RulesToDelete: req.Changes.RulesToDelete,
			Contents:      req.Changes.Contents,
			Notes:         req.Changes.Notes,
		},
	}

	if err := h.changeRequestService.Create(r.Context(), cr); err != nil {
		h.logger.Error("Failed to create change request",
			zap.String("fact_type", req.FactType),
			zap.String("title", req.Title),
			zap.Error(err))
		WriteDomainError(w, err, "create_change_request_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: cr}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/change-requests
func (h *ChangeRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := models.ChangeRequestFilter{
		FactType: r.URL.Query().Get("factType"),
		Status:   r.URL.Query().Get("status"),
	}

	requests, err := h.changeRequestService.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list change requests", zap.Error(err))
		WriteDomainError(w, err, "list_change_requests_failed", h.logger)
		return
	}

	response := ChangeRequestListResponse{
		ChangeRequests: requests,
		Total:          len(requests),
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/change-requests/{crid}
func (h *ChangeRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseChangeRequestID(w, r, h.logger)
	if !ok {
		return
	}

	cr, err := h.changeRequestService.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Error("Failed to get change request",
				zap.Int64("change_request_id", id),
				zap.Error(err))
		}
		WriteDomainError(w, err, "get_change_request_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: cr}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Approve handles POST /api/change-requests/{crid}/approve
func (h *ChangeRequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseChangeRequestID(w, r, h.logger)
	if !ok {
		return
	}

	var req ApproveChangeRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	cr, err := h.changeRequestService.Approve(r.Context(), id, req.ApprovedBy)
	if err != nil {
		// The approval itself is durable when only the downstream
		// deployment failed; report success with the warning attached.
		var warning *apperrors.DeploymentWarning
		if errors.As(err, &warning) && cr != nil {
			if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: cr, Message: warning.Error()}); err != nil {
				h.logger.Error("Failed to write response", zap.Error(err))
			}
			return
		}

		h.logger.Error("Failed to approve change request",
			zap.Int64("change_request_id", id),
			zap.Error(err))
		WriteDomainError(w, err, "approve_change_request_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: cr}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Reject handles POST /api/change-requests/{crid}/reject
func (h *ChangeRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseChangeRequestID(w, r, h.logger)
	if !ok {
		return
	}

	var req RejectChangeRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	cr, err := h.changeRequestService.Reject(r.Context(), id, req.RejectedBy, req.RejectionReason)
	if err != nil {
		h.logger.Error("Failed to reject change request",
			zap.Int64("change_request_id", id),
			zap.Error(err))
		WriteDomainError(w, err, "reject_change_request_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: cr}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

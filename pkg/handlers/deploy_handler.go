package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
	"github.com/rulegate-io/rulegate-engine/pkg/services"
)

// DeploymentListResponse for GET /api/deployments
type DeploymentListResponse struct {
	Deployments []*models.Deployment `json:"deployments"`
	Total       int                  `json:"total"`
}

// DeployHandler handles manual deploys and the deployment ledger.
type DeployHandler struct {
	deployService services.DeployService
	logger        *zap.Logger
}

// NewDeployHandler creates a new deploy handler.
func NewDeployHandler(deployService services.DeployService, logger *zap.Logger) *DeployHandler {
	return &DeployHandler{
		deployService: deployService,
		logger:        logger,
	}
}

// RegisterRoutes registers the deploy handler's routes on the given mux.
func (h *DeployHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rules/deploy", h.Deploy)
	mux.HandleFunc("GET /api/deployments", h.List)
}

// Deploy handles POST /api/rules/deploy
// Re-publishes the current active rule set for a fact type without an
// approval, e.g. after a runtime restart or a failed post-approval publish.
func (h *DeployHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	factType := r.URL.Query().Get("factType")
	actor := r.URL.Query().Get("deployedBy")

	deployment, err := h.deployService.Deploy(r.Context(), factType, actor, "Manual deploy", nil)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			WriteDomainError(w, err, "deploy_failed", h.logger)
			return
		}

		h.logger.Error("Manual deploy failed",
			zap.String("fact_type", factType),
			zap.Error(err))

		// Ledger row recorded but the runtime rejected the publish.
		if deployment != nil {
			if err := ErrorResponse(w, http.StatusBadGateway, "deploy_notification_failed", err.Error()); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		WriteDomainError(w, err, "deploy_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: deployment}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/deployments
func (h *DeployHandler) List(w http.ResponseWriter, r *http.Request) {
	factType := r.URL.Query().Get("factType")

	deployments, err := h.deployService.ListDeployments(r.Context(), factType)
	if err != nil {
		h.logger.Error("Failed to list deployments", zap.Error(err))
		WriteDomainError(w, err, "list_deployments_failed", h.logger)
		return
	}

	response := DeploymentListResponse{
		Deployments: deployments,
		Total:       len(deployments),
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
	"github.com/rulegate-io/rulegate-engine/pkg/models"
	"github.com/rulegate-io/rulegate-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateRuleRequest for POST /api/rules
type CreateRuleRequest struct {
	FactType  string `json:"factType"`
	CreatedBy string `json:"createdBy,omitempty"`
}

// RestoreVersionRequest for POST /api/rules/{rid}/versions/restore
type RestoreVersionRequest struct {
	VersionID  int64  `json:"versionId"`
	RestoredBy string `json:"restoredBy,omitempty"`
}

// RuleListResponse for GET /api/rules
type RuleListResponse struct {
	Rules []*models.Rule `json:"rules"`
	Total int            `json:"total"`
}

// VersionListResponse for GET /api/rules/{rid}/versions
type VersionListResponse struct {
	Versions []*models.RuleVersion `json:"versions"`
	Total    int                   `json:"total"`
}

// FactTypeListResponse for GET /api/fact-types
type FactTypeListResponse struct {
	FactTypes []string `json:"fact_types"`
}

// ============================================================================
// Handler
// ============================================================================

// RuleHandler handles rule and version ledger HTTP requests.
type RuleHandler struct {
	ruleService services.RuleService
	logger      *zap.Logger
}

// NewRuleHandler creates a new rule handler.
func NewRuleHandler(ruleService services.RuleService, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{
		ruleService: ruleService,
		logger:      logger,
	}
}

// RegisterRoutes registers the rule handler's routes on the given mux.
func (h *RuleHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rules", h.Create)
	mux.HandleFunc("GET /api/rules", h.List)
	mux.HandleFunc("GET /api/rules/{rid}", h.Get)
	mux.HandleFunc("GET /api/rules/{rid}/versions", h.ListVersions)
	mux.HandleFunc("GET /api/rules/{rid}/versions/latest", h.GetLatestVersion)
	mux.HandleFunc("POST /api/rules/{rid}/versions/restore", h.RestoreVersion)
	mux.HandleFunc("GET /api/fact-types", h.FactTypes)
}

// Create handles POST /api/rules
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rule, err := h.ruleService.CreateRule(r.Context(), req.FactType, req.CreatedBy)
	if err != nil {
		h.logger.Error("Failed to create rule",
			zap.String("fact_type", req.FactType),
			zap.Error(err))
		WriteDomainError(w, err, "create_rule_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: rule}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/rules
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	factType := r.URL.Query().Get("factType")

	var active *bool
	if activeStr := r.URL.Query().Get("active"); activeStr != "" {
		parsed, err := strconv.ParseBool(activeStr)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid active filter"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		active = &parsed
	}

	rules, err := h.ruleService.ListRules(r.Context(), factType, active)
	if err != nil {
		h.logger.Error("Failed to list rules", zap.Error(err))
		WriteDomainError(w, err, "list_rules_failed", h.logger)
		return
	}

	response := RuleListResponse{
		Rules: rules,
		Total: len(rules),
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/rules/{rid}
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseRuleID(w, r, h.logger)
	if !ok {
		return
	}

	rule, err := h.ruleService.GetRule(r.Context(), id)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Error("Failed to get rule", zap.Int64("rule_id", id), zap.Error(err))
		}
		WriteDomainError(w, err, "get_rule_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rule}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListVersions handles GET /api/rules/{rid}/versions
func (h *RuleHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseRuleID(w, r, h.logger)
	if !ok {
		return
	}

	versions, err := h.ruleService.ListVersions(r.Context(), id)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Error("Failed to list rule versions", zap.Int64("rule_id", id), zap.Error(err))
		}
		WriteDomainError(w, err, "list_rule_versions_failed", h.logger)
		return
	}

	response := VersionListResponse{
		Versions: versions,
		Total:    len(versions),
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetLatestVersion handles GET /api/rules/{rid}/versions/latest
func (h *RuleHandler) GetLatestVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseRuleID(w, r, h.logger)
	if !ok {
		return
	}

	version, err := h.ruleService.GetLatestVersion(r.Context(), id)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Error("Failed to get latest rule version", zap.Int64("rule_id", id), zap.Error(err))
		}
		WriteDomainError(w, err, "get_latest_version_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: version}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RestoreVersion handles POST /api/rules/{rid}/versions/restore
func (h *RuleHandler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseRuleID(w, r, h.logger)
	if !ok {
		return
	}

	var req RestoreVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.VersionID <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_error", "versionId is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	version, err := h.ruleService.Restore(r.Context(), id, req.VersionID, req.RestoredBy)
	if err != nil {
		h.logger.Error("Failed to restore rule version",
			zap.Int64("rule_id", id),
			zap.Int64("version_id", req.VersionID),
			zap.Error(err))
		WriteDomainError(w, err, "restore_version_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: version}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// FactTypes handles GET /api/fact-types
func (h *RuleHandler) FactTypes(w http.ResponseWriter, r *http.Request) {
	factTypes, err := h.ruleService.FactTypes(r.Context())
	if err != nil {
		h.logger.Error("Failed to list fact types", zap.Error(err))
		WriteDomainError(w, err, "list_fact_types_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: FactTypeListResponse{FactTypes: factTypes}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

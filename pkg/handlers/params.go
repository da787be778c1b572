package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// ParseRuleID extracts and validates the rule ID from the request path.
// Returns the parsed id and true on success, or 0 and false on error
// (after writing an error response).
// Expects path parameter: rid
func ParseRuleID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseID(w, r, "rid", "invalid_rule_id", "Invalid rule ID format", logger)
}

// ParseChangeRequestID extracts and validates the change request ID from the
// request path.
// Expects path parameter: crid
func ParseChangeRequestID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseID(w, r, "crid", "invalid_change_request_id", "Invalid change request ID format", logger)
}

func parseID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (int64, bool) {
	idStr := r.PathValue(pathParam)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

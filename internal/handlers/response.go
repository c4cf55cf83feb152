package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"documerge/internal/models"
	"documerge/internal/storage"

	"github.com/gin-gonic/gin"
)

// SessionHeader carries the wizard session used to drop stale requests.
const SessionHeader = "X-Wizard-Session"

// statusClientClosedRequest is nginx's code for a caller that went away.
const statusClientClosedRequest = 499

type ErrorBody struct {
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Fields    []models.FieldError `json:"fields,omitempty"`
	Retryable bool                `json:"retryable,omitempty"`
}

// ErrorStatus maps an error to its HTTP status and response body.
func ErrorStatus(err error) (int, ErrorBody) {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		code := "validation_error"
		if errors.Is(err, models.ErrConfiguration) {
			code = "configuration_error"
		}
		return http.StatusBadRequest, ErrorBody{Code: code, Message: err.Error(), Fields: ve.Errors}
	}

	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, ErrorBody{Code: "validation_error", Message: err.Error()}
	case errors.Is(err, models.ErrConfiguration):
		return http.StatusBadRequest, ErrorBody{Code: "configuration_error", Message: err.Error()}
	case errors.Is(err, models.ErrNotFound), errors.Is(err, storage.ErrArtifactNotFound):
		return http.StatusNotFound, ErrorBody{Code: "not_found", Message: err.Error()}
	case errors.Is(err, models.ErrAccessDenied):
		return http.StatusForbidden, ErrorBody{Code: "access_denied", Message: err.Error()}
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, ErrorBody{Code: "invalid_transition", Message: err.Error()}
	case errors.Is(err, models.ErrStaleRequest):
		return http.StatusConflict, ErrorBody{Code: "stale_request", Message: err.Error()}
	case errors.Is(err, models.ErrNoPlaceholders):
		return http.StatusUnprocessableEntity, ErrorBody{Code: "no_placeholders", Message: err.Error()}
	case errors.Is(err, models.ErrExternalService):
		return http.StatusBadGateway, ErrorBody{Code: "external_service_error", Message: err.Error(), Retryable: true}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorBody{Code: "timeout", Message: "request timed out", Retryable: true}
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, ErrorBody{Code: "cancelled", Message: "request cancelled"}
	default:
		return http.StatusInternalServerError, ErrorBody{Code: "internal_error", Message: "internal server error"}
	}
}

// respondError writes the error envelope and records err on the context
// for the request logger.
func respondError(c *gin.Context, err error) {
	respondErrorWith(c, err, nil)
}

func respondErrorWith(c *gin.Context, err error, extra gin.H) {
	_ = c.Error(err)
	status, body := ErrorStatus(err)
	resp := gin.H{"error": body}
	for k, v := range extra {
		resp[k] = v
	}
	c.AbortWithStatusJSON(status, resp)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, models.NewValidationError("body", "invalid request body: "+err.Error()))
		return false
	}
	return true
}

type paging struct {
	Limit  int
	Page   int
	Offset int
}

func parsePaging(c *gin.Context, defaultLimit, maxLimit int) paging {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}
	return paging{Limit: limit, Page: page, Offset: (page - 1) * limit}
}

func (p paging) totalPages(total int64) int {
	return int((total + int64(p.Limit) - 1) / int64(p.Limit))
}

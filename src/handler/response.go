package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/StartaleGroup/scs-aa-paymasters/src/domain"
)

// StandardResponse represents the standard API response format
type StandardResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// respondWithSuccess sends a successful response with the standard format
func respondWithSuccess(c *gin.Context, data interface{}) {
	respondWithSuccessAndStatus(c, http.StatusOK, data)
}

// respondWithSuccessAndStatus sends a successful response with custom HTTP status
func respondWithSuccessAndStatus(c *gin.Context, httpStatus int, data interface{}, message ...string) {
	msg := "OK"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}

	c.JSON(httpStatus, StandardResponse{
		Code:    0,
		Message: msg,
		Data:    data,
	})
}

// respondWithError sends an error response with the standard format
func respondWithError(c *gin.Context, err error) {
	domainErr := parseDomainError(err)

	// Fall back to the raw error when no client message is set
	message := domainErr.ClientMsg()
	if message == "" {
		message = err.Error()
	}

	response := StandardResponse{
		Code:    mapDomainErrorToCode(domainErr),
		Message: message,
	}
	if detail := domainErr.Detail(); detail != nil {
		response.Error = detail
	}

	ctx := c.Request.Context()
	zerolog.Ctx(ctx).Error().
		Str("function", "respondWithError").
		Int("error_code", response.Code).
		Msg(response.Message)

	_ = c.Error(err)
	c.AbortWithStatusJSON(domainErr.HTTPStatus(), response)
}

// parseDomainError extracts domain error information
func parseDomainError(err error) domain.DomainError {
	var domainError domain.DomainError
	// An empty domain.DomainError already maps to the internal-error
	// defaults, so the errors.As result is not checked.
	_ = errors.As(err, &domainError)
	return domainError
}

// mapDomainErrorToCode maps domain error codes to API response codes
func mapDomainErrorToCode(domainErr domain.DomainError) int {
	switch domainErr.Name() {
	case "PARAMETER_INVALID":
		return 1001
	case "RESOURCE_NOT_FOUND":
		return 1002
	case "AUTH_PERMISSION_DENIED":
		return 1003
	case "AUTH_NOT_AUTHENTICATED":
		return 1004
	case "INTERNAL_PROCESS":
		return 1005
	case "REMOTE_PROCESS_ERROR":
		return 1006
	default:
		return 1000 // Generic error code
	}
}

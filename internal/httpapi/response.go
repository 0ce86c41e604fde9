package httpapi

import "github.com/gin-gonic/gin"

// Machine-readable error codes carried in ErrorCode.
const (
	codeInvalidRequest    = "invalid_request"
	codeInvalidInput      = "invalid_input"
	codeEmptySynthesis    = "empty_synthesis_result"
	codeProviderFailure   = "provider_failure"
	codeStorageFailure    = "storage_failure"
	codeInvalidKey        = "invalid_key"
	codeNotFound          = "not_found"
	codeProviderUnhealthy = "provider_unhealthy"
	codeInternal          = "internal_error"
)

// APIResponse is the uniform JSON envelope of every non-audio response.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
}

// RespondSuccess writes a successful envelope.
func RespondSuccess(c *gin.Context, httpStatus int, data any, message string) {
	if message == "" {
		message = "ok"
	}

	c.JSON(httpStatus, APIResponse{
		Success: true,
		Data:    data,
		Message: message,
		Code:    httpStatus,
	})
}

// RespondError writes a failed envelope and stops the handler chain.
func RespondError(c *gin.Context, httpStatus int, errorCode, message string) {
	c.AbortWithStatusJSON(httpStatus, APIResponse{
		Success:   false,
		Message:   message,
		Code:      httpStatus,
		ErrorCode: errorCode,
	})
}

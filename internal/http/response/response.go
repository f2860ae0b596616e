package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAppError writes a coded error with the status of its code. Internal
// errors are logged by the caller and reported without their message.
func RespondAppError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	if code == "" {
		code = apperrors.CodeInternal
	}
	if err != nil {
		_ = c.Error(err)
	}
	status := StatusFor(code)
	if status == http.StatusInternalServerError {
		RespondError(c, status, string(code), errors.New("internal error"))
		return
	}
	RespondError(c, status, string(code), err)
}

func StatusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict:
		return http.StatusConflict
	case apperrors.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case apperrors.CodeRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

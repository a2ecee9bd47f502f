package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orgaccess/internal/ident"
	membershipdomain "github.com/smallbiznis/orgaccess/internal/membership/domain"
	orgdomain "github.com/smallbiznis/orgaccess/internal/organization/domain"
	userdomain "github.com/smallbiznis/orgaccess/internal/user/domain"
	"github.com/smallbiznis/orgaccess/pkg/docstore"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrNotFound           = errors.New("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// mapError is the only place service errors become HTTP statuses.
func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	case errors.Is(err, orgdomain.ErrDuplicateName):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "organization already exists",
		}
	case errors.Is(err, membershipdomain.ErrConcurrentUpdate):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "membership was modified concurrently, retry the request",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ident.ErrInvalidIdentifier),
		errors.Is(err, userdomain.ErrInvalidName),
		errors.Is(err, userdomain.ErrInvalidEmail),
		errors.Is(err, userdomain.ErrInvalidPassword),
		errors.Is(err, orgdomain.ErrInvalidName),
		errors.Is(err, membershipdomain.ErrInvalidAccessLevel):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, userdomain.ErrNotFound),
		errors.Is(err, orgdomain.ErrNotFound),
		errors.Is(err, membershipdomain.ErrMembershipNotFound):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	var userMissing *userdomain.NotFoundError
	var orgMissing *orgdomain.NotFoundError
	switch {
	case errors.As(err, &userMissing):
		return userMissing.Error()
	case errors.As(err, &orgMissing):
		return orgMissing.Error()
	case errors.Is(err, membershipdomain.ErrMembershipNotFound):
		return "user is not a member of the organization"
	default:
		return "not found"
	}
}

func notFoundCode(err error) string {
	switch {
	case errors.Is(err, userdomain.ErrNotFound):
		return userdomain.ErrNotFound.Error()
	case errors.Is(err, orgdomain.ErrNotFound):
		return orgdomain.ErrNotFound.Error()
	case errors.Is(err, membershipdomain.ErrMembershipNotFound):
		return membershipdomain.ErrMembershipNotFound.Error()
	default:
		return ErrNotFound.Error()
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ident.ErrInvalidIdentifier):
		return "invalid_id"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_id":
		return "malformed identifier"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog returns the error type and code the request logger
// records. Store failures are reported by reason only.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if docstore.IsStoreError(err) {
		return "store_error", "store_failure"
	}
	status, payload := mapError(err)
	switch {
	case status == http.StatusBadRequest:
		if len(payload.Errors) > 0 {
			return payload.Type, payload.Errors[0].Code
		}
		return payload.Type, "invalid_request"
	case status == http.StatusNotFound:
		return payload.Type, notFoundCode(err)
	case status == http.StatusConflict:
		return payload.Type, "conflict"
	default:
		return payload.Type, "internal_error"
	}
}

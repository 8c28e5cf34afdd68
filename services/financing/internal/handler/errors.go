package handler

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kyungseok/laptop-financing/common/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// statusFor 도메인 에러 코드 -> HTTP 상태
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidReference,
		errors.ErrCodeInvalidStatus, errors.ErrCodeInvalidAmount:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeIneligible, errors.ErrCodeExceedsBalance:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeUnavailable, errors.ErrCodeDuplicatePending, errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeProviderUnavailable:
		return http.StatusBadGateway
	case errors.ErrCodeTimeoutError:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrCodeUnknownError
	}
	status := statusFor(code)

	message := "internal error"
	var domainErr *errors.DomainError
	if stderrors.As(err, &domainErr) && (status < http.StatusInternalServerError || code == errors.ErrCodeProviderUnavailable) {
		message = domainErr.Message
	}

	fields := []zap.Field{
		zap.String("path", c.FullPath()),
		zap.String("code", string(code)),
		zap.Error(err),
	}
	if errors.IsBusinessError(err) {
		h.logger.Debug("request rejected", fields...)
	} else {
		h.logger.Error("request failed", fields...)
	}

	c.JSON(status, errorResponse{Error: errorBody{Code: string(code), Message: message}})
}

func (h *Handler) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Error: errorBody{Code: string(errors.ErrCodeInvalidInput), Message: message},
	})
}

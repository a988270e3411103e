package handlers

import (
	"errors"
	"net/http"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/agent-svc/app/dto"
	"dockfleet/agent-svc/app/utils"
	"dockfleet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// respondJSON sends a JSON response
func respondJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// respondError maps err onto its HTTP status and error code. Internal errors are logged and hidden.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal("internal server error", err)
	}
	if appErr.Code == apperrors.CodeInternal {
		log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "internal server error",
			Code:  appErr.Code,
		})
		return
	}
	c.JSON(appErr.HTTPStatus, dto.ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

// bindJSON decodes and validates the request body into req
func bindJSON(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return apperrors.Validation("invalid request body: " + err.Error())
	}
	return utils.ValidateStruct(req)
}

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mall-system/internal/apperr"
	"mall-system/internal/gateway/middleware"
)

const requestTimeout = 10 * time.Second

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func successWithMetaResponse(message string, data interface{}, meta interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	}
}

func errorResponse(code, message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
		Error:   code,
	}
}

// HTTPStatus maps an error kind to the status the API answers with.
func HTTPStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState, apperr.KindConflict, apperr.KindInsufficientStock, apperr.KindAborted:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Internal(err, "internal error")
	}

	status := HTTPStatus(ae.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", ae.Code), zap.Error(err))
		_ = c.Error(err)
	}

	resp := errorResponse(ae.Code, ae.Message)
	if ae.Available != nil {
		resp.Data = gin.H{"available": *ae.Available}
	}
	if status >= http.StatusInternalServerError && ae.Kind == apperr.KindInternal {
		resp.Message = "Internal server error"
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse(apperr.CodeValidation, message))
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func parseIDParam(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid "+param)
		return 0, false
	}
	return id, true
}

func currentUser(c *gin.Context) int64 {
	claims, ok := middleware.Claims(c)
	if !ok {
		return 0
	}
	return claims.UserId
}

func currentShop(c *gin.Context) int64 {
	claims, ok := middleware.Claims(c)
	if !ok || claims.ShopId == nil {
		return 0
	}
	return *claims.ShopId
}

func parseInt64Query(c *gin.Context, param string) *int64 {
	str := c.Query(param)
	if str == "" {
		return nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil
	}
	return &val
}

func parseBoolQuery(c *gin.Context, param string) *bool {
	str := c.Query(param)
	if str == "" {
		return nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return nil
	}
	return &val
}

// parseDateQuery accepts RFC 3339 or a bare YYYY-MM-DD date.
func parseDateQuery(c *gin.Context, param string) (*time.Time, error) {
	str := c.Query(param)
	if str == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, str); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", str)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type PageQuery struct {
	Page  int `form:"page,default=1"`
	Limit int `form:"limit,default=10"`
}
